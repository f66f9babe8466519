package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadflow-engine/internal/idempotency"
	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/notify"
	"github.com/sells-group/leadflow-engine/internal/quota"
	"github.com/sells-group/leadflow-engine/internal/rules"
	"github.com/sells-group/leadflow-engine/internal/scoring"
	"github.com/sells-group/leadflow-engine/internal/store"
	"github.com/sells-group/leadflow-engine/pkg/crm"
)

// Engine executes run requests: simulated runs against live or inline
// settings with no side effects, and real runs with snapshot-pinned
// settings, quota enforcement, idempotency and CRM sync.
type Engine struct {
	rules    rules.Config
	store    store.Store
	crm      crm.CRM
	guard    *idempotency.Guard
	quota    *quota.Counter
	notifier notify.Notifier
}

// New builds an Engine. crmClient may be nil when no CRM integration is
// configured; real runs then fail with MISSING_INTEGRATION. notifier may be
// nil.
func New(cfg rules.Config, st store.Store, crmClient crm.CRM, notifier notify.Notifier, freeRunsPerMonth int) *Engine {
	return &Engine{
		rules:    cfg,
		store:    st,
		crm:      crmClient,
		guard:    idempotency.New(st),
		quota:    quota.New(st, freeRunsPerMonth),
		notifier: notifier,
	}
}

// Execute runs a request to completion and returns the serialized success
// payload or a classified error. The payload is raw JSON so idempotent
// replays return the stored bytes verbatim (plus the replay marker).
func (e *Engine) Execute(ctx context.Context, req model.RunRequest, idempotencyKey string) (json.RawMessage, *model.RunError) {
	req.AgentID = model.NormalizeAgentID(req.AgentID)

	if runErr := validateRequest(req); runErr != nil {
		return nil, runErr
	}
	if req.Simulate {
		return e.simulate(ctx, req)
	}
	return e.executeReal(ctx, req, idempotencyKey)
}

func validateRequest(req model.RunRequest) *model.RunError {
	if req.AgentID == "" {
		return model.NewRunError(model.ErrInvalidInput, "agentId is required")
	}
	if len(req.Leads) == 0 {
		return model.NewRunError(model.ErrInvalidInput, "leads must not be empty")
	}
	if !req.Source.Valid() {
		return model.NewRunError(model.ErrInvalidInput,
			fmt.Sprintf("source must be %q or %q", model.SourceHubSpot, model.SourceCSV))
	}
	return nil
}

// simulate processes leads with the inline settings override or live
// settings. No CRM calls, no usage counting, no idempotency record.
func (e *Engine) simulate(ctx context.Context, req model.RunRequest) (json.RawMessage, *model.RunError) {
	var settings model.Settings
	if req.Settings != nil {
		settings = *req.Settings
	} else {
		s, err := e.store.GetSettings(ctx, req.AgentID)
		if err != nil {
			zap.L().Error("engine: load settings for simulated run",
				zap.String("agent_id", req.AgentID), zap.Error(err))
			return nil, model.NewRunError(model.ErrEngineFailure, "failed to load settings")
		}
		settings = s
	}

	result := e.processAll(req, settings)
	result.Simulated = true

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, model.NewRunError(model.ErrEngineFailure, "failed to serialize run result")
	}
	return payload, nil
}

func (e *Engine) executeReal(ctx context.Context, req model.RunRequest, idempotencyKey string) (json.RawMessage, *model.RunError) {
	log := zap.L().With(zap.String("agent_id", req.AgentID))

	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, model.NewRunError(model.ErrInvalidInput, "an idempotency key is required for non-simulated runs")
	}
	if req.SettingsSnapshotID == "" {
		return nil, model.NewRunError(model.ErrInvalidInput, "settingsSnapshotId is required for non-simulated runs")
	}

	// An existing record for this key settles the request before any
	// run-level gate: a replay re-executes nothing, so it must not be
	// blocked by quota or integration state.
	existing, err := e.guard.Peek(ctx, req.AgentID, idempotencyKey)
	if err != nil {
		log.Error("engine: idempotency lookup", zap.Error(err))
		return nil, model.NewRunError(model.ErrEngineFailure, "failed to check idempotency key")
	}
	if existing != nil {
		if existing.Conflict != nil {
			return nil, existing.Conflict
		}
		log.Info("engine: replaying stored run result", zap.String("idempotency_key", idempotencyKey))
		return existing.Replay, nil
	}

	if e.crm == nil {
		return nil, model.NewRunError(model.ErrMissingIntegration, "no CRM integration is configured")
	}

	settings, err := e.store.GetSnapshot(ctx, req.AgentID, req.SettingsSnapshotID)
	if err != nil {
		log.Error("engine: load settings snapshot", zap.Error(err))
		return nil, model.NewRunError(model.ErrEngineFailure, "failed to load settings snapshot")
	}
	if settings == nil {
		return nil, model.NewRunError(model.ErrInvalidInput,
			fmt.Sprintf("settings snapshot %s not found", req.SettingsSnapshotID))
	}
	if !settings.IsEnabled {
		return nil, model.NewRunError(model.ErrInvalidInput, "lead flow autopilot is disabled for this agent")
	}

	if quotaErr, err := e.quota.Check(ctx, req.AgentID, time.Now()); err != nil {
		log.Error("engine: quota check", zap.Error(err))
		return nil, model.NewRunError(model.ErrEngineFailure, "failed to check run quota")
	} else if quotaErr != nil {
		return nil, quotaErr
	}

	begin, err := e.guard.Begin(ctx, req.AgentID, idempotencyKey, idempotency.HashRequest(req))
	if err != nil {
		log.Error("engine: idempotency begin", zap.Error(err))
		return nil, model.NewRunError(model.ErrEngineFailure, "failed to claim idempotency key")
	}
	if begin.Conflict != nil {
		return nil, begin.Conflict
	}
	if begin.Replay != nil {
		log.Info("engine: replaying stored run result", zap.String("idempotency_key", idempotencyKey))
		return begin.Replay, nil
	}

	// This request owns the key. From here the run executes to completion
	// and the record is finalized exactly once, best-effort.
	result, runErr := e.runOwned(ctx, req, *settings)
	if runErr != nil {
		e.guard.Fail(ctx, req.AgentID, idempotencyKey, runErr)
		e.notifyFailed(ctx, req.AgentID, runErr)
		return nil, runErr
	}

	payload, err := json.Marshal(result)
	if err != nil {
		runErr := model.NewRunError(model.ErrEngineFailure, "failed to serialize run result")
		e.guard.Fail(ctx, req.AgentID, idempotencyKey, runErr)
		return nil, runErr
	}

	e.guard.Succeed(ctx, req.AgentID, idempotencyKey, payload)
	e.quota.Record(ctx, req.AgentID)
	e.notifyCompleted(ctx, req.AgentID, result.Summary)

	log.Info("engine: run complete",
		zap.Int("leads", result.Summary.InboundLeadsProcessed),
		zap.Int("qualified", result.Summary.QualifiedLeads),
	)
	return payload, nil
}

// runOwned processes the leads and syncs each to the CRM. A panic anywhere
// in the lead loop becomes an ENGINE_FAILURE so the idempotency record
// still reaches a terminal state.
func (e *Engine) runOwned(ctx context.Context, req model.RunRequest, settings model.Settings) (result *model.RunResult, runErr *model.RunError) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("engine: panic during run",
				zap.String("agent_id", req.AgentID), zap.Any("panic", r))
			result = nil
			runErr = model.NewRunError(model.ErrEngineFailure, "internal error during run execution")
		}
	}()

	result = e.processAll(req, settings)
	result.SettingsSnapshotID = req.SettingsSnapshotID

	counters := &model.CRMSyncCounters{}
	for _, lead := range result.Leads {
		e.syncLead(ctx, req.AgentID, lead, counters)
	}
	result.CRMSync = counters

	return result, nil
}

// processAll runs the per-lead pipeline sequentially, in input order, so
// the actions log and summary are deterministic.
func (e *Engine) processAll(req model.RunRequest, settings model.Settings) *model.RunResult {
	processor := NewProcessor(e.rules, scoring.EngineScorer{})

	results := make([]model.ProcessResult, 0, len(req.Leads))
	for _, lead := range req.Leads {
		results = append(results, processor.Process(lead, settings))
	}

	return &model.RunResult{
		Summary: BuildSummary(results, e.rules, MeetingsAllQualified),
		Leads:   results,
	}
}

// syncLead pushes one lead's contact, tasks and deal to the CRM. Each call
// is independently caught: a failure is logged, under-counts the sync
// summary, and never aborts the rest of the run.
func (e *Engine) syncLead(ctx context.Context, agentID string, lead model.ProcessResult, counters *model.CRMSyncCounters) {
	log := zap.L().With(
		zap.String("agent_id", agentID),
		zap.String("lead", lead.EnrichedLead.NormalizedEmail),
	)

	if _, err := e.crm.UpsertContact(ctx, contactFields(lead.EnrichedLead)); err != nil {
		log.Warn("engine: crm contact sync failed", zap.Error(err))
	} else {
		counters.ContactsSynced++
	}

	if len(lead.Tasks) > 0 {
		if err := e.crm.CreateTasks(ctx, crmTasks(lead.Tasks)); err != nil {
			log.Warn("engine: crm task sync failed", zap.Error(err))
		} else {
			counters.TasksCreated += len(lead.Tasks)
		}
	}

	if lead.Deal != nil {
		if _, err := e.crm.CreateDeal(ctx, crmDeal(*lead.Deal)); err != nil {
			log.Warn("engine: crm deal sync failed", zap.Error(err))
		} else {
			counters.DealsCreated++
		}
	}
}

func (e *Engine) notifyCompleted(ctx context.Context, agentID string, summary model.RunSummary) {
	if e.notifier != nil {
		e.notifier.RunCompleted(ctx, agentID, summary)
	}
}

func (e *Engine) notifyFailed(ctx context.Context, agentID string, runErr *model.RunError) {
	if e.notifier != nil {
		e.notifier.RunFailed(ctx, agentID, runErr)
	}
}

func contactFields(lead model.EnrichedLead) map[string]any {
	fields := map[string]any{
		"email":     lead.NormalizedEmail,
		"firstName": lead.FirstName,
		"lastName":  lead.LastName,
		"company":   lead.Company,
		"jobTitle":  lead.JobTitle,
		"source":    lead.Source,
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}

func crmTasks(tasks []model.Task) []crm.Task {
	out := make([]crm.Task, len(tasks))
	for i, t := range tasks {
		out[i] = crm.Task{
			Title:       t.Title,
			Description: t.Description,
			DueInDays:   t.DueInDays,
			Owner:       t.Owner,
		}
	}
	return out
}

func crmDeal(d model.Deal) crm.Deal {
	return crm.Deal{
		Name:     d.Name,
		Amount:   d.Amount,
		Stage:    d.Stage,
		Pipeline: d.Pipeline,
	}
}
