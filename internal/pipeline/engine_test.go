package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/rules"
	"github.com/sells-group/leadflow-engine/pkg/crm"
)

func testLeads() []model.RawLead {
	return []model.RawLead{
		{Email: "jane@acme.com", FirstName: "jane", LastName: "doe", Company: "Acme", JobTitle: "VP Sales", Source: "webinar"},
		{Company: "Lone Corp"},
	}
}

type engineFixture struct {
	engine *Engine
	store  *memStore
	crm    *crm.Mock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	st := newMemStore()
	mock := crm.NewMock()
	return &engineFixture{
		engine: New(rules.Default(), st, mock, nil, 3),
		store:  st,
		crm:    mock,
	}
}

// snapshotFor freezes the agent's current settings and returns the ID.
func (f *engineFixture) snapshotFor(t *testing.T, agentID string) string {
	t.Helper()
	ctx := context.Background()
	settings, err := f.store.GetSettings(ctx, agentID)
	require.NoError(t, err)
	id, err := f.store.CreateSnapshot(ctx, agentID, settings)
	require.NoError(t, err)
	return id
}

func decodeResult(t *testing.T, payload json.RawMessage) model.RunResult {
	t.Helper()
	var result model.RunResult
	require.NoError(t, json.Unmarshal(payload, &result))
	return result
}

func TestExecuteRealRun(t *testing.T) {
	f := newEngineFixture(t)
	snapID := f.snapshotFor(t, "agent-1")

	req := model.RunRequest{
		AgentID:            "Agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}

	payload, runErr := f.engine.Execute(context.Background(), req, "key-1")
	require.Nil(t, runErr)

	result := decodeResult(t, payload)
	assert.Equal(t, 2, result.Summary.InboundLeadsProcessed)
	assert.Equal(t, 1, result.Summary.QualifiedLeads)
	assert.Equal(t, 1, result.Summary.MeetingsBooked)
	assert.Equal(t, snapID, result.SettingsSnapshotID)
	assert.False(t, result.Simulated)
	assert.False(t, result.IdempotencyReplayed)

	require.NotNil(t, result.CRMSync)
	assert.Equal(t, 2, result.CRMSync.ContactsSynced)
	assert.Equal(t, 2, result.CRMSync.TasksCreated) // only the qualified lead derives tasks
	assert.Equal(t, 1, result.CRMSync.DealsCreated)

	// usage recorded, record terminal
	used, err := f.store.CountRunsThisMonth(context.Background(), "agent-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	rec, err := f.store.GetIdempotencyRecord(context.Background(), "agent-1", "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.IdemSucceeded, rec.Status)
}

func TestExecuteValidation(t *testing.T) {
	f := newEngineFixture(t)

	tests := []struct {
		name string
		req  model.RunRequest
		key  string
	}{
		{"missing agent", model.RunRequest{Source: model.SourceCSV, Leads: testLeads()}, "k"},
		{"no leads", model.RunRequest{AgentID: "a", Source: model.SourceCSV}, "k"},
		{"bad source", model.RunRequest{AgentID: "a", Source: "fax", Leads: testLeads()}, "k"},
		{"missing key", model.RunRequest{AgentID: "a", Source: model.SourceCSV, Leads: testLeads(), SettingsSnapshotID: "s"}, "  "},
		{"missing snapshot id", model.RunRequest{AgentID: "a", Source: model.SourceCSV, Leads: testLeads()}, "k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, runErr := f.engine.Execute(context.Background(), tt.req, tt.key)
			require.NotNil(t, runErr)
			assert.Equal(t, model.ErrInvalidInput, runErr.Code)
		})
	}
}

func TestExecuteUnknownSnapshot(t *testing.T) {
	f := newEngineFixture(t)

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: "no-such-snapshot",
		Leads:              testLeads(),
	}
	_, runErr := f.engine.Execute(context.Background(), req, "key-1")
	require.NotNil(t, runErr)
	assert.Equal(t, model.ErrInvalidInput, runErr.Code)
}

func TestExecuteMissingIntegration(t *testing.T) {
	st := newMemStore()
	engine := New(rules.Default(), st, nil, nil, 3)

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: "snap",
		Leads:              testLeads(),
	}
	_, runErr := engine.Execute(context.Background(), req, "key-1")
	require.NotNil(t, runErr)
	assert.Equal(t, model.ErrMissingIntegration, runErr.Code)
}

func TestExecuteDisabledAgent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	disabled := false
	_, err := f.store.SaveSettings(ctx, "agent-1", model.SettingsPatch{IsEnabled: &disabled})
	require.NoError(t, err)
	snapID := f.snapshotFor(t, "agent-1")

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}
	_, runErr := f.engine.Execute(ctx, req, "key-1")
	require.NotNil(t, runErr)
	assert.Equal(t, model.ErrInvalidInput, runErr.Code)
}

func TestExecuteQuotaExhausted(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	snapID := f.snapshotFor(t, "agent-1")

	run := func(key string) *model.RunError {
		req := model.RunRequest{
			AgentID:            "agent-1",
			Source:             model.SourceCSV,
			SettingsSnapshotID: snapID,
			Leads:              testLeads(),
		}
		_, runErr := f.engine.Execute(ctx, req, key)
		return runErr
	}

	require.Nil(t, run("k1"))
	require.Nil(t, run("k2"))
	require.Nil(t, run("k3"))

	runErr := run("k4")
	require.NotNil(t, runErr)
	assert.Equal(t, model.ErrRateLimited, runErr.Code)
	assert.Equal(t, 3, runErr.Details["used"])
}

// A replay re-executes nothing, so an exhausted quota must not block it.
func TestExecuteReplayAfterQuotaExhausted(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	snapID := f.snapshotFor(t, "agent-1")

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}

	var first json.RawMessage
	for _, key := range []string{"k1", "k2", "k3"} {
		payload, runErr := f.engine.Execute(ctx, req, key)
		require.Nil(t, runErr)
		if key == "k1" {
			first = payload
		}
	}

	// cap filled: a fresh key is still rejected
	_, runErr := f.engine.Execute(ctx, req, "k4")
	require.NotNil(t, runErr)
	assert.Equal(t, model.ErrRateLimited, runErr.Code)

	// but a key that already succeeded replays the stored payload
	payload, runErr := f.engine.Execute(ctx, req, "k1")
	require.Nil(t, runErr)
	replay := decodeResult(t, payload)
	assert.True(t, replay.IdempotencyReplayed)

	firstResult := decodeResult(t, first)
	replay.IdempotencyReplayed = false
	assert.Equal(t, firstResult, replay)

	// and a key whose prior attempt failed still reports the conflict
	require.NoError(t, f.store.InsertIdempotencyInProgress(ctx, "agent-1", "k-failed", "h"))
	require.NoError(t, f.store.MarkIdempotencyFailed(ctx, "agent-1", "k-failed", []byte(`{"message":"boom"}`)))
	_, runErr = f.engine.Execute(ctx, req, "k-failed")
	require.NotNil(t, runErr)
	assert.Equal(t, model.ErrIdempotencyReplay, runErr.Code)

	// the replay neither re-synced nor re-counted
	contacts, _, _ := f.crm.Counts()
	assert.Equal(t, 6, contacts)
	used, err := f.store.CountRunsThisMonth(ctx, "agent-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, used)
}

func TestExecuteQuotaIgnoresPaidPlans(t *testing.T) {
	f := newEngineFixture(t)
	f.store.plans["agent-1"] = model.PlanPro
	snapID := f.snapshotFor(t, "agent-1")

	for i := 0; i < 5; i++ {
		req := model.RunRequest{
			AgentID:            "agent-1",
			Source:             model.SourceCSV,
			SettingsSnapshotID: snapID,
			Leads:              testLeads(),
		}
		_, runErr := f.engine.Execute(context.Background(), req, "key-"+string(rune('a'+i)))
		require.Nil(t, runErr)
	}
}

func TestExecuteIdempotentReplay(t *testing.T) {
	f := newEngineFixture(t)
	snapID := f.snapshotFor(t, "agent-1")

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}

	first, runErr := f.engine.Execute(context.Background(), req, "key-1")
	require.Nil(t, runErr)

	second, runErr := f.engine.Execute(context.Background(), req, "key-1")
	require.Nil(t, runErr)

	firstResult := decodeResult(t, first)
	secondResult := decodeResult(t, second)

	assert.False(t, firstResult.IdempotencyReplayed)
	assert.True(t, secondResult.IdempotencyReplayed)

	secondResult.IdempotencyReplayed = false
	assert.Equal(t, firstResult, secondResult)

	// the replay must not re-sync or re-count
	contacts, _, _ := f.crm.Counts()
	assert.Equal(t, 2, contacts)
	used, err := f.store.CountRunsThisMonth(context.Background(), "agent-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestExecuteInProgressConflict(t *testing.T) {
	f := newEngineFixture(t)
	snapID := f.snapshotFor(t, "agent-1")

	require.NoError(t, f.store.InsertIdempotencyInProgress(context.Background(), "agent-1", "key-1", "h"))

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}
	_, runErr := f.engine.Execute(context.Background(), req, "key-1")
	require.NotNil(t, runErr)
	assert.Equal(t, model.ErrInProgress, runErr.Code)
	assert.True(t, runErr.Retryable)
}

func TestExecuteFailedKeyIsNotReusable(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	snapID := f.snapshotFor(t, "agent-1")

	require.NoError(t, f.store.InsertIdempotencyInProgress(ctx, "agent-1", "key-1", "h"))
	require.NoError(t, f.store.MarkIdempotencyFailed(ctx, "agent-1", "key-1", []byte(`{"message":"boom"}`)))

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}
	_, runErr := f.engine.Execute(ctx, req, "key-1")
	require.NotNil(t, runErr)
	assert.Equal(t, model.ErrIdempotencyReplay, runErr.Code)
	assert.False(t, runErr.Retryable)
}

// Concurrent duplicates: exactly one caller owns the execution; the others
// get either the replayed result or the in-progress conflict.
func TestExecuteConcurrentDuplicates(t *testing.T) {
	f := newEngineFixture(t)
	snapID := f.snapshotFor(t, "agent-1")

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, replayed, inProgress := 0, 0, 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, runErr := f.engine.Execute(context.Background(), req, "key-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case runErr == nil && decodeResult(t, payload).IdempotencyReplayed:
				replayed++
			case runErr == nil:
				succeeded++
			case runErr.Code == model.ErrInProgress:
				inProgress++
			default:
				t.Errorf("unexpected error: %v", runErr)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n, succeeded+replayed+inProgress)

	// only the owner synced and counted
	contacts, _, _ := f.crm.Counts()
	assert.Equal(t, 2, contacts)
	used, err := f.store.CountRunsThisMonth(context.Background(), "agent-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestExecuteSimulatedRun(t *testing.T) {
	f := newEngineFixture(t)

	req := model.RunRequest{
		AgentID:  "agent-1",
		Source:   model.SourceHubSpot,
		Simulate: true,
		Leads:    testLeads(),
	}

	payload, runErr := f.engine.Execute(context.Background(), req, "")
	require.Nil(t, runErr)

	result := decodeResult(t, payload)
	assert.True(t, result.Simulated)
	assert.Nil(t, result.CRMSync)
	assert.Empty(t, result.SettingsSnapshotID)

	// no side effects at all
	contacts, tasks, deals := f.crm.Counts()
	assert.Zero(t, contacts+tasks+deals)
	used, err := f.store.CountRunsThisMonth(context.Background(), "agent-1", time.Now())
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestExecuteSimulatedRunInlineSettings(t *testing.T) {
	f := newEngineFixture(t)

	inline := model.DefaultSettings()
	inline.QualificationScoreThreshold = 95 // nothing qualifies

	req := model.RunRequest{
		AgentID:  "agent-1",
		Source:   model.SourceCSV,
		Simulate: true,
		Leads:    testLeads(),
		Settings: &inline,
	}

	payload, runErr := f.engine.Execute(context.Background(), req, "")
	require.Nil(t, runErr)
	assert.Zero(t, decodeResult(t, payload).Summary.QualifiedLeads)
}

// CRM failures degrade the sync counters but never fail the run.
func TestExecuteCRMFailureIsolation(t *testing.T) {
	f := newEngineFixture(t)
	f.crm.CreateDealErr = eris.New("salesforce down")
	snapID := f.snapshotFor(t, "agent-1")

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}

	payload, runErr := f.engine.Execute(context.Background(), req, "key-1")
	require.Nil(t, runErr)

	result := decodeResult(t, payload)
	assert.Equal(t, 2, result.CRMSync.ContactsSynced)
	assert.Equal(t, 2, result.CRMSync.TasksCreated)
	assert.Zero(t, result.CRMSync.DealsCreated)
}

// A snapshot pins behavior: editing live settings after the snapshot does
// not change a run executed against it.
func TestExecuteSnapshotPinsSettings(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	snapID := f.snapshotFor(t, "agent-1")

	threshold := 95
	_, err := f.store.SaveSettings(ctx, "agent-1", model.SettingsPatch{QualificationScoreThreshold: &threshold})
	require.NoError(t, err)

	req := model.RunRequest{
		AgentID:            "agent-1",
		Source:             model.SourceCSV,
		SettingsSnapshotID: snapID,
		Leads:              testLeads(),
	}
	payload, runErr := f.engine.Execute(ctx, req, "key-1")
	require.Nil(t, runErr)

	// snapshot threshold was 60, so the strong lead still qualifies
	assert.Equal(t, 1, decodeResult(t, payload).Summary.QualifiedLeads)
}
