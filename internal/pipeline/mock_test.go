package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/store"
)

// memStore is an in-memory Store for engine tests. It honors the same
// contracts as the real drivers, in particular the atomic insert-or-detect
// on idempotency keys.
type memStore struct {
	mu        sync.Mutex
	settings  map[string]model.Settings
	snapshots map[string]model.Settings // key agentID+"/"+snapshotID
	idem      map[string]*model.IdempotencyRecord
	runs      map[string]int
	plans     map[string]model.Plan

	// error hooks
	getPlanErr     error
	getSettingsErr error
	insertIdemErr  error
}

func newMemStore() *memStore {
	return &memStore{
		settings:  map[string]model.Settings{},
		snapshots: map[string]model.Settings{},
		idem:      map[string]*model.IdempotencyRecord{},
		runs:      map[string]int{},
		plans:     map[string]model.Plan{},
	}
}

func (m *memStore) GetSettings(_ context.Context, agentID string) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getSettingsErr != nil {
		return model.Settings{}, m.getSettingsErr
	}
	if s, ok := m.settings[agentID]; ok {
		return s, nil
	}
	s := model.DefaultSettings()
	m.settings[agentID] = s
	return s, nil
}

func (m *memStore) SaveSettings(_ context.Context, agentID string, patch model.SettingsPatch) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base, ok := m.settings[agentID]
	if !ok {
		base = model.DefaultSettings()
	}
	updated := patch.Apply(base)
	m.settings[agentID] = updated
	return updated, nil
}

func (m *memStore) CreateSnapshot(_ context.Context, agentID string, settings model.Settings) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.snapshots[agentID+"/"+id] = settings
	return id, nil
}

func (m *memStore) GetSnapshot(_ context.Context, agentID, snapshotID string) (*model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.snapshots[agentID+"/"+snapshotID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *memStore) InsertIdempotencyInProgress(_ context.Context, agentID, key, requestHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertIdemErr != nil {
		return m.insertIdemErr
	}
	k := agentID + "/" + key
	if _, ok := m.idem[k]; ok {
		return store.ErrDuplicateKey
	}
	now := time.Now().UTC()
	m.idem[k] = &model.IdempotencyRecord{
		AgentID:     agentID,
		Key:         key,
		Status:      model.IdemInProgress,
		RequestHash: requestHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (m *memStore) GetIdempotencyRecord(_ context.Context, agentID, key string) (*model.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idem[agentID+"/"+key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) MarkIdempotencySucceeded(_ context.Context, agentID, key string, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idem[agentID+"/"+key]
	if !ok || rec.Status != model.IdemInProgress {
		return nil
	}
	rec.Status = model.IdemSucceeded
	rec.ResponseJSON = response
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) MarkIdempotencyFailed(_ context.Context, agentID, key string, errPayload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idem[agentID+"/"+key]
	if !ok || rec.Status != model.IdemInProgress {
		return nil
	}
	rec.Status = model.IdemFailed
	rec.ErrorJSON = errPayload
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) DeleteIdempotencyRecord(_ context.Context, agentID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idem, agentID+"/"+key)
	return nil
}

func (m *memStore) RecordRun(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[agentID]++
	return nil
}

func (m *memStore) CountRunsThisMonth(_ context.Context, agentID string, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[agentID], nil
}

func (m *memStore) GetPlan(_ context.Context, agentID string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getPlanErr != nil {
		return "", m.getPlanErr
	}
	if p, ok := m.plans[agentID]; ok {
		return p, nil
	}
	return model.PlanFree, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Ping(context.Context) error    { return nil }
func (m *memStore) Close() error                  { return nil }

var _ store.Store = (*memStore)(nil)
