package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"

	"github.com/sells-group/leadflow-engine/internal/model"
)

// SQLite extended result codes for constraint violations. The idempotency
// table's composite primary key reports PRIMARYKEY; a plain unique index
// reports UNIQUE.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leadflow_settings (
	agent_id   TEXT PRIMARY KEY,
	settings   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leadflow_snapshots (
	id         TEXT NOT NULL,
	agent_id   TEXT NOT NULL,
	settings   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (id, agent_id)
);

CREATE TABLE IF NOT EXISTS lead_idempotency (
	agent_id      TEXT NOT NULL,
	idem_key      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'in_progress',
	request_hash  TEXT,
	response_json TEXT,
	error_json    TEXT,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	PRIMARY KEY (agent_id, idem_key)
);

CREATE TABLE IF NOT EXISTS lead_run_usage (
	id       TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	run_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_usage_agent_run_at ON lead_run_usage(agent_id, run_at);

CREATE TABLE IF NOT EXISTS plans (
	agent_id TEXT PRIMARY KEY,
	plan     TEXT NOT NULL DEFAULT 'free'
);
`

// DB exposes the underlying handle for maintenance queries and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetSettings(ctx context.Context, agentID string) (model.Settings, error) {
	var settingsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM leadflow_settings WHERE agent_id = ?`,
		agentID,
	).Scan(&settingsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createDefaultSettings(ctx, agentID)
	}
	if err != nil {
		return model.Settings{}, eris.Wrapf(err, "sqlite: get settings %s", agentID)
	}

	var settings model.Settings
	if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
		return model.Settings{}, eris.Wrap(err, "sqlite: unmarshal settings")
	}
	return settings, nil
}

func (s *SQLiteStore) createDefaultSettings(ctx context.Context, agentID string) (model.Settings, error) {
	settings := model.DefaultSettings()
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return model.Settings{}, eris.Wrap(err, "sqlite: marshal default settings")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leadflow_settings (agent_id, settings, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (agent_id) DO NOTHING`,
		agentID, string(settingsJSON), settings.UpdatedAt,
	)
	if err != nil {
		return model.Settings{}, eris.Wrapf(err, "sqlite: insert default settings %s", agentID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.GetSettings(ctx, agentID)
	}
	return settings, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, agentID string, patch model.SettingsPatch) (model.Settings, error) {
	current, err := s.GetSettings(ctx, agentID)
	if err != nil {
		return model.Settings{}, err
	}

	updated := patch.Apply(current)
	settingsJSON, err := json.Marshal(updated)
	if err != nil {
		return model.Settings{}, eris.Wrap(err, "sqlite: marshal settings")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leadflow_settings (agent_id, settings, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (agent_id) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`,
		agentID, string(settingsJSON), updated.UpdatedAt,
	)
	if err != nil {
		return model.Settings{}, eris.Wrapf(err, "sqlite: save settings %s", agentID)
	}
	return updated, nil
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, agentID string, settings model.Settings) (string, error) {
	id := uuid.New().String()
	settingsJSON, err := json.Marshal(EncodeSnapshotSettings(settings))
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal snapshot settings")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leadflow_snapshots (id, agent_id, settings, created_at) VALUES (?, ?, ?, ?)`,
		id, agentID, string(settingsJSON), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert snapshot for %s", agentID)
	}
	return id, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, agentID, snapshotID string) (*model.Settings, error) {
	var settingsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM leadflow_snapshots WHERE id = ? AND agent_id = ?`,
		snapshotID, agentID,
	).Scan(&settingsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", snapshotID)
	}

	var settings model.Settings
	if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
		zap.L().Warn("sqlite: corrupt snapshot payload",
			zap.String("snapshot_id", snapshotID),
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return nil, nil
	}
	return &settings, nil
}

func (s *SQLiteStore) InsertIdempotencyInProgress(ctx context.Context, agentID, key, requestHash string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_idempotency (agent_id, idem_key, status, request_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		agentID, key, string(model.IdemInProgress), requestHash, now, now,
	)
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) &&
			(liteErr.Code() == sqliteConstraintPrimaryKey || liteErr.Code() == sqliteConstraintUnique) {
			return ErrDuplicateKey
		}
		return eris.Wrapf(err, "sqlite: insert idempotency %s", key)
	}
	return nil
}

func (s *SQLiteStore) GetIdempotencyRecord(ctx context.Context, agentID, key string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	var requestHash, responseJSON, errorJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_id, idem_key, status, request_hash, response_json, error_json, created_at, updated_at
		 FROM lead_idempotency WHERE agent_id = ? AND idem_key = ?`,
		agentID, key,
	).Scan(&rec.AgentID, &rec.Key, &rec.Status, &requestHash, &responseJSON, &errorJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get idempotency %s", key)
	}
	rec.RequestHash = requestHash.String
	if responseJSON.Valid {
		rec.ResponseJSON = []byte(responseJSON.String)
	}
	if errorJSON.Valid {
		rec.ErrorJSON = []byte(errorJSON.String)
	}
	return &rec, nil
}

func (s *SQLiteStore) MarkIdempotencySucceeded(ctx context.Context, agentID, key string, response []byte) error {
	return s.finishIdempotency(ctx, agentID, key, model.IdemSucceeded, response, nil)
}

func (s *SQLiteStore) MarkIdempotencyFailed(ctx context.Context, agentID, key string, errPayload []byte) error {
	return s.finishIdempotency(ctx, agentID, key, model.IdemFailed, nil, errPayload)
}

func (s *SQLiteStore) finishIdempotency(ctx context.Context, agentID, key string, status model.IdemStatus, response, errPayload []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lead_idempotency
		 SET status = ?, response_json = ?, error_json = ?, updated_at = ?
		 WHERE agent_id = ? AND idem_key = ? AND status = ?`,
		string(status), nullableString(response), nullableString(errPayload), time.Now().UTC(),
		agentID, key, string(model.IdemInProgress),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark idempotency %s %s", key, status)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("idempotency record not in progress: %s", key)
	}
	return nil
}

func (s *SQLiteStore) DeleteIdempotencyRecord(ctx context.Context, agentID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM lead_idempotency WHERE agent_id = ? AND idem_key = ?`,
		agentID, key,
	)
	return eris.Wrapf(err, "sqlite: delete idempotency %s", key)
}

func (s *SQLiteStore) RecordRun(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_run_usage (id, agent_id, run_at) VALUES (?, ?, ?)`,
		uuid.New().String(), agentID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record run %s", agentID)
}

func (s *SQLiteStore) CountRunsThisMonth(ctx context.Context, agentID string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lead_run_usage WHERE agent_id = ? AND run_at >= ? AND run_at <= ?`,
		agentID, MonthStartUTC(now), now.UTC(),
	).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: count runs %s", agentID)
}

func (s *SQLiteStore) GetPlan(ctx context.Context, agentID string) (model.Plan, error) {
	var plan string
	err := s.db.QueryRowContext(ctx,
		`SELECT plan FROM plans WHERE agent_id = ?`,
		agentID,
	).Scan(&plan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PlanFree, nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get plan %s", agentID)
	}
	return model.Plan(plan), nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
