package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow-engine/internal/db"
	"github.com/sells-group/leadflow-engine/internal/model"
)

// pgUniqueViolation is the Postgres error code for a unique constraint hit.
const pgUniqueViolation = "23505"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot path of a run request.
var preparedStatements = map[string]string{
	"get_settings": `SELECT settings FROM leadflow_settings WHERE agent_id = $1`,
	"get_snapshot": `SELECT settings FROM leadflow_snapshots WHERE id = $1 AND agent_id = $2`,
	"insert_idem":  `INSERT INTO lead_idempotency (agent_id, idem_key, status, request_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_idem":     `SELECT agent_id, idem_key, status, request_hash, response_json, error_json, created_at, updated_at FROM lead_idempotency WHERE agent_id = $1 AND idem_key = $2`,
	"insert_usage": `INSERT INTO lead_run_usage (id, agent_id, run_at) VALUES ($1, $2, $3)`,
	"count_usage":  `SELECT COUNT(*) FROM lead_run_usage WHERE agent_id = $1 AND run_at >= $2 AND run_at <= $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests to substitute
// pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leadflow_settings (
	agent_id   TEXT PRIMARY KEY,
	settings   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leadflow_snapshots (
	id         TEXT NOT NULL,
	agent_id   TEXT NOT NULL,
	settings   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, agent_id)
);

CREATE TABLE IF NOT EXISTS lead_idempotency (
	agent_id      TEXT NOT NULL,
	idem_key      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'in_progress',
	request_hash  TEXT,
	response_json JSONB,
	error_json    JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (agent_id, idem_key)
);

CREATE TABLE IF NOT EXISTS lead_run_usage (
	id       TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	run_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_run_usage_agent_run_at ON lead_run_usage(agent_id, run_at);

CREATE TABLE IF NOT EXISTS plans (
	agent_id TEXT PRIMARY KEY,
	plan     TEXT NOT NULL DEFAULT 'free'
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetSettings(ctx context.Context, agentID string) (model.Settings, error) {
	var settingsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT settings FROM leadflow_settings WHERE agent_id = $1`,
		agentID,
	).Scan(&settingsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.createDefaultSettings(ctx, agentID)
	}
	if err != nil {
		return model.Settings{}, eris.Wrapf(err, "postgres: get settings %s", agentID)
	}

	var settings model.Settings
	if err := json.Unmarshal(settingsJSON, &settings); err != nil {
		return model.Settings{}, eris.Wrap(err, "postgres: unmarshal settings")
	}
	return settings, nil
}

// createDefaultSettings inserts the default row on first read. A concurrent
// first read may win the insert; the loser re-reads the stored row.
func (s *PostgresStore) createDefaultSettings(ctx context.Context, agentID string) (model.Settings, error) {
	settings := model.DefaultSettings()
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return model.Settings{}, eris.Wrap(err, "postgres: marshal default settings")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leadflow_settings (agent_id, settings, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (agent_id) DO NOTHING`,
		agentID, settingsJSON, settings.UpdatedAt,
	)
	if err != nil {
		return model.Settings{}, eris.Wrapf(err, "postgres: insert default settings %s", agentID)
	}
	if tag.RowsAffected() == 0 {
		return s.GetSettings(ctx, agentID)
	}
	return settings, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, agentID string, patch model.SettingsPatch) (model.Settings, error) {
	current, err := s.GetSettings(ctx, agentID)
	if err != nil {
		return model.Settings{}, err
	}

	updated := patch.Apply(current)
	settingsJSON, err := json.Marshal(updated)
	if err != nil {
		return model.Settings{}, eris.Wrap(err, "postgres: marshal settings")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leadflow_settings (agent_id, settings, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (agent_id) DO UPDATE SET settings = $2, updated_at = $3`,
		agentID, settingsJSON, updated.UpdatedAt,
	)
	if err != nil {
		return model.Settings{}, eris.Wrapf(err, "postgres: save settings %s", agentID)
	}
	return updated, nil
}

func (s *PostgresStore) CreateSnapshot(ctx context.Context, agentID string, settings model.Settings) (string, error) {
	id := uuid.New().String()
	settingsJSON, err := json.Marshal(EncodeSnapshotSettings(settings))
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal snapshot settings")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leadflow_snapshots (id, agent_id, settings, created_at) VALUES ($1, $2, $3, $4)`,
		id, agentID, settingsJSON, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert snapshot for %s", agentID)
	}
	return id, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, agentID, snapshotID string) (*model.Settings, error) {
	var settingsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT settings FROM leadflow_snapshots WHERE id = $1 AND agent_id = $2`,
		snapshotID, agentID,
	).Scan(&settingsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", snapshotID)
	}

	var settings model.Settings
	if err := json.Unmarshal(settingsJSON, &settings); err != nil {
		// Corrupt stored payload behaves like a missing snapshot.
		zap.L().Warn("postgres: corrupt snapshot payload",
			zap.String("snapshot_id", snapshotID),
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return nil, nil
	}
	return &settings, nil
}

func (s *PostgresStore) InsertIdempotencyInProgress(ctx context.Context, agentID, key, requestHash string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lead_idempotency (agent_id, idem_key, status, request_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		agentID, key, string(model.IdemInProgress), requestHash, now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateKey
		}
		return eris.Wrapf(err, "postgres: insert idempotency %s", key)
	}
	return nil
}

func (s *PostgresStore) GetIdempotencyRecord(ctx context.Context, agentID, key string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	var requestHash *string
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, idem_key, status, request_hash, response_json, error_json, created_at, updated_at
		 FROM lead_idempotency WHERE agent_id = $1 AND idem_key = $2`,
		agentID, key,
	).Scan(&rec.AgentID, &rec.Key, &rec.Status, &requestHash, &rec.ResponseJSON, &rec.ErrorJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get idempotency %s", key)
	}
	if requestHash != nil {
		rec.RequestHash = *requestHash
	}
	return &rec, nil
}

func (s *PostgresStore) MarkIdempotencySucceeded(ctx context.Context, agentID, key string, response []byte) error {
	return s.finishIdempotency(ctx, agentID, key, model.IdemSucceeded, response, nil)
}

func (s *PostgresStore) MarkIdempotencyFailed(ctx context.Context, agentID, key string, errPayload []byte) error {
	return s.finishIdempotency(ctx, agentID, key, model.IdemFailed, nil, errPayload)
}

// finishIdempotency transitions an in_progress record to its terminal
// state. The status guard keeps terminal records terminal.
func (s *PostgresStore) finishIdempotency(ctx context.Context, agentID, key string, status model.IdemStatus, response, errPayload []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE lead_idempotency
		 SET status = $1, response_json = $2, error_json = $3, updated_at = $4
		 WHERE agent_id = $5 AND idem_key = $6 AND status = $7`,
		string(status), response, errPayload, time.Now().UTC(),
		agentID, key, string(model.IdemInProgress),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark idempotency %s %s", key, status)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("idempotency record not in progress: %s", key)
	}
	return nil
}

func (s *PostgresStore) DeleteIdempotencyRecord(ctx context.Context, agentID, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM lead_idempotency WHERE agent_id = $1 AND idem_key = $2`,
		agentID, key,
	)
	return eris.Wrapf(err, "postgres: delete idempotency %s", key)
}

func (s *PostgresStore) RecordRun(ctx context.Context, agentID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lead_run_usage (id, agent_id, run_at) VALUES ($1, $2, $3)`,
		uuid.New().String(), agentID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record run %s", agentID)
}

func (s *PostgresStore) CountRunsThisMonth(ctx context.Context, agentID string, now time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM lead_run_usage WHERE agent_id = $1 AND run_at >= $2 AND run_at <= $3`,
		agentID, MonthStartUTC(now), now.UTC(),
	).Scan(&count)
	return count, eris.Wrapf(err, "postgres: count runs %s", agentID)
}

func (s *PostgresStore) GetPlan(ctx context.Context, agentID string) (model.Plan, error) {
	var plan string
	err := s.pool.QueryRow(ctx,
		`SELECT plan FROM plans WHERE agent_id = $1`,
		agentID,
	).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PlanFree, nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: get plan %s", agentID)
	}
	return model.Plan(plan), nil
}
