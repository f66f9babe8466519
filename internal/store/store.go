// Package store persists tenant settings, settings snapshots, idempotency
// records, run usage and plans behind one interface with Postgres and
// SQLite drivers.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow-engine/internal/model"
)

// ErrDuplicateKey is returned by InsertIdempotencyInProgress when a record
// for the (agentID, key) pair already exists. The storage layer's unique
// constraint is the detection mechanism, not an application-level
// check-then-act.
var ErrDuplicateKey = eris.New("store: duplicate idempotency key")

// Store is the persistence interface for the run engine. All identifiers
// are pre-normalized agent IDs; the idempotency and usage tables are the
// only shared mutable state and are reached exclusively through these
// narrow operations.
type Store interface {
	// Settings. GetSettings creates the default row on first read and
	// never fails with "not found".
	GetSettings(ctx context.Context, agentID string) (model.Settings, error)
	SaveSettings(ctx context.Context, agentID string, patch model.SettingsPatch) (model.Settings, error)

	// Snapshots. GetSnapshot returns nil when no row matches the
	// (snapshotID, agentID) pair or the stored payload fails to decode.
	CreateSnapshot(ctx context.Context, agentID string, settings model.Settings) (string, error)
	GetSnapshot(ctx context.Context, agentID, snapshotID string) (*model.Settings, error)

	// Idempotency records.
	InsertIdempotencyInProgress(ctx context.Context, agentID, key, requestHash string) error
	GetIdempotencyRecord(ctx context.Context, agentID, key string) (*model.IdempotencyRecord, error)
	MarkIdempotencySucceeded(ctx context.Context, agentID, key string, response []byte) error
	MarkIdempotencyFailed(ctx context.Context, agentID, key string, errPayload []byte) error
	DeleteIdempotencyRecord(ctx context.Context, agentID, key string) error

	// Run usage and plans.
	RecordRun(ctx context.Context, agentID string) error
	CountRunsThisMonth(ctx context.Context, agentID string, now time.Time) (int, error)
	GetPlan(ctx context.Context, agentID string) (model.Plan, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// MonthStartUTC returns 00:00:00 UTC on the first of now's UTC month, the
// lower bound of "this month" for quota counting.
func MonthStartUTC(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EncodeSnapshotSettings serializes settings for snapshot storage with
// UpdatedAt normalized to whole-second UTC so stored payloads are stable
// across drivers.
func EncodeSnapshotSettings(settings model.Settings) model.Settings {
	settings.UpdatedAt = settings.UpdatedAt.UTC().Truncate(time.Second)
	return settings
}
