package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow-engine/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresGetSettingsExisting(t *testing.T) {
	st, mock := newMockStore(t)

	settings := model.DefaultSettings()
	settingsJSON, err := json.Marshal(settings)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT settings FROM leadflow_settings`).
		WithArgs("agent-1").
		WillReturnRows(pgxmock.NewRows([]string{"settings"}).AddRow(settingsJSON))

	got, err := st.GetSettings(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, settings.QualificationScoreThreshold, got.QualificationScoreThreshold)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetSettingsCreatesDefault(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT settings FROM leadflow_settings`).
		WithArgs("agent-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO leadflow_settings`).
		WithArgs("agent-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	got, err := st.GetSettings(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, got.IsEnabled)
	assert.Equal(t, 60, got.QualificationScoreThreshold)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// When a concurrent first read wins the default insert, the loser re-reads.
func TestPostgresGetSettingsInsertRace(t *testing.T) {
	st, mock := newMockStore(t)

	stored := model.DefaultSettings()
	stored.QualificationScoreThreshold = 70
	storedJSON, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT settings FROM leadflow_settings`).
		WithArgs("agent-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO leadflow_settings`).
		WithArgs("agent-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT settings FROM leadflow_settings`).
		WithArgs("agent-1").
		WillReturnRows(pgxmock.NewRows([]string{"settings"}).AddRow(storedJSON))

	got, err := st.GetSettings(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 70, got.QualificationScoreThreshold)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetSnapshotMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT settings FROM leadflow_snapshots`).
		WithArgs("snap-1", "agent-1").
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetSnapshot(context.Background(), "agent-1", "snap-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetSnapshotCorruptPayload(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT settings FROM leadflow_snapshots`).
		WithArgs("snap-1", "agent-1").
		WillReturnRows(pgxmock.NewRows([]string{"settings"}).AddRow([]byte(`{broken`)))

	got, err := st.GetSnapshot(context.Background(), "agent-1", "snap-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertIdempotencyDuplicate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO lead_idempotency`).
		WithArgs("agent-1", "key-1", string(model.IdemInProgress), "hash", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := st.InsertIdempotencyInProgress(context.Background(), "agent-1", "key-1", "hash")
	assert.True(t, eris.Is(err, ErrDuplicateKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertIdempotencyOtherError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO lead_idempotency`).
		WithArgs("agent-1", "key-1", string(model.IdemInProgress), "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(eris.New("connection reset"))

	err := st.InsertIdempotencyInProgress(context.Background(), "agent-1", "key-1", "")
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrDuplicateKey))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFinishIdempotencyGuard(t *testing.T) {
	st, mock := newMockStore(t)

	// terminal record: the guarded UPDATE matches nothing
	mock.ExpectExec(`UPDATE lead_idempotency`).
		WithArgs(string(model.IdemSucceeded), []byte(`{}`), []byte(nil), pgxmock.AnyArg(),
			"agent-1", "key-1", string(model.IdemInProgress)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.MarkIdempotencySucceeded(context.Background(), "agent-1", "key-1", []byte(`{}`))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountRunsThisMonth(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM lead_run_usage`).
		WithArgs("agent-1", MonthStartUTC(now), now).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	count, err := st.CountRunsThisMonth(context.Background(), "agent-1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetPlanDefaultsToFree(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT plan FROM plans`).
		WithArgs("agent-1").
		WillReturnError(pgx.ErrNoRows)

	plan, err := st.GetPlan(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlanFree, plan)
	assert.NoError(t, mock.ExpectationsWereMet())
}
