package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tdreloc/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runColumns = []string{"id", "kind", "catalog", "config", "status", "result", "created_at", "updated_at"}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, kind, catalog, config, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumns).AddRow(
			"run-1", "relocate", "a_cls.csv", []byte(`{"jobs":2}`), "complete",
			[]byte(`{"events":5,"relocated":4}`), now, now,
		))

	r, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunKindRelocate, r.Kind)
	assert.Equal(t, model.RunStatusComplete, r.Status)
	assert.Equal(t, map[string]any{"jobs": float64(2)}, r.Config)
	require.NotNil(t, r.Result)
	assert.Equal(t, 4, r.Result.Relocated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "cluster", "events.csv", pgxmock.AnyArg(), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r, err := s.CreateRun(context.Background(), model.RunKindCluster, "events.csv", map[string]any{"min_pts": 4})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.RunStatusQueued, r.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("relocating", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusRelocating)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET result`).
		WithArgs(pgxmock.AnyArg(), "cancelled", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", model.RunStatusCancelled, &model.RunResult{Error: "interrupted"}))
	assert.Error(t, s.FailRun(context.Background(), "run-1", model.RunStatusWriting, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE true AND status = \$1 AND kind = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complete", "relocate", 10, 20).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow("a", "relocate", "x.csv", nil, "complete", nil, now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Status: model.RunStatusComplete, Kind: model.RunKindRelocate, Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Config)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordCluster(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_clusters`).
		WithArgs(pgxmock.AnyArg(), "run-1", 3, "failed", 0, 0, 0, 0, pgxmock.AnyArg(), int64(0), "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.ClusterRecord{RunID: "run-1", ClusterID: 3, Status: model.ClusterStatusFailed, Error: "boom"}
	require.NoError(t, s.RecordCluster(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	events := sampleEvents("run-1")

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_run_events"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_run_events"}, eventColumns).
		WillReturnResult(3)
	mock.ExpectExec(`INSERT INTO "run_events"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mock.ExpectCommit()

	n, err := s.SaveEvents(context.Background(), "run-1", events)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveEvents_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("conn refused"))

	_, err := s.SaveEvents(context.Background(), "run-1", sampleEvents("run-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save events for run run-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	want := sampleEvents("run-1")[:2]

	rows := pgxmock.NewRows([]string{"run_id", "seq", "time", "geom", "xerr", "yerr", "zerr", "rms", "mode", "cluster_id"})
	for _, e := range want {
		g, err := encodePoint(e)
		require.NoError(t, err)
		rows.AddRow(e.RunID, e.Seq, e.Time, g, e.ErrLon, e.ErrLat, e.ErrDep, e.RMS, e.Mode, e.ClusterID)
	}
	mock.ExpectQuery(`FROM run_events WHERE run_id = \$1 ORDER BY seq`).
		WithArgs("run-1").
		WillReturnRows(rows)

	got, err := s.ListEvents(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEvents_BadGeometry(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM run_events`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "seq", "time", "geom", "xerr", "yerr", "zerr", "rms", "mode", "cluster_id"}).
			AddRow("run-1", 0, "t", []byte{0xff}, 0.0, 0.0, 0.0, 0.0, "TRD", 1))

	_, err := s.ListEvents(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal ewkb")
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM runs GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("complete", 2).
			AddRow("failed", 1))
	mock.ExpectQuery(`FROM run_clusters`).
		WithArgs("failed").
		WillReturnRows(pgxmock.NewRows([]string{"count", "failed"}).AddRow(7, 2))
	mock.ExpectQuery(`FROM run_events`).
		WithArgs(model.ModeTrd).
		WillReturnRows(pgxmock.NewRows([]string{"count", "relocated"}).AddRow(40, 31))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Runs)
	assert.Equal(t, map[string]int{"complete": 2, "failed": 1}, st.ByStatus)
	assert.Equal(t, 7, st.Clusters)
	assert.Equal(t, 2, st.Failed)
	assert.Equal(t, 40, st.Events)
	assert.Equal(t, 31, st.Relocated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectExec(`SELECT 1`).WillReturnError(errors.New("connection refused"))
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: ping")
	require.NoError(t, mock.ExpectationsWereMet())
}
