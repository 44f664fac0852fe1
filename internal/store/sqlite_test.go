package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tdreloc/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_ClusterRequiresRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.RecordCluster(context.Background(), &model.ClusterRecord{
		RunID: "missing", ClusterID: 1, Status: model.ClusterStatusComplete,
	})
	assert.Error(t, err)
}

func TestSQLite_GeometryStoredAsEWKB(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunKindRelocate, "a_cls.csv", nil)
	require.NoError(t, err)
	_, err = st.SaveEvents(ctx, run.ID, sampleEvents(run.ID)[:1])
	require.NoError(t, err)

	var raw []byte
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT geom FROM run_events WHERE run_id = ? AND seq = 0`, run.ID).Scan(&raw))

	want, err := encodePoint(sampleEvents(run.ID)[0])
	require.NoError(t, err)
	assert.Equal(t, want, raw)
}

func TestSQLite_NullConfig(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunKindCluster, "a.csv", nil)
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Config)
	assert.Nil(t, got.Result)
}

func TestDecodeRunJSON(t *testing.T) {
	var r model.Run
	require.NoError(t, decodeRunJSON(&r, []byte(`{"a":1}`), true, []byte(`null`), true))
	assert.Equal(t, map[string]any{"a": float64(1)}, r.Config)
	assert.Nil(t, r.Result)

	require.NoError(t, decodeRunJSON(&r, nil, false, []byte(`{"events":3}`), true))
	require.NotNil(t, r.Result)
	assert.Equal(t, 3, r.Result.Events)

	assert.Error(t, decodeRunJSON(&r, []byte(`{`), true, nil, false))
}

func TestRunFilterLimit(t *testing.T) {
	assert.Equal(t, 100, RunFilter{}.limit())
	assert.Equal(t, 5, RunFilter{Limit: 5}.limit())
}
