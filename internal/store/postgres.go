package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/db"
	"github.com/sells-group/tdreloc/internal/model"
)

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

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, kind, catalog, config, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"finish_run":        `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, kind, catalog, config, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_cluster":    `INSERT INTO run_clusters (id, run_id, cluster_id, status, events, targets, errors, triple_diffs, stages, duration_ms, error, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
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
	if err := db.Retry(ctx, db.DefaultRetryConfig("postgres ping"), pool.Ping); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind       TEXT NOT NULL,
	catalog    TEXT NOT NULL,
	config     JSONB,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_clusters (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	cluster_id   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	events       INTEGER NOT NULL DEFAULT 0,
	targets      INTEGER NOT NULL DEFAULT 0,
	errors       INTEGER NOT NULL DEFAULT 0,
	triple_diffs INTEGER NOT NULL DEFAULT 0,
	stages       JSONB,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_events (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	time       TEXT NOT NULL,
	geom       BYTEA NOT NULL,
	xerr       DOUBLE PRECISION NOT NULL,
	yerr       DOUBLE PRECISION NOT NULL,
	zerr       DOUBLE PRECISION NOT NULL,
	rms        DOUBLE PRECISION NOT NULL,
	mode       TEXT NOT NULL,
	cluster_id INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_run_clusters_run_id ON run_clusters(run_id);
CREATE INDEX IF NOT EXISTS idx_run_events_mode ON run_events(mode);
`

// eventColumns is the run_events column order used by SaveEvents.
var eventColumns = []string{"run_id", "seq", "time", "geom", "xerr", "yerr", "zerr", "rms", "mode", "cluster_id"}

// Ping checks the connection; serve uses it for /health.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
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

func (s *PostgresStore) CreateRun(ctx context.Context, kind model.RunKind, catalog string, config map[string]any) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal config")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, catalog, config, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, string(kind), catalog, configJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Kind:      kind,
		Catalog:   catalog,
		Config:    config,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, result)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	if err := checkFailStatus(status); err != nil {
		return err
	}
	return s.finishRun(ctx, runID, status, result)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT id, kind, catalog, config, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, catalog, config, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var kind, status string
	var configJSON, resultJSON []byte

	if err := row.Scan(&r.ID, &kind, &r.Catalog, &configJSON, &status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Kind = model.RunKind(kind)
	r.Status = model.RunStatus(status)
	if err := decodeRunJSON(&r, configJSON, configJSON != nil, resultJSON, resultJSON != nil); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) RecordCluster(ctx context.Context, rec *model.ClusterRecord) error {
	prepareCluster(rec)
	stagesJSON, err := json.Marshal(rec.Stages)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stages")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_clusters (id, run_id, cluster_id, status, events, targets, errors, triple_diffs, stages, duration_ms, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.RunID, rec.ClusterID, string(rec.Status), rec.Events, rec.Targets, rec.Errors,
		rec.TripleDiffs, stagesJSON, rec.DurationMs, rec.Error, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert cluster %d for run %s", rec.ClusterID, rec.RunID)
}

func (s *PostgresStore) ListClusters(ctx context.Context, runID string) ([]model.ClusterRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, cluster_id, status, events, targets, errors, triple_diffs, stages, duration_ms, error, created_at
		 FROM run_clusters WHERE run_id = $1 ORDER BY cluster_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clusters")
	}
	defer rows.Close()

	var out []model.ClusterRecord
	for rows.Next() {
		var rec model.ClusterRecord
		var status string
		var stagesJSON []byte
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.ClusterID, &status, &rec.Events, &rec.Targets,
			&rec.Errors, &rec.TripleDiffs, &stagesJSON, &rec.DurationMs, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cluster")
		}
		rec.Status = model.ClusterStatus(status)
		if len(stagesJSON) > 0 {
			if err := json.Unmarshal(stagesJSON, &rec.Stages); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stages")
			}
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clusters iterate")
}

// SaveEvents upserts on (run_id, seq) so a run can be saved again.
func (s *PostgresStore) SaveEvents(ctx context.Context, runID string, events []model.EventRecord) (int64, error) {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		g, err := encodePoint(e)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{runID, e.Seq, e.Time, g, e.ErrLon, e.ErrLat, e.ErrDep, e.RMS, e.Mode, e.ClusterID})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "run_events",
		Columns:      eventColumns,
		ConflictKeys: []string{"run_id", "seq"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save events for run %s", runID)
	}
	return n, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, runID string) ([]model.EventRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, seq, time, geom, xerr, yerr, zerr, rms, mode, cluster_id
		 FROM run_events WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var e model.EventRecord
		var g []byte
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Time, &g, &e.ErrLon, &e.ErrLat, &e.ErrDep, &e.RMS, &e.Mode, &e.ClusterID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if err := decodePoint(g, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: map[string]int{}}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats runs")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		st.ByStatus[status] = n
		st.Runs += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats iterate")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $1) FROM run_clusters`,
		string(model.ClusterStatusFailed),
	).Scan(&st.Clusters, &st.Failed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats clusters")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE mode = $1) FROM run_events`,
		model.ModeTrd,
	).Scan(&st.Events, &st.Relocated)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats events")
	}
	return st, nil
}
