package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tdreloc/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	catalog    TEXT NOT NULL,
	config     TEXT,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_clusters (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	cluster_id   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	events       INTEGER NOT NULL DEFAULT 0,
	targets      INTEGER NOT NULL DEFAULT 0,
	errors       INTEGER NOT NULL DEFAULT 0,
	triple_diffs INTEGER NOT NULL DEFAULT 0,
	stages       TEXT,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_events (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	time       TEXT NOT NULL,
	geom       BLOB NOT NULL,
	xerr       REAL NOT NULL,
	yerr       REAL NOT NULL,
	zerr       REAL NOT NULL,
	rms        REAL NOT NULL,
	mode       TEXT NOT NULL,
	cluster_id INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_run_clusters_run_id ON run_clusters(run_id);
CREATE INDEX IF NOT EXISTS idx_run_events_mode ON run_events(mode);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind, catalog string, config map[string]any) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal config")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, catalog, config, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(kind), catalog, string(configJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, result)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	if err := checkFailStatus(status); err != nil {
		return err
	}
	return s.finishRun(ctx, runID, status, result)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, catalog, config, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, catalog, config, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC`

	query += ` LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordCluster(ctx context.Context, rec *model.ClusterRecord) error {
	prepareCluster(rec)
	stagesJSON, err := json.Marshal(rec.Stages)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stages")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_clusters (id, run_id, cluster_id, status, events, targets, errors, triple_diffs, stages, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.ClusterID, string(rec.Status), rec.Events, rec.Targets, rec.Errors,
		rec.TripleDiffs, string(stagesJSON), rec.DurationMs, rec.Error, rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert cluster %d for run %s", rec.ClusterID, rec.RunID)
}

func (s *SQLiteStore) ListClusters(ctx context.Context, runID string) ([]model.ClusterRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, cluster_id, status, events, targets, errors, triple_diffs, stages, duration_ms, error, created_at
		 FROM run_clusters WHERE run_id = ? ORDER BY cluster_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clusters")
	}
	defer rows.Close()

	var out []model.ClusterRecord
	for rows.Next() {
		var rec model.ClusterRecord
		var stagesJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.ClusterID, &rec.Status, &rec.Events, &rec.Targets,
			&rec.Errors, &rec.TripleDiffs, &stagesJSON, &rec.DurationMs, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cluster")
		}
		if stagesJSON.Valid {
			if err := json.Unmarshal([]byte(stagesJSON.String), &rec.Stages); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal stages")
			}
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list clusters iterate")
}

func (s *SQLiteStore) SaveEvents(ctx context.Context, runID string, events []model.EventRecord) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin save events")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO run_events (run_id, seq, time, geom, xerr, yerr, zerr, rms, mode, cluster_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare save events")
	}
	defer stmt.Close()

	var n int64
	for _, e := range events {
		g, err := encodePoint(e)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, runID, e.Seq, e.Time, g, e.ErrLon, e.ErrLat, e.ErrDep, e.RMS, e.Mode, e.ClusterID); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert event %d", e.Seq)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit save events")
	}
	return n, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, time, geom, xerr, yerr, zerr, rms, mode, cluster_id
		 FROM run_events WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var e model.EventRecord
		var g []byte
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Time, &g, &e.ErrLon, &e.ErrLat, &e.ErrDep, &e.RMS, &e.Mode, &e.ClusterID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if err := decodePoint(g, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats runs")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		st.ByStatus[status] = n
		st.Runs += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats iterate")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) FROM run_clusters`,
		string(model.ClusterStatusFailed),
	).Scan(&st.Clusters, &st.Failed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats clusters")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN mode = ? THEN 1 ELSE 0 END), 0) FROM run_events`,
		model.ModeTrd,
	).Scan(&st.Events, &st.Relocated)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats events")
	}
	return st, nil
}

// helpers

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func checkFailStatus(status model.RunStatus) error {
	if status != model.RunStatusFailed && status != model.RunStatusCancelled {
		return eris.Errorf("store: run cannot fail with status %q", status)
	}
	return nil
}

func prepareCluster(rec *model.ClusterRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var configJSON, resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.Kind, &r.Catalog, &configJSON, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := decodeRunJSON(&r, []byte(configJSON.String), configJSON.Valid, []byte(resultJSON.String), resultJSON.Valid); err != nil {
		return nil, err
	}
	return &r, nil
}

// decodeRunJSON fills Config and Result from their stored JSON. A stored
// JSON null leaves the field nil.
func decodeRunJSON(r *model.Run, config []byte, hasConfig bool, result []byte, hasResult bool) error {
	if hasConfig && len(config) > 0 {
		if err := json.Unmarshal(config, &r.Config); err != nil {
			return eris.Wrap(err, "store: unmarshal config")
		}
	}
	if hasResult && len(result) > 0 && string(result) != "null" {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(result, r.Result); err != nil {
			return eris.Wrap(err, "store: unmarshal result")
		}
	}
	return nil
}
