// Package store persists the run ledger: one row per cluster or relocate
// invocation, per-cluster outcomes and the final hypocenter of every event.
package store

import (
	"context"
	"errors"

	"github.com/sells-group/tdreloc/internal/model"
)

// ErrNotFound is returned by GetRun for an unknown run id.
var ErrNotFound = errors.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Kind   model.RunKind   `json:"kind,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Stats aggregates the ledger.
type Stats struct {
	Runs      int            `json:"runs"`
	ByStatus  map[string]int `json:"by_status"`
	Clusters  int            `json:"clusters"`
	Failed    int            `json:"failed_clusters"`
	Events    int            `json:"events"`
	Relocated int            `json:"relocated_events"`
}

// Store defines the persistence interface for the run ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, kind model.RunKind, catalog string, config map[string]any) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Clusters
	RecordCluster(ctx context.Context, rec *model.ClusterRecord) error
	ListClusters(ctx context.Context, runID string) ([]model.ClusterRecord, error)

	// Events
	SaveEvents(ctx context.Context, runID string, events []model.EventRecord) (int64, error)
	ListEvents(ctx context.Context, runID string) ([]model.EventRecord, error)

	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
