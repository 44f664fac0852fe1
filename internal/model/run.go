package model

import "time"

// RunStatus represents the current state of a ledger run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusClustering RunStatus = "clustering"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusRelocating RunStatus = "relocating"
	RunStatusWriting    RunStatus = "writing"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// RunKind identifies which pipeline step a run executed.
type RunKind string

const (
	RunKindCluster  RunKind = "cluster"
	RunKindRelocate RunKind = "relocate"
)

// Run is one invocation of a pipeline step.
type Run struct {
	ID        string         `json:"id"`
	Kind      RunKind        `json:"kind"`
	Catalog   string         `json:"catalog"`
	Config    map[string]any `json:"config,omitempty"`
	Status    RunStatus      `json:"status"`
	Result    *RunResult     `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Events      int    `json:"events"`
	Clusters    int    `json:"clusters"`
	Relocated   int    `json:"relocated"`
	Errors      int    `json:"errors"`
	Skipped     int    `json:"skipped"`
	TripleDiffs int    `json:"triple_diffs"`
	Output      string `json:"output"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}

// ClusterStatus represents the outcome of one cluster within a run.
type ClusterStatus string

const (
	ClusterStatusComplete ClusterStatus = "complete"
	ClusterStatusFailed   ClusterStatus = "failed"
	ClusterStatusSkipped  ClusterStatus = "skipped"
)

// StageReport summarises one relocation stage of a cluster.
type StageReport struct {
	DistKm     float64 `json:"dist_km"`
	Damping    float64 `json:"damping"`
	Rows       int     `json:"rows"`
	Iterations int     `json:"iterations"`
	Istop      int     `json:"istop"`
	RMS        float64 `json:"rms"`
	Skipped    bool    `json:"skipped,omitempty"`
}

// ClusterRecord is the ledger row for one cluster of a run.
type ClusterRecord struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	ClusterID   int           `json:"cluster_id"`
	Status      ClusterStatus `json:"status"`
	Events      int           `json:"events"`
	Targets     int           `json:"targets"`
	Errors      int           `json:"errors"`
	TripleDiffs int           `json:"triple_diffs"`
	Stages      []StageReport `json:"stages,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// EventRecord is the final hypocenter of one event, saved per run.
type EventRecord struct {
	RunID     string  `json:"run_id"`
	Seq       int     `json:"seq"`
	Time      string  `json:"time"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Dep       float64 `json:"dep"`
	ErrLon    float64 `json:"xerr"`
	ErrLat    float64 `json:"yerr"`
	ErrDep    float64 `json:"zerr"`
	RMS       float64 `json:"rms"`
	Mode      string  `json:"mode"`
	ClusterID int     `json:"cid"`
}

// NewEventRecord snapshots an event for the ledger.
func NewEventRecord(runID string, seq int, e *Event) EventRecord {
	return EventRecord{
		RunID:     runID,
		Seq:       seq,
		Time:      e.Time,
		Lat:       e.Lat,
		Lon:       e.Lon,
		Dep:       e.Dep,
		ErrLon:    e.ErrLon,
		ErrLat:    e.ErrLat,
		ErrDep:    e.ErrDep,
		RMS:       e.RMS,
		Mode:      e.CatalogMode(),
		ClusterID: e.ClusterID,
	}
}
