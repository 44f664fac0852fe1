package reloc

import (
	"runtime"

	"github.com/sells-group/tdreloc/internal/fault"
)

// Stage is one pass of the multi-stage schedule. Only triple differences
// between events closer than DistKm take part.
type Stage struct {
	DistKm     float64 `json:"dist_km"`
	Damping    float64 `json:"damping"`
	Iterations int     `json:"iterations"`
}

// Options configures a Relocator.
type Options struct {
	Stages []Stage

	// LSQR tolerances; zero values take the solver defaults.
	Atol    float64
	Btol    float64
	Conlim  float64
	IterLim int

	// Jobs bounds the derivative worker pool. Zero means NumCPU−1.
	Jobs int
	// HypBottom is the deepest allowed hypocenter in km.
	HypBottom float64
	// GaugeWeight scales the three column-sum rows. Zero leaves them inert.
	GaugeWeight float64
	// MedianCenter subtracts the per-axis median shift of all targets from
	// every update, removing common-mode drift of the cluster.
	MedianCenter bool
	// SparseThreshold is passed to sparse.New.
	SparseThreshold int64
}

// DefaultJobs returns NumCPU−1, at least 1.
func DefaultJobs() int {
	return max(1, runtime.NumCPU()-1)
}

// Validate checks the schedule and bounds.
func (o Options) Validate() error {
	if len(o.Stages) == 0 {
		return fault.NewConfigError("relocation.dist_km", "at least one stage is required")
	}
	for i, s := range o.Stages {
		if s.DistKm <= 0 {
			return fault.NewConfigError("relocation.dist_km", "stage %d: distance must be positive, got %g", i, s.DistKm)
		}
		if s.Damping < 0 {
			return fault.NewConfigError("relocation.damping", "stage %d: damping must be non-negative, got %g", i, s.Damping)
		}
		if s.Iterations <= 0 {
			return fault.NewConfigError("relocation.iterations", "stage %d: iterations must be positive, got %d", i, s.Iterations)
		}
	}
	if o.HypBottom <= 0 {
		return fault.NewConfigError("relocation.hyp_bottom", "must be positive, got %g", o.HypBottom)
	}
	if o.Jobs < 0 {
		return fault.NewConfigError("relocation.jobs", "must be non-negative, got %d", o.Jobs)
	}
	if o.GaugeWeight < 0 {
		return fault.NewConfigError("relocation.gauge_weight", "must be non-negative, got %g", o.GaugeWeight)
	}
	return nil
}

// Stages zips the per-stage config lists. The lists must have equal length.
func Stages(distKm, damping []float64, iterations []int) ([]Stage, error) {
	if len(distKm) != len(damping) || len(distKm) != len(iterations) {
		return nil, fault.NewConfigError("relocation",
			"dist_km, damping and iterations need the same length (%d, %d, %d)",
			len(distKm), len(damping), len(iterations))
	}
	out := make([]Stage, len(distKm))
	for i := range distKm {
		out[i] = Stage{DistKm: distKm[i], Damping: damping[i], Iterations: iterations[i]}
	}
	return out, nil
}
