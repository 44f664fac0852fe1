// Package reloc drives the multi-stage triple-difference relocation of one
// cluster: derivative tables, design-matrix assembly, robust re-weighting,
// the LSQR solve and the hypocenter update.
package reloc

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/geo"
	"github.com/sells-group/tdreloc/internal/lsqr"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/robust"
	"github.com/sells-group/tdreloc/internal/sparse"
	"github.com/sells-group/tdreloc/internal/traveltime"
	"github.com/sells-group/tdreloc/internal/tripdiff"
)

// PlaceholderErr replaces location errors that cannot be computed.
const PlaceholderErr = 999.0

// Relocator relocates clusters against a fixed station table.
type Relocator struct {
	provider traveltime.Provider
	stations *model.StationTable
	opts     Options
	jobs     int
}

// New validates opts and returns a Relocator.
func New(provider traveltime.Provider, stations *model.StationTable, opts Options) (*Relocator, error) {
	if provider == nil {
		return nil, eris.New("reloc: provider is required")
	}
	if stations == nil || stations.Len() == 0 {
		return nil, eris.New("reloc: station table is empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	jobs := opts.Jobs
	if jobs == 0 {
		jobs = DefaultJobs()
	}
	return &Relocator{provider: provider, stations: stations, opts: opts, jobs: jobs}, nil
}

// Report summarises the relocation of one cluster.
type Report struct {
	ClusterID   int                 `json:"cluster_id"`
	Events      int                 `json:"events"`
	Targets     int                 `json:"targets"`
	TripleDiffs int                 `json:"triple_diffs"`
	Stages      []model.StageReport `json:"stages"`
	// Errors lists the event indices moved to error during relocation.
	Errors []int   `json:"errors,omitempty"`
	RMS    float64 `json:"rms"`
}

// Relocated reports whether any stage produced a solution.
func (r *Report) Relocated() bool {
	for _, s := range r.Stages {
		if s.Iterations > 0 {
			return true
		}
	}
	return false
}

// clusterRun is the mutable state of one Relocate call.
type clusterRun struct {
	r         *Relocator
	clusterID int
	events    []*model.Event
	targetMap []int // event index → dense target column, −1 when fixed
	numTarget int
	tables    []*traveltime.Table
	// prevResidual maps filtered triple-difference index → post-fit residual
	// of the previous iteration of the current stage.
	prevResidual map[int]float64
	errored      []int
}

func (c *clusterRun) rebuildTargets() {
	n := 0
	for i, e := range c.events {
		if e.State == model.StateTarget {
			c.targetMap[i] = n
			n++
		} else {
			c.targetMap[i] = -1
		}
	}
	c.numTarget = n
}

// Relocate updates the target events of one cluster in place. events must
// be the cluster's ordered event list that the triple differences index
// into. Reference events never move. Events whose derivative fails or whose
// depth leaves the allowed range become error and keep their last valid
// position. Surviving targets are tagged TRD.
func (r *Relocator) Relocate(ctx context.Context, clusterID int, events []*model.Event, tds []model.TripleDifference) (*Report, error) {
	if len(events) == 0 {
		return nil, fault.NewDataError("reloc", eris.Errorf("cluster %d has no events", clusterID))
	}
	if !slices.IsSortedFunc(tds, byDistance) {
		tds = slices.Clone(tds)
		slices.SortStableFunc(tds, byDistance)
	}

	c := &clusterRun{
		r:         r,
		clusterID: clusterID,
		events:    events,
		targetMap: make([]int, len(events)),
	}
	c.rebuildTargets()
	initial := make([]bool, len(events))
	for i, e := range events {
		initial[i] = e.State == model.StateTarget
	}

	report := &Report{
		ClusterID:   clusterID,
		Events:      len(events),
		Targets:     c.numTarget,
		TripleDiffs: len(tds),
	}
	log := zap.L().With(zap.Int("cluster", clusterID))
	start := time.Now()

	lastActive := -1
	for i, s := range r.opts.Stages {
		if len(tripdiff.WithinDistance(tds, s.DistKm)) > 0 {
			lastActive = i
		}
	}

	for si, stage := range r.opts.Stages {
		rep := model.StageReport{DistKm: stage.DistKm, Damping: stage.Damping}
		filtered := tripdiff.WithinDistance(tds, stage.DistKm)
		if len(filtered) == 0 {
			log.Info("reloc: stage skipped, no triple differences within distance",
				zap.Int("stage", si),
				zap.Float64("dist_km", stage.DistKm),
			)
			rep.Skipped = true
			report.Stages = append(report.Stages, rep)
			continue
		}

		c.prevResidual = nil
		for it := range stage.Iterations {
			if err := fault.Interrupted(ctx, "reloc"); err != nil {
				return nil, err
			}
			final := si == lastActive && it == stage.Iterations-1
			res, resid, sys, err := c.iterate(ctx, filtered, stage, final)
			if err != nil {
				return nil, err
			}
			if res == nil {
				break
			}
			rep.Rows = sys.dataRows()
			rep.Iterations = it + 1
			rep.Istop = res.Istop
			rep.RMS = rms(resid)
			if final {
				c.eventRMS(sys, resid)
			}
			log.Debug("reloc: iteration complete",
				zap.Int("stage", si),
				zap.Int("iteration", it),
				zap.Int("rows", rep.Rows),
				zap.Int("targets", c.numTarget),
				zap.Int("istop", res.Istop),
				zap.Int("lsqr_itn", res.Itn),
				zap.Float64("rms", rep.RMS),
			)
		}
		report.Stages = append(report.Stages, rep)
		log.Info("reloc: stage complete",
			zap.Int("stage", si),
			zap.Float64("dist_km", stage.DistKm),
			zap.Float64("damping", stage.Damping),
			zap.Int("rows", rep.Rows),
			zap.Int("iterations", rep.Iterations),
			zap.Int("istop", rep.Istop),
			zap.Float64("rms", rep.RMS),
		)
		report.RMS = rep.RMS
	}

	if report.Relocated() {
		for i, e := range events {
			if initial[i] && e.State == model.StateTarget {
				e.Mode = model.ModeTrd
			}
		}
	}
	report.Errors = c.errored

	log.Info("reloc: cluster complete",
		zap.Int("events", report.Events),
		zap.Int("targets", report.Targets),
		zap.Int("errors", len(report.Errors)),
		zap.Float64("rms", report.RMS),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// iterate runs one linearised step. A nil result with a nil error means
// there is nothing left to solve in this stage.
func (c *clusterRun) iterate(ctx context.Context, tds []model.TripleDifference, stage Stage, final bool) (*lsqr.Result, []float64, *system, error) {
	c.rebuildTargets()
	if c.numTarget == 0 {
		zap.L().Warn("reloc: no target events left", zap.Int("cluster", c.clusterID))
		return nil, nil, nil, nil
	}

	failed, err := c.derivatives(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	c.errored = append(c.errored, failed...)
	if c.numTarget == 0 {
		zap.L().Warn("reloc: no target events left", zap.Int("cluster", c.clusterID))
		return nil, nil, nil, nil
	}

	sys, err := c.assemble(tds)
	if err != nil {
		return nil, nil, nil, err
	}
	if sys.dataRows() == 0 {
		zap.L().Warn("reloc: no usable triple differences",
			zap.Int("cluster", c.clusterID),
			zap.Float64("dist_km", stage.DistKm),
		)
		return nil, nil, nil, nil
	}

	w := c.weights(sys)
	op, err := sparse.ScaleRows(sys.a, w)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "reloc: weight rows")
	}
	res, err := lsqr.Solve(ctx, op, weighted(sys.d, w), lsqr.Options{
		Damp:    stage.Damping,
		Atol:    c.r.opts.Atol,
		Btol:    c.r.opts.Btol,
		Conlim:  c.r.opts.Conlim,
		IterLim: c.r.opts.IterLim,
		CalcVar: final,
	})
	if err != nil {
		if fault.IsInterrupted(err) {
			return nil, nil, nil, err
		}
		return nil, nil, nil, eris.Wrapf(err, "reloc: cluster %d: solve", c.clusterID)
	}
	if len(res.X) != sys.cols {
		return nil, nil, nil, eris.Errorf("reloc: cluster %d: solution has %d entries, want %d",
			c.clusterID, len(res.X), sys.cols)
	}

	resid, err := sys.postfit(res.X)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "reloc: post-fit residual")
	}
	c.prevResidual = make(map[int]float64, len(resid))
	for row, k := range sys.td {
		c.prevResidual[k] = resid[row]
	}

	c.apply(res, final)
	return res, resid, sys, nil
}

// apply shifts every target by its solution block. On the variance
// iteration it also converts the diagonal variances into km error
// half-widths using the local flat-earth scale at the new latitude.
func (c *clusterRun) apply(res *lsqr.Result, final bool) {
	bottom := c.r.stations.BottomDepth
	top := c.r.opts.HypBottom
	var center [3]float64
	if c.r.opts.MedianCenter {
		center = medianShift(res.X)
	}
	for i, e := range c.events {
		col := c.targetMap[i]
		if col < 0 {
			continue
		}
		x := res.X[3*col : 3*col+3]
		lon := e.Lon + x[0] - center[0]
		lat := e.Lat + x[1] - center[1]
		dep := e.Dep + x[2] - center[2]
		if !(dep >= bottom && dep <= top) || !model.ValidPosition(lat, lon, dep) {
			zap.L().Warn("reloc: hypocenter left allowed range, event moved to error",
				zap.Int("cluster", c.clusterID),
				zap.Int("event", i),
				zap.String("file", e.File),
				zap.Float64("dep", dep),
				zap.Float64("min_dep", bottom),
				zap.Float64("max_dep", top),
			)
			e.State = model.StateError
			c.errored = append(c.errored, i)
			continue
		}
		e.Lon, e.Lat, e.Dep = lon, lat, dep

		if final && len(res.Var) == len(res.X) {
			v := res.Var[3*col : 3*col+3]
			e.ErrLon = errorKm(v[0], geo.KmPerDeg*math.Cos(geo.Rad(e.Lat)))
			e.ErrLat = errorKm(v[1], geo.KmPerDeg)
			e.ErrDep = errorKm(v[2], 1)
		}
	}
}

// medianShift returns the per-axis median of the (lon, lat, dep) blocks of x.
func medianShift(x []float64) [3]float64 {
	var out [3]float64
	n := len(x) / 3
	if n == 0 {
		return out
	}
	axis := make([]float64, n)
	for k := range 3 {
		for j := range n {
			axis[j] = x[3*j+k]
		}
		out[k] = robust.Median(axis)
	}
	return out
}

func errorKm(variance, scale float64) float64 {
	v := math.Sqrt(variance) * scale
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return PlaceholderErr
	}
	return v
}

// eventRMS sets each surviving target's rms from the post-fit residuals of
// the rows it took part in.
func (c *clusterRun) eventRMS(sys *system, resid []float64) {
	sum := make([]float64, len(c.events))
	n := make([]int, len(c.events))
	for row, p := range sys.pair {
		r2 := resid[row] * resid[row]
		for _, i := range p {
			sum[i] += r2
			n[i]++
		}
	}
	for i, e := range c.events {
		if e.State != model.StateTarget || n[i] == 0 {
			continue
		}
		e.RMS = math.Sqrt(sum[i] / float64(n[i]))
	}
}

func rms(r []float64) float64 {
	if len(r) == 0 {
		return 0
	}
	var s float64
	for _, v := range r {
		s += v * v
	}
	return math.Sqrt(s / float64(len(r)))
}

func byDistance(a, b model.TripleDifference) int {
	return cmp.Compare(a.DistKm, b.DistKm)
}
