// Package pipeline wires the catalog readers, the clusterer, the
// triple-difference extractor and the relocator into the cluster and
// relocate steps, recording each invocation in the run ledger.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/config"
	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/reloc"
	"github.com/sells-group/tdreloc/internal/store"
	"github.com/sells-group/tdreloc/internal/traveltime"
)

// Pipeline runs the cluster and relocate steps.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	provider traveltime.Provider
	dryRun   bool
}

// New creates a Pipeline. st may be nil, in which case nothing is recorded.
func New(cfg *config.Config, st store.Store, provider traveltime.Provider) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, provider: provider}
}

// SetDryRun makes Cluster and Relocate report planned work without writing
// files or ledger rows.
func (p *Pipeline) SetDryRun(v bool) { p.dryRun = v }

// NewProvider builds the derivative provider described by cfg, wrapped in
// the cache when enabled. The returned func releases the cache.
func NewProvider(cfg *config.Config) (traveltime.Provider, func(), error) {
	hs, err := traveltime.NewHalfSpace(cfg.Model.Vp, cfg.Model.Vs, model.Phase(strings.ToUpper(cfg.Model.Phase)))
	if err != nil {
		return nil, nil, fault.NewConfigError("model", "%v", err)
	}
	if !cfg.Cache.Enabled {
		return hs, func() {}, nil
	}
	cached, err := traveltime.NewCached(hs, traveltime.CacheConfig{
		NumCounters: cfg.Cache.NumCounters,
		MaxCost:     cfg.Cache.MaxCost,
	})
	if err != nil {
		return nil, nil, err
	}
	return cached, func() {
		hits, misses := cached.Stats()
		zap.L().Debug("pipeline: derivative cache", zap.Int64("hits", hits), zap.Int64("misses", misses))
		cached.Close()
	}, nil
}

// RelocOptions converts the relocation section to relocator options.
func RelocOptions(rc config.RelocationConfig) (reloc.Options, error) {
	stages, err := reloc.Stages(rc.DistKm, rc.Damping, rc.Iterations)
	if err != nil {
		return reloc.Options{}, err
	}
	return reloc.Options{
		Stages:          stages,
		Atol:            rc.Atol,
		Btol:            rc.Btol,
		Conlim:          rc.Conlim,
		IterLim:         rc.IterLim,
		Jobs:            rc.Jobs,
		HypBottom:       rc.HypBottom,
		GaugeWeight:     rc.GaugeWeight,
		MedianCenter:    rc.MedianCenter,
		SparseThreshold: rc.SparseThreshold,
	}, nil
}

// Run clusters the configured catalog and relocates the clustered output.
func (p *Pipeline) Run(ctx context.Context) (*ClusterResult, *RelocateResult, error) {
	cres, err := p.Cluster(ctx)
	if err != nil {
		return nil, nil, err
	}
	if p.dryRun {
		// The clustered catalog was not written, so plan from the cluster step.
		return cres, planFromCluster(p.cfg, cres), nil
	}
	rres, err := p.Relocate(ctx, cres.Output)
	if err != nil {
		return cres, nil, err
	}
	return cres, rres, nil
}

// ledger records one run. Every method is a no-op without a store or in dry
// run mode, and store failures are logged rather than returned.
type ledger struct {
	st    store.Store
	runID string
	start time.Time
	log   *zap.Logger
}

func (p *Pipeline) openLedger(ctx context.Context, kind model.RunKind, catalogPath string) (*ledger, error) {
	l := &ledger{start: time.Now(), log: zap.L().With(zap.String("kind", string(kind)), zap.String("catalog", catalogPath))}
	if p.store == nil || p.dryRun {
		return l, nil
	}
	run, err := p.store.CreateRun(ctx, kind, catalogPath, p.runConfig(kind))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	l.st, l.runID = p.store, run.ID
	l.log = l.log.With(zap.String("run_id", run.ID))
	return l, nil
}

// runConfig is the configuration snapshot stored with a run.
func (p *Pipeline) runConfig(kind model.RunKind) map[string]any {
	c := p.cfg
	out := map[string]any{
		"encoding":     c.Input.Encoding,
		"out_dir":      c.Output.Dir,
		"tdiff_format": c.Output.TDiffFormat,
	}
	if kind == model.RunKindCluster {
		out["min_pts"] = c.Cluster.MinPts
		out["eps"] = c.Cluster.Eps
		out["estimator"] = c.Cluster.Estimator
		return out
	}
	out["dist_km"] = c.Relocation.DistKm
	out["damping"] = c.Relocation.Damping
	out["iterations"] = c.Relocation.Iterations
	out["jobs"] = c.Relocation.Jobs
	out["hyp_bottom"] = c.Relocation.HypBottom
	out["median_center"] = c.Relocation.MedianCenter
	out["phase"] = c.Model.Phase
	return out
}

func (l *ledger) status(ctx context.Context, s model.RunStatus) {
	if l.st == nil {
		return
	}
	if err := l.st.UpdateRunStatus(ctx, l.runID, s); err != nil {
		l.log.Warn("pipeline: failed to update status", zap.String("status", string(s)), zap.Error(err))
	}
}

func (l *ledger) cluster(ctx context.Context, rec *model.ClusterRecord) {
	if l.st == nil {
		return
	}
	rec.RunID = l.runID
	if err := l.st.RecordCluster(ctx, rec); err != nil {
		l.log.Warn("pipeline: failed to record cluster", zap.Int("cluster", rec.ClusterID), zap.Error(err))
	}
}

func (l *ledger) events(ctx context.Context, events []*model.Event) {
	if l.st == nil {
		return
	}
	recs := make([]model.EventRecord, len(events))
	for i, e := range events {
		recs[i] = model.NewEventRecord(l.runID, i, e)
	}
	if _, err := l.st.SaveEvents(ctx, l.runID, recs); err != nil {
		l.log.Warn("pipeline: failed to save events", zap.Error(err))
	}
}

func (l *ledger) complete(ctx context.Context, res *model.RunResult) {
	res.DurationMs = time.Since(l.start).Milliseconds()
	if l.st == nil {
		return
	}
	if err := l.st.CompleteRun(ctx, l.runID, res); err != nil {
		l.log.Warn("pipeline: failed to complete run", zap.Error(err))
	}
}

// fail marks the run failed, or cancelled when err is an interruption. The
// ledger write uses a fresh context so a cancelled ctx still records it.
func (l *ledger) fail(err error, res *model.RunResult) {
	res.DurationMs = time.Since(l.start).Milliseconds()
	res.Error = err.Error()
	if l.st == nil {
		return
	}
	status := model.RunStatusFailed
	if fault.IsInterrupted(err) {
		status = model.RunStatusCancelled
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ferr := l.st.FailRun(ctx, l.runID, status, res); ferr != nil {
		l.log.Warn("pipeline: failed to record failure", zap.Error(ferr))
	}
}

// datOutputDir is the directory per-event .dat files of a step are written
// to: a sibling of the input .dat directory suffixed with the mode, or a
// dat_<mode> directory under the output directory.
func datOutputDir(datDir, outDir, mode string) string {
	suffix := "_" + strings.ToLower(mode)
	clean := filepath.Clean(datDir)
	if datDir == "" || clean == "." {
		return filepath.Join(outDir, "dat"+suffix)
	}
	return clean + suffix
}
