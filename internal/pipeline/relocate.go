package pipeline

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/catalog"
	"github.com/sells-group/tdreloc/internal/config"
	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/reloc"
	"github.com/sells-group/tdreloc/internal/tripdiff"
)

// ClusterOutcome is the relocation result of one cluster.
type ClusterOutcome struct {
	ClusterID int                 `json:"cluster_id"`
	Status    model.ClusterStatus `json:"status"`
	File      string              `json:"file"`
	Report    *reloc.Report       `json:"report,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// RelocateResult summarises a relocate step.
type RelocateResult struct {
	RunID     string           `json:"run_id,omitempty"`
	Events    int              `json:"events"`
	Clusters  []ClusterOutcome `json:"clusters"`
	Relocated int              `json:"relocated"`
	Errors    int              `json:"errors"`
	Output    string           `json:"output"`
	DatDir    string           `json:"dat_dir"`
	DryRun    bool             `json:"dry_run,omitempty"`
}

// Failed counts clusters that could not be relocated.
func (r *RelocateResult) Failed() int {
	n := 0
	for _, c := range r.Clusters {
		if c.Status == model.ClusterStatusFailed {
			n++
		}
	}
	return n
}

// Relocate relocates every cluster of a clustered catalog, in ascending
// cluster id order, and writes <base>_trd.csv plus one .dat file per event.
// An empty catalogPath uses the configured input catalog. Triple-difference
// files are read from the catalog's directory.
//
// A cluster whose triple differences are missing or whose relocation fails
// is logged, recorded as failed and left unchanged; its siblings still run.
// Each cluster is relocated on a copy of its events that replaces the
// originals only on success. Interruption fails the run as cancelled and
// returns an error matching fault.ErrInterrupted.
func (p *Pipeline) Relocate(ctx context.Context, catalogPath string) (*RelocateResult, error) {
	in := p.cfg.Input
	outDir := p.cfg.Output.Dir
	if catalogPath == "" {
		catalogPath = in.Catalog
	}
	tdFormat, err := tripdiff.ParseFormat(p.cfg.Output.TDiffFormat)
	if err != nil {
		return nil, fault.NewConfigError("output.tdiff_format", "%v", err)
	}
	opts, err := RelocOptions(p.cfg.Relocation)
	if err != nil {
		return nil, err
	}

	stations, err := catalog.LoadStations(in.Stations, in.Encoding)
	if err != nil {
		return nil, err
	}
	relocator, err := reloc.New(p.provider, stations, opts)
	if err != nil {
		return nil, err
	}
	events, err := catalog.Load(catalogPath, in.Encoding)
	if err != nil {
		return nil, err
	}
	catalog.AttachLags(events, in.DatDir, in.Encoding, stations, in.Threshold)

	l, err := p.openLedger(ctx, model.RunKindRelocate, catalogPath)
	if err != nil {
		return nil, err
	}
	log := l.log

	res := &RelocateResult{
		RunID:  l.runID,
		Events: len(events),
		Output: catalog.OutputName(catalogPath, model.ModeTrd, outDir),
		DatDir: datOutputDir(in.DatDir, outDir, model.ModeTrd),
		DryRun: p.dryRun,
	}
	runRes := &model.RunResult{Events: len(events), Output: res.Output}

	ids, members := catalog.Clusters(events)
	runRes.Clusters = len(ids)
	if len(ids) == 0 {
		log.Warn("pipeline: catalog has no clusters, nothing to relocate")
	}

	l.status(ctx, model.RunStatusRelocating)
	tdDir := filepath.Dir(catalogPath)
	for _, cid := range ids {
		if err := fault.Interrupted(ctx, "pipeline: relocate"); err != nil {
			l.fail(err, runRes)
			return nil, err
		}

		out := ClusterOutcome{ClusterID: cid, File: tdiffPath(tdDir, cid, tdFormat)}
		rec := &model.ClusterRecord{ClusterID: cid, Events: len(members[cid])}

		if p.dryRun {
			out.Status = model.ClusterStatusComplete
			if _, err := os.Stat(out.File); err != nil {
				out.Status, out.Error = model.ClusterStatusFailed, "triple-difference file not found"
			}
			res.Clusters = append(res.Clusters, out)
			continue
		}

		start := time.Now()
		rep, err := p.relocateCluster(ctx, relocator, cid, out.File, events, members[cid])
		rec.DurationMs = time.Since(start).Milliseconds()
		switch {
		case fault.IsInterrupted(err):
			l.fail(err, runRes)
			return nil, err
		case err != nil:
			out.Status, out.Error = model.ClusterStatusFailed, err.Error()
			rec.Status, rec.Error = model.ClusterStatusFailed, err.Error()
			runRes.Skipped++
			log.Error("pipeline: cluster skipped", zap.Int("cluster", cid), zap.String("file", out.File), zap.Error(err))
		default:
			out.Status, out.Report = model.ClusterStatusComplete, rep
			if !rep.Relocated() {
				out.Status = model.ClusterStatusSkipped
				runRes.Skipped++
			}
			rec.Status = out.Status
			rec.Targets, rec.Errors = rep.Targets, len(rep.Errors)
			rec.TripleDiffs, rec.Stages = rep.TripleDiffs, rep.Stages
			runRes.TripleDiffs += rep.TripleDiffs
			log.Info("pipeline: cluster relocated",
				zap.Int("cluster", cid),
				zap.Int("events", rep.Events),
				zap.Int("targets", rep.Targets),
				zap.Int("errors", len(rep.Errors)),
				zap.Float64("rms", rep.RMS),
				zap.Int64("duration_ms", rec.DurationMs),
			)
		}
		res.Clusters = append(res.Clusters, out)
		l.cluster(ctx, rec)
	}

	for _, e := range events {
		switch {
		case e.State == model.StateError:
			res.Errors++
		case e.State == model.StateTarget && e.Mode == model.ModeTrd:
			res.Relocated++
		}
	}
	runRes.Relocated, runRes.Errors = res.Relocated, res.Errors

	if p.dryRun {
		return res, nil
	}

	l.status(ctx, model.RunStatusWriting)
	if err := writeRelocated(res, events, stations.Codes()); err != nil {
		l.fail(err, runRes)
		return nil, err
	}
	l.events(ctx, events)

	log.Info("pipeline: relocation complete",
		zap.Int("clusters", len(ids)),
		zap.Int("failed", res.Failed()),
		zap.Int("relocated", res.Relocated),
		zap.Int("errors", res.Errors),
		zap.String("output", res.Output),
	)
	l.complete(ctx, runRes)
	return res, nil
}

// relocateCluster relocates clones of the member events and commits them
// back into events on success.
func (p *Pipeline) relocateCluster(ctx context.Context, r *reloc.Relocator, cid int, path string, events []*model.Event, members []int) (*reloc.Report, error) {
	tds, err := tripdiff.Read(path)
	if err != nil {
		return nil, fault.NewDataError(fmt.Sprintf("cluster %d", cid), err)
	}

	sub := make([]*model.Event, len(members))
	for k, i := range members {
		sub[k] = events[i].Clone()
	}
	rep, err := r.Relocate(ctx, cid, sub, tds)
	if err != nil {
		return nil, err
	}
	for k, i := range members {
		events[i] = sub[k]
	}
	return rep, nil
}

func writeRelocated(res *RelocateResult, events []*model.Event, codes []string) error {
	if err := os.MkdirAll(filepath.Dir(res.Output), 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create output dir for %s", res.Output)
	}
	if err := catalog.Save(res.Output, events); err != nil {
		return err
	}
	if err := os.MkdirAll(res.DatDir, 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create dat dir %s", res.DatDir)
	}
	for i, e := range events {
		if err := catalog.SaveDat(filepath.Join(res.DatDir, catalog.DatName(e, i)), e, codes); err != nil {
			return err
		}
	}
	return nil
}

// tdiffPath returns the triple-difference file of a cluster, preferring the
// configured format and falling back to the other encoding when only that
// one exists.
func tdiffPath(dir string, cid int, preferred tripdiff.Format) string {
	path := filepath.Join(dir, tripdiff.FileName(cid, preferred))
	if _, err := os.Stat(path); err == nil {
		return path
	}
	other := tripdiff.FormatCSV
	if preferred == tripdiff.FormatCSV {
		other = tripdiff.FormatBinary
	}
	alt := filepath.Join(dir, tripdiff.FileName(cid, other))
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return path
}

// planFromCluster lists the relocation a dry-run cluster step would lead to.
func planFromCluster(cfg *config.Config, cres *ClusterResult) *RelocateResult {
	res := &RelocateResult{
		Events: cres.Events,
		Output: catalog.OutputName(cres.Output, model.ModeTrd, cfg.Output.Dir),
		DatDir: datOutputDir(cfg.Input.DatDir, cfg.Output.Dir, model.ModeTrd),
		DryRun: true,
	}
	ids := slices.Sorted(maps.Keys(cres.TripleDiffs))
	for k, cid := range ids {
		out := ClusterOutcome{ClusterID: cid, Status: model.ClusterStatusComplete, File: cres.Files[k]}
		if cres.TripleDiffs[cid] == 0 {
			out.Status = model.ClusterStatusSkipped
		}
		res.Clusters = append(res.Clusters, out)
	}
	return res
}
