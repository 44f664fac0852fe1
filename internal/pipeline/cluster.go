package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/catalog"
	"github.com/sells-group/tdreloc/internal/cluster"
	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/model"
	"github.com/sells-group/tdreloc/internal/tripdiff"
)

// ClusterResult summarises a cluster step.
type ClusterResult struct {
	RunID    string  `json:"run_id,omitempty"`
	Events   int     `json:"events"`
	Clusters int     `json:"clusters"`
	Noise    int     `json:"noise"`
	Filtered int     `json:"filtered"`
	Eps      float64 `json:"eps_km"`
	// Reused is set when the catalog already carried cluster ids.
	Reused bool `json:"reused"`
	// TripleDiffs counts triple differences per cluster id.
	TripleDiffs map[int]int `json:"triple_diffs"`
	Output      string      `json:"output"`
	// Files lists the triple-difference files written or planned.
	Files  []string `json:"files"`
	DryRun bool     `json:"dry_run,omitempty"`
}

// Cluster loads the configured catalog, clusters it, writes <base>_cls.csv
// and extracts one triple-difference file per cluster. Without a station
// file only the clustered catalog is written.
func (p *Pipeline) Cluster(ctx context.Context) (*ClusterResult, error) {
	in := p.cfg.Input
	outDir := p.cfg.Output.Dir
	tdFormat, err := tripdiff.ParseFormat(p.cfg.Output.TDiffFormat)
	if err != nil {
		return nil, fault.NewConfigError("output.tdiff_format", "%v", err)
	}

	events, err := catalog.Load(in.Catalog, in.Encoding)
	if err != nil {
		return nil, err
	}

	l, err := p.openLedger(ctx, model.RunKindCluster, in.Catalog)
	if err != nil {
		return nil, err
	}
	log := l.log
	runRes := &model.RunResult{Events: len(events)}

	res := &ClusterResult{
		RunID:       l.runID,
		Events:      len(events),
		TripleDiffs: map[int]int{},
		Output:      catalog.OutputName(in.Catalog, model.ModeCls, outDir),
		DryRun:      p.dryRun,
	}

	l.status(ctx, model.RunStatusClustering)
	cres, err := cluster.Assign(events, cluster.Params{
		MinPts:     p.cfg.Cluster.MinPts,
		Eps:        p.cfg.Cluster.Eps,
		Estimator:  cluster.Estimator(p.cfg.Cluster.Estimator),
		Percentile: p.cfg.Cluster.Percentile,
	}, cluster.Filter{
		RMSThreshold:    p.cfg.Cluster.RMSThreshold,
		LocErrThreshold: p.cfg.Cluster.LocErrThreshold,
	})
	if err != nil {
		l.fail(err, runRes)
		return nil, err
	}
	res.Clusters, res.Noise, res.Filtered = cres.Clusters, cres.Noise, cres.Filtered
	res.Eps, res.Reused = cres.Eps, cres.Skipped
	runRes.Clusters = cres.Clusters

	log.Info("pipeline: clustering complete",
		zap.Int("clusters", cres.Clusters),
		zap.Int("noise", cres.Noise),
		zap.Float64("eps_km", cres.Eps),
		zap.Bool("reused", cres.Skipped),
	)

	if !p.dryRun {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			err = eris.Wrapf(err, "pipeline: create output dir %s", outDir)
			l.fail(err, runRes)
			return nil, err
		}
		if err := catalog.Save(res.Output, events); err != nil {
			l.fail(err, runRes)
			return nil, err
		}
	}
	runRes.Output = res.Output

	if in.Stations == "" {
		log.Warn("pipeline: no station file configured, skipping triple-difference extraction")
		l.complete(ctx, runRes)
		return res, nil
	}

	stations, err := catalog.LoadStations(in.Stations, in.Encoding)
	if err != nil {
		l.fail(err, runRes)
		return nil, err
	}
	loaded := catalog.AttachLags(events, in.DatDir, in.Encoding, stations, in.Threshold)
	log.Info("pipeline: lag tables loaded", zap.Int("events", loaded), zap.Int("stations", stations.Len()))

	l.status(ctx, model.RunStatusExtracting)
	ids, members := catalog.Clusters(events)
	for _, cid := range ids {
		if err := fault.Interrupted(ctx, "pipeline: extract"); err != nil {
			l.fail(err, runRes)
			return nil, err
		}
		sub := make([]*model.Event, len(members[cid]))
		for k, i := range members[cid] {
			sub[k] = events[i]
		}

		tds := tripdiff.Extract(sub, cid)
		path := filepath.Join(outDir, tripdiff.FileName(cid, tdFormat))
		res.TripleDiffs[cid] = len(tds)
		res.Files = append(res.Files, path)
		runRes.TripleDiffs += len(tds)

		rec := &model.ClusterRecord{
			ClusterID:   cid,
			Status:      model.ClusterStatusComplete,
			Events:      len(sub),
			TripleDiffs: len(tds),
		}
		if len(tds) == 0 {
			rec.Status = model.ClusterStatusSkipped
			runRes.Skipped++
			log.Warn("pipeline: cluster has no triple differences", zap.Int("cluster", cid), zap.Int("events", len(sub)))
		}
		if !p.dryRun {
			if err := tripdiff.Write(path, tds, tdFormat); err != nil {
				rec.Status, rec.Error = model.ClusterStatusFailed, err.Error()
				log.Error("pipeline: write triple differences", zap.Int("cluster", cid), zap.Error(err))
			}
		}
		l.cluster(ctx, rec)
	}

	log.Info("pipeline: triple differences extracted",
		zap.Int("clusters", len(ids)),
		zap.Int("triple_diffs", runRes.TripleDiffs),
	)
	l.complete(ctx, runRes)
	return res, nil
}
