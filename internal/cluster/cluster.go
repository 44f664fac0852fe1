package cluster

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/geo"
	"github.com/sells-group/tdreloc/internal/model"
)

// Estimator selects how eps is derived from the k-distance curve.
type Estimator string

const (
	EstimatorElbow      Estimator = "elbow"
	EstimatorPercentile Estimator = "percentile"
)

// Params configures a clustering pass. Eps ≤ 0 requests an estimate.
type Params struct {
	MinPts     int
	Eps        float64
	Estimator  Estimator
	Percentile float64
}

// Filter excludes poorly located events from clustering. Zero disables a
// threshold.
type Filter struct {
	RMSThreshold    float64
	LocErrThreshold float64
}

// Accept reports whether e passes the filter.
func (f Filter) Accept(e *model.Event) bool {
	if f.RMSThreshold > 0 && e.RMS > f.RMSThreshold {
		return false
	}
	if f.LocErrThreshold > 0 && (e.ErrLon > f.LocErrThreshold || e.ErrLat > f.LocErrThreshold) {
		return false
	}
	return true
}

// Result summarises a clustering pass.
type Result struct {
	Labels    []int
	Clusters  int
	Noise     int
	Filtered  int
	Eps       float64
	Estimated bool
	// Skipped is set when the catalog already carried cluster ids.
	Skipped bool
}

// Sizes counts members per cluster id, noise excluded.
func (r *Result) Sizes() map[int]int {
	sizes := make(map[int]int)
	for _, l := range r.Labels {
		if l > 0 {
			sizes[l]++
		}
	}
	return sizes
}

// Cluster runs DBSCAN over the given coordinates, estimating eps first when
// p.Eps ≤ 0.
func Cluster(lat, lon []float64, p Params) (*Result, error) {
	if p.MinPts < 1 {
		return nil, eris.Errorf("cluster: min_pts must be positive, got %d", p.MinPts)
	}
	if len(lat) != len(lon) {
		return nil, eris.Errorf("cluster: %d latitudes for %d longitudes", len(lat), len(lon))
	}

	ix := geo.NewIndex(lat, lon)
	res := &Result{Eps: p.Eps}
	if p.Eps <= 0 {
		eps, err := EstimateEps(ix, p.MinPts, p.Estimator, p.Percentile)
		if err != nil {
			return nil, err
		}
		res.Eps, res.Estimated = eps, true
		zap.L().Info("cluster: estimated eps",
			zap.Float64("eps_km", eps),
			zap.String("estimator", string(p.Estimator)),
			zap.Int("min_pts", p.MinPts),
		)
		if eps <= 0 {
			zap.L().Warn("cluster: estimated eps is zero, only co-located events will cluster")
		}
	}

	res.Labels, res.Clusters = DBSCAN(ix, res.Eps, p.MinPts)
	for _, l := range res.Labels {
		if l == model.ClusterNoise {
			res.Noise++
		}
	}
	return res, nil
}

// AlreadyClustered reports whether any event carries a cluster id.
func AlreadyClustered(events []*model.Event) bool {
	for _, e := range events {
		if e.Clustered() {
			return true
		}
	}
	return false
}

// Assign clusters the catalog in place. Events in error state and events
// rejected by f are labelled noise. A catalog that already carries cluster
// ids is left untouched.
func Assign(events []*model.Event, p Params, f Filter) (*Result, error) {
	if AlreadyClustered(events) {
		zap.L().Info("cluster: catalog already clustered, skipping", zap.Int("events", len(events)))
		labels := make([]int, len(events))
		for i, e := range events {
			labels[i] = e.ClusterID
		}
		res := &Result{Labels: labels, Skipped: true}
		for _, l := range labels {
			if l > res.Clusters {
				res.Clusters = l
			}
			if l == model.ClusterNoise {
				res.Noise++
			}
		}
		return res, nil
	}
	if len(events) == 0 {
		return nil, eris.New("cluster: empty catalog")
	}

	var (
		members  []int
		lat, lon []float64
		filtered int
	)
	for i, e := range events {
		if e.State == model.StateError {
			continue
		}
		if !f.Accept(e) {
			filtered++
			continue
		}
		members = append(members, i)
		lat = append(lat, e.Lat)
		lon = append(lon, e.Lon)
	}
	if filtered > 0 {
		zap.L().Info("cluster: events excluded by rms/location-error filter",
			zap.Int("filtered", filtered),
			zap.Float64("rms_threshold", f.RMSThreshold),
			zap.Float64("loc_err_threshold", f.LocErrThreshold),
		)
	}
	if len(members) == 0 {
		return nil, eris.New("cluster: no events left after filtering")
	}

	sub, err := Cluster(lat, lon, p)
	if err != nil {
		return nil, err
	}

	labels := make([]int, len(events))
	for k, i := range members {
		labels[i] = sub.Labels[k]
	}
	for i, e := range events {
		e.ClusterID = labels[i]
	}

	res := &Result{
		Labels:    labels,
		Clusters:  sub.Clusters,
		Noise:     len(events) - len(members) + sub.Noise,
		Filtered:  filtered,
		Eps:       sub.Eps,
		Estimated: sub.Estimated,
	}
	zap.L().Info("cluster: complete",
		zap.Int("events", len(events)),
		zap.Int("clusters", res.Clusters),
		zap.Int("noise", res.Noise),
		zap.Float64("eps_km", res.Eps),
	)
	return res, nil
}
