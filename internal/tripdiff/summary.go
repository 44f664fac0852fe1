package tripdiff

import (
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/tdreloc/internal/model"
)

// Summary describes a triple-difference set.
type Summary struct {
	Count      int     `json:"count"`
	Clusters   []int   `json:"clusters"`
	Events     int     `json:"events"`
	Stations   int     `json:"stations"`
	MinDistKm  float64 `json:"min_dist_km"`
	MaxDistKm  float64 `json:"max_dist_km"`
	MeanLag    float64 `json:"mean_lag"`
	StdLag     float64 `json:"std_lag"`
	MedianLag  float64 `json:"median_lag"`
	MedianDist float64 `json:"median_dist_km"`
}

// Summarize computes counts and lag/distance statistics of tds.
func Summarize(tds []model.TripleDifference) Summary {
	s := Summary{Count: len(tds)}
	if len(tds) == 0 {
		return s
	}

	clusters := map[int]struct{}{}
	events := map[[2]int]struct{}{}
	stations := map[int]struct{}{}
	lags := make([]float64, len(tds))
	dists := make([]float64, len(tds))
	for i, td := range tds {
		clusters[td.ClusterID] = struct{}{}
		events[[2]int{td.ClusterID, td.Event0}] = struct{}{}
		events[[2]int{td.ClusterID, td.Event1}] = struct{}{}
		stations[td.Station0] = struct{}{}
		stations[td.Station1] = struct{}{}
		lags[i], dists[i] = td.Lag, td.DistKm
	}
	for cid := range clusters {
		s.Clusters = append(s.Clusters, cid)
	}
	slices.Sort(s.Clusters)
	s.Events, s.Stations = len(events), len(stations)

	s.MeanLag, s.StdLag = stat.MeanStdDev(lags, nil)
	if len(lags) < 2 {
		s.StdLag = 0
	}
	slices.Sort(lags)
	slices.Sort(dists)
	s.MedianLag = stat.Quantile(0.5, stat.Empirical, lags, nil)
	s.MedianDist = stat.Quantile(0.5, stat.Empirical, dists, nil)
	s.MinDistKm, s.MaxDistKm = dists[0], dists[len(dists)-1]
	return s
}
