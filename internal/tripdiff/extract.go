// Package tripdiff builds and persists the triple-difference observations
// of a cluster.
package tripdiff

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/geo"
	"github.com/sells-group/tdreloc/internal/model"
)

type stationPair struct {
	a, b int
}

// Extract compares every usable event pair of one cluster and emits a
// triple difference for each station pair both events observed. The result
// is ordered by inter-event distance, ascending.
//
// Pairs are skipped when either event is in error state or both are
// reference events. Events without a lag table are skipped and logged.
func Extract(events []*model.Event, clusterID int) []model.TripleDifference {
	// Index each event's lag rows by station pair once.
	lags := make([]map[stationPair][]float64, len(events))
	for i, e := range events {
		if e.State == model.StateError {
			continue
		}
		if len(e.Lags) == 0 {
			zap.L().Warn("tripdiff: event has no lag table, skipping",
				zap.Int("cluster", clusterID),
				zap.Int("event", i),
				zap.String("file", e.File),
			)
			continue
		}
		m := make(map[stationPair][]float64, len(e.Lags))
		for _, r := range e.Lags {
			k := stationPair{r.StationA, r.StationB}
			m[k] = append(m[k], r.Lag)
		}
		lags[i] = m
	}

	var out []model.TripleDifference
	for i := 0; i < len(events); i++ {
		if lags[i] == nil {
			continue
		}
		e0 := events[i]
		for j := i + 1; j < len(events); j++ {
			if lags[j] == nil {
				continue
			}
			e1 := events[j]
			if e0.State == model.StateReference && e1.State == model.StateReference {
				continue
			}
			dist := geo.Haversine(e0.Lat, e0.Lon, e1.Lat, e1.Lon)
			// Walk e0's rows in file order so output is reproducible.
			for _, r0 := range e0.Lags {
				for _, lag1 := range lags[j][stationPair{r0.StationA, r0.StationB}] {
					out = append(out, model.TripleDifference{
						Event0:    i,
						Event1:    j,
						Station0:  r0.StationA,
						Station1:  r0.StationB,
						Lag:       lag1 - r0.Lag,
						DistKm:    dist,
						ClusterID: clusterID,
					})
				}
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].DistKm < out[b].DistKm })
	return out
}

// WithinDistance returns the prefix of a distance-sorted set whose
// inter-event distance is strictly below maxKm.
func WithinDistance(tds []model.TripleDifference, maxKm float64) []model.TripleDifference {
	n := sort.Search(len(tds), func(i int) bool { return tds[i].DistKm >= maxKm })
	return tds[:n]
}
