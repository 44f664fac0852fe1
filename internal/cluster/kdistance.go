package cluster

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/geo"
	"github.com/sells-group/tdreloc/internal/robust"
)

// KDistances returns, sorted ascending, the distance from every point to its
// k-th nearest other point. Points with fewer than k others are left out.
func KDistances(ix *geo.Index, k int) []float64 {
	out := make([]float64, 0, ix.Len())
	for i := 0; i < ix.Len(); i++ {
		nb := ix.Nearest(i, k)
		if len(nb) < k {
			continue
		}
		out = append(out, nb[k-1].DistKm)
	}
	sort.Float64s(out)
	return out
}

// Elbow returns the sorted k-distance at the point farthest from the chord
// joining the first and last values. Ties resolve to the lower index.
func Elbow(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n < 3 {
		return sorted[n-1]
	}
	x1, y1 := 0.0, sorted[0]
	x2, y2 := float64(n-1), sorted[n-1]
	dx, dy := x2-x1, y2-y1
	norm := math.Hypot(dx, dy)

	best, bestDist := 1, -1.0
	for i := 1; i < n-1; i++ {
		d := math.Abs(dy*float64(i)-dx*sorted[i]+x2*y1-y2*x1) / norm
		if d > bestDist {
			best, bestDist = i, d
		}
	}
	return sorted[best]
}

// Percentile returns the sorted value at round((n−1)·p). p may be given as
// a fraction (0.9) or as a percentage (90).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p > 1 {
		p /= 100
	}
	i := int(math.Round(float64(n-1) * p))
	return sorted[robust.Clamp(i, 0, n-1)]
}

// EstimateEps picks a neighborhood radius from the k-distance curve with
// k = minPts.
func EstimateEps(ix *geo.Index, minPts int, est Estimator, percentile float64) (float64, error) {
	kd := KDistances(ix, minPts)
	if len(kd) == 0 {
		return 0, eris.Errorf("cluster: need more than %d events to estimate eps, have %d", minPts, ix.Len())
	}
	switch est {
	case EstimatorPercentile:
		return Percentile(kd, percentile), nil
	case EstimatorElbow, "":
		return Elbow(kd), nil
	default:
		return 0, eris.Errorf("cluster: unknown eps estimator %q", est)
	}
}
