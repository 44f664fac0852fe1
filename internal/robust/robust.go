// Package robust provides the M-estimation helpers used to down-weight
// outlying triple-difference residuals.
package robust

import (
	"math"
	"slices"

	"golang.org/x/exp/constraints"
)

// BiweightC is the Tukey biweight tuning constant (95% efficiency under
// Gaussian noise).
const BiweightC = 4.685

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Median returns the median of x without modifying it. NaN for empty input.
func Median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	s := slices.Clone(x)
	slices.Sort(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// MAD returns the median absolute deviation of x about its median.
func MAD(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	med := Median(x)
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - med)
	}
	return Median(dev)
}

// Biweight returns Tukey's biweight (1 − u²)² for |u| ≤ 1, else 0.
func Biweight(u float64) float64 {
	if math.IsNaN(u) || math.Abs(u) > 1 {
		return 0
	}
	t := 1 - u*u
	return t * t
}

// BiweightWeights returns per-residual weights with u = r / (c·MAD). When
// the scale is degenerate (MAD below minScale or not finite) every weight
// is 1 and ok is false.
func BiweightWeights(residuals []float64, c, minScale float64) (w []float64, mad float64, ok bool) {
	w = make([]float64, len(residuals))
	mad = MAD(residuals)
	if len(residuals) == 0 || math.IsNaN(mad) || math.IsInf(mad, 0) || mad < minScale {
		for i := range w {
			w[i] = 1
		}
		return w, mad, false
	}
	scale := c * mad
	for i, r := range residuals {
		w[i] = Biweight(r / scale)
	}
	return w, mad, true
}
