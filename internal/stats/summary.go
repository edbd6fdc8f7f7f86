package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean, 0 for an empty slice
func Mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

// Std returns the sample standard deviation (n-1), 0 for fewer than two values
func Std(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	return stat.StdDev(vals, nil)
}

// Sum adds vals
func Sum(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return floats.Sum(vals)
}

// Percentile returns the q-quantile with linear interpolation between the
// order statistics at floor and ceil of (n-1)*q. Empty input yields 0.
func Percentile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	idx := float64(len(sorted)-1) * q
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	t := idx - float64(lo)
	return sorted[lo]*(1-t) + sorted[hi]*t
}

// FiniteOnly drops NaN and infinite values
func FiniteOnly(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if IsFinite(v) {
			out = append(out, v)
		}
	}
	return out
}
