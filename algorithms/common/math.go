package common

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical functions used across algorithms using gonum for robustness

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// PopStdDev calculates the population standard deviation using gonum
func PopStdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0.0
	}
	_, std := stat.PopMeanStdDev(data, nil)
	return std
}

// CoefficientOfVariation returns population std / mean. Empty input or a
// non-positive mean yields +Inf so callers treat it as "not clustered".
func CoefficientOfVariation(data []float64) float64 {
	if len(data) == 0 {
		return math.Inf(1)
	}
	mean := Mean(data)
	if mean <= 0 {
		return math.Inf(1)
	}
	return PopStdDev(data) / mean
}

// Median returns the median of data without modifying it. Even-length input
// averages the two middle values.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2.0
	}
	return sorted[mid]
}

// Max returns the largest value, or 0 for empty input
func Max(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Max(data)
}

// RelativeDifference returns |a-b| / |b|, or +Inf when b is zero
func RelativeDifference(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Abs(b)
}

// EMA moves prev towards value by alpha
func EMA(prev, value, alpha float64) float64 {
	if alpha <= 0 {
		return prev
	}
	if alpha >= 1 {
		return value
	}
	return prev + alpha*(value-prev)
}

// IsFinite reports whether v is neither NaN nor infinite
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
