package calculations

import (
	"math"
	"sort"

	"github.com/penwyp/peakcat/models"
)

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks: rank = p/100 * (n-1). The input is not
// modified. ok is false for an empty input.
func Percentile(values []float64, p float64) (value float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return PercentileSorted(sorted, p), true
}

// PercentileSorted is Percentile over an already ascending slice. It panics on
// an empty slice.
func PercentileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[n-1]
	}

	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Median is the 50th percentile.
func Median(values []float64) (float64, bool) {
	return Percentile(values, 50)
}

// ComputePercentiles returns P25/P50/P75/P95 and the max over an ascending
// slice, or nil when it is empty.
func ComputePercentiles(sorted []float64) *models.Percentiles {
	if len(sorted) == 0 {
		return nil
	}
	return &models.Percentiles{
		P25: PercentileSorted(sorted, 25),
		P50: PercentileSorted(sorted, 50),
		P75: PercentileSorted(sorted, 75),
		P95: PercentileSorted(sorted, 95),
		Max: sorted[len(sorted)-1],
	}
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
