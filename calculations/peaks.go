package calculations

import (
	"fmt"
	"sort"

	"github.com/penwyp/peakcat/models"
)

// PeakMode selects the peak rule.
type PeakMode string

const (
	// PeakFixedWindow marks buckets inside configured hour windows.
	PeakFixedWindow PeakMode = "fixed-window"
	// PeakRelativeQuartile marks buckets whose count reaches the upper
	// quartile of non-empty bucket counts.
	PeakRelativeQuartile PeakMode = "relative-quartile"

	DefaultPeakQuantile = 75.0
)

// ParsePeakMode validates a mode name.
func ParsePeakMode(s string) (PeakMode, error) {
	switch PeakMode(s) {
	case PeakFixedWindow, PeakRelativeQuartile:
		return PeakMode(s), nil
	}
	return "", fmt.Errorf("invalid peak mode: %s (valid options: %s, %s)", s, PeakFixedWindow, PeakRelativeQuartile)
}

// PeakParams configures ClassifyPeaks.
type PeakParams struct {
	Periods  *PeriodSet
	Quantile float64
}

// PeakResult is the outcome of classification.
type PeakResult struct {
	Buckets   []models.Bucket
	PeakKeys  []string
	PeakCount int
	Total     int
	Threshold float64
	Coverage  float64
}

// ClassifyPeaks returns a copy of buckets with IsPeak set. PeakKeys is in
// ascending key order and Coverage is the fraction of all records that fall
// in peak buckets (0 when there are none).
func ClassifyPeaks(buckets []models.Bucket, mode PeakMode, params PeakParams) (PeakResult, error) {
	out := models.CloneBuckets(buckets)
	res := PeakResult{Total: models.TotalCount(out)}

	switch mode {
	case PeakFixedWindow:
		if params.Periods == nil {
			return PeakResult{}, fmt.Errorf("fixed-window peaks require at least one window")
		}
		for i := range out {
			out[i].IsPeak = inFixedWindow(out[i], params.Periods)
		}
	case PeakRelativeQuartile:
		q := params.Quantile
		if q <= 0 {
			q = DefaultPeakQuantile
		}
		if q > 100 {
			return PeakResult{}, fmt.Errorf("peak quantile %.2f out of range (0, 100]", q)
		}
		counts := make([]float64, 0, len(out))
		for _, b := range out {
			if b.Count > 0 {
				counts = append(counts, float64(b.Count))
			}
		}
		threshold, ok := Percentile(counts, q)
		res.Threshold = threshold
		for i := range out {
			out[i].IsPeak = ok && out[i].Count > 0 && float64(out[i].Count) >= threshold
		}
	default:
		return PeakResult{}, fmt.Errorf("unknown peak mode %q", mode)
	}

	summarizeFlags(&res, out)
	return res, nil
}

// PeaksFromFlags builds a PeakResult from IsPeak flags already set on the
// buckets, for sources that classify upstream.
func PeaksFromFlags(buckets []models.Bucket) PeakResult {
	out := models.CloneBuckets(buckets)
	res := PeakResult{Total: models.TotalCount(out)}
	summarizeFlags(&res, out)
	return res
}

func summarizeFlags(res *PeakResult, buckets []models.Bucket) {
	for _, b := range buckets {
		if b.IsPeak {
			res.PeakKeys = append(res.PeakKeys, b.Key)
			res.PeakCount += b.Count
		}
	}
	sort.Strings(res.PeakKeys)
	if res.Total > 0 {
		res.Coverage = float64(res.PeakCount) / float64(res.Total)
	}
	res.Buckets = buckets
}

func inFixedWindow(b models.Bucket, periods *PeriodSet) bool {
	if hourKey, ok := b.Dimensions["hour"]; ok {
		if h, ok := ParseHourKey(hourKey); ok {
			return periods.InWindow(h)
		}
	}
	if name, ok := b.Dimensions["period"]; ok {
		return periods.IsWindowName(name)
	}
	if h, ok := ParseHourKey(b.Key); ok {
		return periods.InWindow(h)
	}
	return periods.IsWindowName(b.Key)
}
