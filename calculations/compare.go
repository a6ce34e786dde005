package calculations

import (
	"context"
	"time"

	"github.com/penwyp/peakcat/models"
)

// Comparison splits records at a cutoff and aggregates each side.
type Comparison struct {
	Cutoff         time.Time
	Before         []models.Bucket
	After          []models.Bucket
	BeforeCount    int
	AfterCount     int
	OverallBefore  float64
	OverallAfter   float64
	ImprovementPct float64
	// Comparable is false when one side has no samples of the measure.
	Comparable bool
}

// CompareAround aggregates records before the cutoff and at-or-after it with
// the same options, and reports the overall P95 of the measure on each side.
func CompareAround(ctx context.Context, records []models.Record, cutoff time.Time, opts AggregateOptions) (Comparison, error) {
	var before, after []models.Record
	for _, r := range records {
		if r.Timestamp.Before(cutoff) {
			before = append(before, r)
		} else {
			after = append(after, r)
		}
	}

	cmp := Comparison{Cutoff: cutoff.UTC(), BeforeCount: len(before), AfterCount: len(after)}

	var err error
	if cmp.Before, err = Aggregate(ctx, before, opts); err != nil {
		return Comparison{}, err
	}
	if cmp.After, err = Aggregate(ctx, after, opts); err != nil {
		return Comparison{}, err
	}

	b := MeasureValues(before, opts.MeasureField)
	a := MeasureValues(after, opts.MeasureField)
	if len(b) > 0 && len(a) > 0 {
		cmp.OverallBefore = PercentileSorted(b, 95)
		cmp.OverallAfter = PercentileSorted(a, 95)
		cmp.ImprovementPct = ImprovementPct(cmp.OverallBefore, cmp.OverallAfter)
		cmp.Comparable = true
	}
	return cmp, nil
}

// ImprovementPct is the relative reduction from before to after, in percent.
// Positive means faster.
func ImprovementPct(before, after float64) float64 {
	if before == 0 {
		return 0
	}
	return (before - after) / before * 100
}

// PercentageChange calculates percentage change between two values
func PercentageChange(old, new float64) float64 {
	if old == 0 {
		if new == 0 {
			return 0
		}
		return 100 // Infinite increase, cap at 100%
	}
	return ((new - old) / old) * 100
}
