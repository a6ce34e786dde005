package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/penwyp/peakcat/calculations"
	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
)

// Params are the run-time inputs shared by every question.
type Params struct {
	Start         time.Time
	End           time.Time
	OffsetMinutes int
	Limit         int
	Cutoff        time.Time
	Periods       *calculations.PeriodSet
	Quantile      float64
	Workers       int
	Strict        bool
}

// InRange reports whether t falls in [Start, End).
func (p Params) InRange(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// DefaultWindows are the meal-time windows used when none are configured.
func DefaultWindows() []calculations.Window {
	return []calculations.Window{
		{Name: "lunch", Start: 12, End: 14},
		{Name: "dinner", Start: 19, End: 21},
	}
}

func (p Params) periods() *calculations.PeriodSet {
	if p.Periods != nil {
		return p.Periods
	}
	ps, err := calculations.NewPeriodSet(DefaultWindows(), calculations.DefaultPeriodLabel)
	if err != nil {
		panic(err)
	}
	return ps
}

// FromRows normalizes raw rows and runs the local computation. In strict
// mode a non-empty input that yields no valid record is a schema violation.
func FromRows(ctx context.Context, def *Definition, rows []models.RawRow, p Params) (*models.Result, error) {
	records, rejected := Normalize(rows, def.Schema)
	if rejected > 0 {
		logging.LogDebugf("Question %s: rejected %d of %d rows during normalization", def.ID, rejected, len(rows))
	}
	if p.Strict && rejected > 0 && len(records) == 0 {
		return nil, errors.NewSchemaViolation("all %d rows failed validation for %s", rejected, def.ID).
			With("question", def.ID)
	}
	return FromRecords(ctx, def, records, rejected, p)
}

// FromRecords buckets records inside the query range, classifies peaks and
// builds the summary. Records outside the range, or refused by the
// definition's keep filter, are dropped, not rejected.
func FromRecords(ctx context.Context, def *Definition, records []models.Record, rejected int, p Params) (*models.Result, error) {
	p.Periods = p.periods()

	inRange := make([]models.Record, 0, len(records))
	for _, r := range records {
		if !p.InRange(r.Timestamp) {
			continue
		}
		if def.keep != nil && !def.keep(r) {
			continue
		}
		inRange = append(inRange, r)
	}

	opts := def.AggregateOptions(p)
	buckets, err := calculations.Aggregate(ctx, inRange, opts)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", def.ID, err)
	}

	res, err := finish(def, buckets, rejected, p)
	if err != nil {
		return nil, err
	}
	if def.extend != nil {
		if err := def.extend(ctx, extendInput{records: inRange, params: p, opts: opts}, res); err != nil {
			return nil, fmt.Errorf("extend %s: %w", def.ID, err)
		}
	}
	applyLimit(def, res, p)
	return res, nil
}

// finish classifies peaks on the primary table and fills the summary.
func finish(def *Definition, buckets []models.Bucket, rejected int, p Params) (*models.Result, error) {
	peaks, err := calculations.ClassifyPeaks(buckets, def.PeakMode, calculations.PeakParams{
		Periods:  p.Periods,
		Quantile: p.Quantile,
	})
	if err != nil {
		return nil, errors.NewConfig("peak_mode", "classify %s: %v", def.ID, err)
	}
	return assemble(def, peaks, rejected), nil
}

func assemble(def *Definition, peaks calculations.PeakResult, rejected int) *models.Result {
	res := &models.Result{Question: def.ID, Primary: def.Primary}
	res.SetTable(def.Primary, peaks.Buckets)
	res.Summary = BuildSummary(peaks, rejected)
	if def.Aggregate.GroupBy == calculations.GroupByHour {
		addHourMetrics(&res.Summary)
	}
	return res
}

// applyLimit truncates the presented primary table. Shares, peaks and the
// summary were computed over the full set before this point.
func applyLimit(def *Definition, res *models.Result, p Params) {
	if !def.UsesLimit || p.Limit <= 0 {
		return
	}
	table := res.PrimaryTable()
	if len(table) > p.Limit {
		res.Tables[res.Primary] = table[:p.Limit]
	}
}
