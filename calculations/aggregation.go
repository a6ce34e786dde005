package calculations

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/penwyp/peakcat/models"
)

// GroupBy selects how records are bucketed.
type GroupBy string

const (
	GroupByHour       GroupBy = "hour"
	GroupByPeriod     GroupBy = "period"
	GroupByDimensions GroupBy = "dimensions"
	// GroupByWeek buckets by the local Monday that starts each week.
	GroupByWeek GroupBy = "week"
)

// SortOrder selects the canonical bucket order.
type SortOrder string

const (
	// SortKeyAscending orders hours 00..23, periods by window start, and
	// dimension keys lexically.
	SortKeyAscending SortOrder = "key"
	// SortCountDescending orders by count, ties broken by label then key.
	SortCountDescending SortOrder = "count"
	// SortExtraDescending orders by the tie-break extra sum, then as count
	// order does.
	SortExtraDescending SortOrder = "extra"
)

// MeasureKind says what statistics the primary measure gets.
type MeasureKind string

const (
	MeasureNone MeasureKind = ""
	// MeasureAmount gets sum and mean (order revenue).
	MeasureAmount MeasureKind = "amount"
	// MeasureDuration additionally gets order statistics (latencies, waits).
	MeasureDuration MeasureKind = "duration"
)

// UnknownDimension is the key part used when a dimension is missing.
const UnknownDimension = "unknown"

// AggregateOptions describes one aggregation.
type AggregateOptions struct {
	GroupBy       GroupBy
	OffsetMinutes int
	Periods       *PeriodSet
	Dimensions    []string
	LabelField    string
	Dense         bool
	MeasureField  string
	MeasureKind   MeasureKind
	SuccessField  string
	ExtraSums     []string
	// Distinct maps an output extra to the dimension whose distinct
	// non-empty values are counted per bucket.
	Distinct      map[string]string
	TieBreak      string
	Order         SortOrder
	Workers       int
}

func (o AggregateOptions) validate() error {
	switch o.GroupBy {
	case GroupByHour, GroupByWeek:
	case GroupByPeriod:
		if o.Periods == nil {
			return fmt.Errorf("period grouping requires a period set")
		}
	case GroupByDimensions:
		if len(o.Dimensions) == 0 {
			return fmt.Errorf("dimension grouping requires at least one dimension")
		}
	default:
		return fmt.Errorf("unknown group by %q", o.GroupBy)
	}
	if o.MeasureKind != MeasureNone && o.MeasureField == "" {
		return fmt.Errorf("measure kind %q requires a measure field", o.MeasureKind)
	}
	if o.Order == SortExtraDescending && o.TieBreak == "" {
		return fmt.Errorf("extra order requires a tie-break field")
	}
	return nil
}

type group struct {
	key       string
	rank      int
	dims      map[string]string
	labels    map[string]bool
	count     int
	values    []float64
	successes int
	flagged   int
	extras    map[string][]float64
	distinct  map[string]map[string]bool
}

// Aggregate groups records and computes per-bucket statistics. The output is
// independent of input order. Shares are count over the total of emitted
// buckets, all zero when there are no records.
func Aggregate(ctx context.Context, records []models.Record, opts AggregateOptions) ([]models.Bucket, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	groups := make(map[string]*group)
	if opts.Dense {
		for _, g := range denseGroups(opts) {
			groups[g.key] = g
		}
	}

	for i := range records {
		r := &records[i]
		key, rank, dims := groupKey(r, opts)
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, rank: rank, dims: dims}
			groups[key] = g
		}
		g.count++
		if opts.LabelField != "" {
			if label := r.Dim(opts.LabelField); label != "" {
				if g.labels == nil {
					g.labels = make(map[string]bool)
				}
				g.labels[label] = true
			}
		}
		if opts.MeasureKind != MeasureNone {
			if v, ok := r.Value(opts.MeasureField); ok {
				g.values = append(g.values, v)
			}
		}
		for _, name := range opts.ExtraSums {
			if v, ok := r.Value(name); ok {
				if g.extras == nil {
					g.extras = make(map[string][]float64)
				}
				g.extras[name] = append(g.extras[name], v)
			}
		}
		for name, dim := range opts.Distinct {
			v := r.Dim(dim)
			if v == "" {
				continue
			}
			if g.distinct == nil {
				g.distinct = make(map[string]map[string]bool, len(opts.Distinct))
			}
			if g.distinct[name] == nil {
				g.distinct[name] = make(map[string]bool)
			}
			g.distinct[name][v] = true
		}
		if opts.SuccessField != "" {
			if ok, present := r.Flag(opts.SuccessField); present {
				g.flagged++
				if ok {
					g.successes++
				}
			}
		}
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].key < ordered[j].key })

	buckets := make([]models.Bucket, len(ordered))
	eg, egCtx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	eg.SetLimit(workers)
	for i, g := range ordered {
		i, g := i, g
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			buckets[i] = buildBucket(g, opts)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	ranks := make(map[string]int, len(ordered))
	for _, g := range ordered {
		ranks[g.key] = g.rank
	}
	SortBuckets(buckets, opts.Order, opts.TieBreak, ranks)
	ApplyShares(buckets)
	return buckets, nil
}

func denseGroups(opts AggregateOptions) []*group {
	var out []*group
	switch opts.GroupBy {
	case GroupByHour:
		for h := 0; h < 24; h++ {
			out = append(out, &group{key: HourKey(h), rank: h, dims: map[string]string{"hour": HourKey(h)}})
		}
	case GroupByPeriod:
		for i, label := range opts.Periods.Labels() {
			out = append(out, &group{key: label, rank: i, dims: map[string]string{"period": label}})
		}
	}
	return out
}

func groupKey(r *models.Record, opts AggregateOptions) (string, int, map[string]string) {
	switch opts.GroupBy {
	case GroupByHour:
		h := BucketHour(r.Timestamp, opts.OffsetMinutes)
		return HourKey(h), h, map[string]string{"hour": HourKey(h)}
	case GroupByPeriod:
		label := opts.Periods.Label(BucketHour(r.Timestamp, opts.OffsetMinutes))
		rank := 0
		for i, l := range opts.Periods.Labels() {
			if l == label {
				rank = i
				break
			}
		}
		return label, rank, map[string]string{"period": label}
	case GroupByWeek:
		start := WeekStart(r.Timestamp, opts.OffsetMinutes)
		key := WeekKey(start)
		return key, int(start.Unix() / 86400), map[string]string{"week_start": key}
	default:
		parts := make([]string, len(opts.Dimensions))
		dims := make(map[string]string, len(opts.Dimensions))
		for i, d := range opts.Dimensions {
			v := r.Dim(d)
			if v == "" {
				v = UnknownDimension
			}
			parts[i] = v
			dims[d] = v
		}
		return strings.Join(parts, "|"), 0, dims
	}
}

func buildBucket(g *group, opts AggregateOptions) models.Bucket {
	b := models.Bucket{
		Key:        g.key,
		Dimensions: g.dims,
		Count:      g.count,
	}

	switch opts.GroupBy {
	case GroupByHour:
		if h, ok := ParseHourKey(g.key); ok {
			b.Label = HourLabel(h)
		}
	case GroupByDimensions:
		b.Label = pickLabel(g.labels)
	}

	if len(g.values) > 0 {
		sorted := append([]float64(nil), g.values...)
		sort.Float64s(sorted)
		b.HasMeasure = true
		b.Sum = sum(sorted)
		b.Mean = b.Sum / float64(len(sorted))
		if opts.MeasureKind == MeasureDuration {
			b.Percentiles = ComputePercentiles(sorted)
		}
	}

	if g.flagged > 0 {
		rate := float64(g.successes) / float64(g.flagged)
		b.SuccessRate = &rate
	}

	for name, values := range g.extras {
		if b.Extras == nil {
			b.Extras = make(map[string]float64, len(g.extras))
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		b.Extras[name] = sum(sorted)
	}
	for name := range opts.Distinct {
		if b.Extras == nil {
			b.Extras = make(map[string]float64, len(opts.Distinct))
		}
		b.Extras[name] = float64(len(g.distinct[name]))
	}
	return b
}

// pickLabel chooses the smallest label so the result does not depend on
// record order when a key was seen with several names.
func pickLabel(labels map[string]bool) string {
	best := ""
	for l := range labels {
		if best == "" || l < best {
			best = l
		}
	}
	return best
}

// SortBuckets orders buckets in place. For count order, tieBreak names an
// extra sum compared descending before labels; for extra order it is the
// primary key. ranks may be nil, in which case keys are compared lexically.
func SortBuckets(buckets []models.Bucket, order SortOrder, tieBreak string, ranks map[string]int) {
	keyLess := func(a, b models.Bucket) bool {
		ra, okA := ranks[a.Key]
		rb, okB := ranks[b.Key]
		switch {
		case okA && okB && ra != rb:
			return ra < rb
		case okA != okB:
			return okA
		}
		return a.Key < b.Key
	}

	switch order {
	case SortExtraDescending:
		sort.SliceStable(buckets, func(i, j int) bool {
			a, b := buckets[i], buckets[j]
			if a.Extras[tieBreak] != b.Extras[tieBreak] {
				return a.Extras[tieBreak] > b.Extras[tieBreak]
			}
			if a.Count != b.Count {
				return a.Count > b.Count
			}
			if a.DisplayName() != b.DisplayName() {
				return a.DisplayName() < b.DisplayName()
			}
			return a.Key < b.Key
		})
	case SortCountDescending:
		sort.SliceStable(buckets, func(i, j int) bool {
			a, b := buckets[i], buckets[j]
			if a.Count != b.Count {
				return a.Count > b.Count
			}
			if tieBreak != "" && a.Extras[tieBreak] != b.Extras[tieBreak] {
				return a.Extras[tieBreak] > b.Extras[tieBreak]
			}
			if a.DisplayName() != b.DisplayName() {
				return a.DisplayName() < b.DisplayName()
			}
			return a.Key < b.Key
		})
	default:
		sort.SliceStable(buckets, func(i, j int) bool { return keyLess(buckets[i], buckets[j]) })
	}
}

// ApplyShares sets each bucket's share of the total count.
func ApplyShares(buckets []models.Bucket) {
	total := models.TotalCount(buckets)
	for i := range buckets {
		if total == 0 {
			buckets[i].Share = 0
			continue
		}
		buckets[i].Share = float64(buckets[i].Count) / float64(total)
	}
}

// MeasureValues collects a numeric field across records, sorted ascending.
func MeasureValues(records []models.Record, field string) []float64 {
	var out []float64
	for _, r := range records {
		if v, ok := r.Value(field); ok {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}
