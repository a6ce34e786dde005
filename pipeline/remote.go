package pipeline

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/penwyp/peakcat/calculations"
	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
)

// FromRemote builds a result from a remote analytics payload. A body that is
// not JSON, or has no bucket array, is a source failure so the caller can fall
// back. Rows that cannot be read are counted as rejected. Peak flags sent by
// the remote are honoured only when every row carries one; shares are always
// recomputed from counts.
func FromRemote(ctx context.Context, def *Definition, body []byte, p Params) (*models.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.NewSourceUnavailable(nil, "remote payload for %s is not valid JSON", def.ID)
	}
	root := gjson.ParseBytes(body)
	if def.Remote.Rows {
		return fromRemoteRows(ctx, def, root, p)
	}
	rows := root.Get(def.Remote.BucketsPath)
	if !rows.IsArray() {
		return nil, errors.NewSourceUnavailable(nil, "remote payload for %s has no %q array", def.ID, def.Remote.BucketsPath)
	}

	p.Periods = p.periods()
	m := def.Remote

	var (
		buckets  []models.Bucket
		seen     = map[string]bool{}
		rejected int
		total    int
		flagged  int
	)
	rows.ForEach(func(_, row gjson.Result) bool {
		total++
		b, hasPeak, ok := remoteBucket(row, m)
		if !ok || seen[b.Key] {
			rejected++
			return true
		}
		seen[b.Key] = true
		if hasPeak {
			flagged++
		}
		buckets = append(buckets, b)
		return true
	})

	if rejected > 0 {
		logging.LogDebugf("Question %s: rejected %d of %d remote rows", def.ID, rejected, total)
	}
	if p.Strict && rejected > 0 && len(buckets) == 0 {
		return nil, errors.NewSchemaViolation("all %d remote rows failed validation for %s", rejected, def.ID).
			With("question", def.ID)
	}

	honourFlags := len(buckets) > 0 && flagged == len(buckets)
	buckets, ranks := fillDense(def, buckets, p.Periods)
	calculations.SortBuckets(buckets, def.Aggregate.Order, def.Aggregate.TieBreak, ranks)
	calculations.ApplyShares(buckets)

	var res *models.Result
	if honourFlags {
		res = assemble(def, calculations.PeaksFromFlags(buckets), rejected)
	} else {
		for i := range buckets {
			buckets[i].IsPeak = false
		}
		var err error
		if res, err = finish(def, buckets, rejected, p); err != nil {
			return nil, err
		}
	}

	for _, path := range m.TotalPaths {
		if v := root.Get(path); v.Exists() {
			res.Summary.AddMetric("remote_reported_total", v.String())
			break
		}
	}
	if m.SummaryPath != "" {
		root.Get(m.SummaryPath).ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() || value.IsArray() {
				return true
			}
			res.Summary.AddMetric("remote_"+key.String(), value.String())
			return true
		})
	}

	applyLimit(def, res, p)
	return res, nil
}

// fromRemoteRows treats the payload as raw rows, either the root array or
// the one under BucketsPath, and runs them through the local computation.
// Elements that are not objects are rejected.
func fromRemoteRows(ctx context.Context, def *Definition, root gjson.Result, p Params) (*models.Result, error) {
	arr := root
	if def.Remote.BucketsPath != "" {
		arr = root.Get(def.Remote.BucketsPath)
	}
	if !arr.IsArray() {
		return nil, errors.NewSourceUnavailable(nil, "remote payload for %s is not a row array", def.ID)
	}

	var (
		rows     []models.RawRow
		rejected int
		total    int
	)
	arr.ForEach(func(_, row gjson.Result) bool {
		total++
		obj, ok := row.Value().(map[string]interface{})
		if !ok {
			rejected++
			return true
		}
		rows = append(rows, models.RawRow(obj))
		return true
	})

	records, bad := Normalize(rows, def.Schema)
	rejected += bad
	if rejected > 0 {
		logging.LogDebugf("Question %s: rejected %d remote rows", def.ID, rejected)
	}
	if p.Strict && rejected > 0 && len(records) == 0 {
		return nil, errors.NewSchemaViolation("all %d remote rows failed validation for %s", rejected, def.ID).
			With("question", def.ID)
	}
	res, err := FromRecords(ctx, def, records, rejected, p)
	if err != nil {
		return nil, err
	}
	res.Summary.AddMetric("remote_rows", strconv.Itoa(total))
	return res, nil
}

func remoteBucket(row gjson.Result, m RemoteMapping) (models.Bucket, bool, bool) {
	if !row.IsObject() {
		return models.Bucket{}, false, false
	}

	var b models.Bucket
	switch {
	case len(m.HourField) > 0:
		v := first(row, m.HourField)
		h, ok := remoteHour(v)
		if !ok {
			return models.Bucket{}, false, false
		}
		b.Key = calculations.HourKey(h)
		b.Label = calculations.HourLabel(h)
		b.Dimensions = map[string]string{"hour": b.Key}
	case len(m.PeriodField) > 0:
		v := first(row, m.PeriodField)
		if v.Type != gjson.String || v.String() == "" {
			return models.Bucket{}, false, false
		}
		b.Key = v.String()
		b.Dimensions = map[string]string{"period": b.Key}
	default:
		parts := make([]string, len(m.KeyFields))
		b.Dimensions = make(map[string]string, len(m.KeyFields))
		for i, f := range m.KeyFields {
			v := row.Get(f)
			if !v.Exists() || v.String() == "" {
				if len(m.KeyFields) == 1 {
					return models.Bucket{}, false, false
				}
				parts[i] = calculations.UnknownDimension
			} else {
				parts[i] = v.String()
			}
			b.Dimensions[f] = parts[i]
		}
		b.Key = strings.Join(parts, "|")
	}
	if len(m.LabelField) > 0 {
		b.Label = first(row, m.LabelField).String()
	}

	count, ok := remoteCount(first(row, m.CountFields))
	if !ok {
		return models.Bucket{}, false, false
	}
	b.Count = count

	if v, ok := remoteNumber(first(row, m.SumFields)); ok {
		b.Sum, b.HasMeasure = v, true
	}
	if v, ok := remoteNumber(first(row, m.MeanFields)); ok {
		b.Mean, b.HasMeasure = v, true
		if b.Sum == 0 {
			b.Sum = v * float64(b.Count)
		}
	} else if b.HasMeasure && b.Count > 0 {
		b.Mean = b.Sum / float64(b.Count)
	}

	var pct models.Percentiles
	hasPct := false
	for _, f := range []struct {
		names []string
		dst   *float64
	}{
		{m.P25Fields, &pct.P25}, {m.P50Fields, &pct.P50}, {m.P75Fields, &pct.P75},
		{m.P95Fields, &pct.P95}, {m.MaxFields, &pct.Max},
	} {
		if v, ok := remoteNumber(first(row, f.names)); ok {
			*f.dst = v
			hasPct = true
		}
	}
	if hasPct {
		b.Percentiles = &pct
		b.HasMeasure = true
	}

	if v, ok := remoteNumber(first(row, m.SuccessRate)); ok {
		if v > 1 {
			v /= 100
		}
		b.SuccessRate = &v
	}

	for name, fields := range m.Extras {
		if v, ok := remoteNumber(first(row, fields)); ok {
			if b.Extras == nil {
				b.Extras = make(map[string]float64)
			}
			b.Extras[name] = v
		}
	}

	hasPeak := false
	if m.PeakField != "" {
		if v := row.Get(m.PeakField); v.IsBool() {
			b.IsPeak = v.Bool()
			hasPeak = true
		}
	}
	return b, hasPeak, true
}

// fillDense adds zero buckets a dense question expects but the remote left
// out, and returns the canonical ranks for sorting.
func fillDense(def *Definition, buckets []models.Bucket, periods *calculations.PeriodSet) ([]models.Bucket, map[string]int) {
	ranks := map[string]int{}
	present := map[string]bool{}
	for _, b := range buckets {
		present[b.Key] = true
	}
	add := func(key string, rank int, dims map[string]string, label string) {
		ranks[key] = rank
		if !present[key] && def.Aggregate.Dense {
			buckets = append(buckets, models.Bucket{Key: key, Label: label, Dimensions: dims})
		}
	}

	switch def.Aggregate.GroupBy {
	case calculations.GroupByHour:
		for h := 0; h < 24; h++ {
			key := calculations.HourKey(h)
			add(key, h, map[string]string{"hour": key}, calculations.HourLabel(h))
		}
	case calculations.GroupByPeriod:
		for i, label := range periods.Labels() {
			add(label, i, map[string]string{"period": label}, "")
		}
	}
	return buckets, ranks
}

func first(row gjson.Result, names []string) gjson.Result {
	for _, n := range names {
		if v := row.Get(n); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func remoteNumber(v gjson.Result) (float64, bool) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Float()
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// remoteCount accepts non-negative whole numbers that fit an int32; anything
// larger is a malformed row rather than a count.
func remoteCount(v gjson.Result) (int, bool) {
	f, ok := remoteNumber(v)
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// remoteHour accepts 13, "13" and "13:00".
func remoteHour(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		f := v.Float()
		if f != math.Trunc(f) {
			return 0, false
		}
		return calculations.ParseHourKey(strconv.Itoa(int(f)))
	case gjson.String:
		s, _, _ := strings.Cut(strings.TrimSpace(v.Str), ":")
		return calculations.ParseHourKey(s)
	}
	return 0, false
}
