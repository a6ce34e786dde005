package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryKey_StringIsOrderIndependent(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	a := QueryKey{Question: "q", Start: start, End: end, Params: map[string]string{"limit": "5", "cutoff": "x"}}
	b := QueryKey{Question: "q", Start: start, End: end, Params: map[string]string{"cutoff": "x", "limit": "5"}}

	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, a.Digest(), b.Digest())
	assert.Len(t, a.Digest(), 16)
}

func TestQueryKey_DistinctParametersNeverCollide(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base := QueryKey{Question: "order-peak-hours", Start: start, End: start.Add(time.Hour)}

	variants := []QueryKey{
		base,
		{Question: base.Question, Start: base.Start, End: base.End.Add(time.Second)},
		{Question: base.Question, Start: base.Start, End: base.End, OffsetMinutes: -300},
		{Question: base.Question, Start: base.Start, End: base.End, Params: map[string]string{"limit": "5"}},
		{Question: "product-search-peak-hours", Start: base.Start, End: base.End},
	}

	seen := map[string]bool{}
	for _, k := range variants {
		s := k.String()
		assert.False(t, seen[s], "duplicate key %s", s)
		seen[s] = true
	}
}

func TestQueryKey_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("COT", -5*3600)
	local := time.Date(2025, 3, 1, 7, 0, 0, 0, loc)
	utc := local.UTC()

	a := QueryKey{Question: "q", Start: local, End: local.Add(time.Hour)}
	b := QueryKey{Question: "q", Start: utc, End: utc.Add(time.Hour)}
	assert.Equal(t, a.String(), b.String())
}

func TestResult_CloneIsDeep(t *testing.T) {
	rate := 0.5
	r := &Result{Question: "q", Primary: "hourly"}
	r.SetTable("hourly", []Bucket{{
		Key:         "12",
		Count:       3,
		Dimensions:  map[string]string{"hour": "12"},
		Percentiles: &Percentiles{P50: 1},
		SuccessRate: &rate,
	}})
	r.Summary.PeakKeys = []string{"12"}
	r.Summary.AddMetric("a", "1")

	c := r.Clone()
	c.Tables["hourly"][0].Count = 99
	c.Tables["hourly"][0].Dimensions["hour"] = "13"
	c.Tables["hourly"][0].Percentiles.P50 = 42
	*c.Tables["hourly"][0].SuccessRate = 1
	c.Summary.PeakKeys[0] = "13"
	c.Summary.AddMetric("a", "2")

	orig := r.PrimaryTable()[0]
	assert.Equal(t, 3, orig.Count)
	assert.Equal(t, "12", orig.Dimensions["hour"])
	assert.Equal(t, 1.0, orig.Percentiles.P50)
	assert.Equal(t, 0.5, *orig.SuccessRate)
	assert.Equal(t, []string{"12"}, r.Summary.PeakKeys)
	v, ok := r.Summary.Metric("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestResult_SetTableKeepsOrder(t *testing.T) {
	r := &Result{}
	r.SetTable("b", nil)
	r.SetTable("a", nil)
	r.SetTable("b", []Bucket{{Key: "x"}})
	assert.Equal(t, []string{"b", "a"}, r.TableOrder)
	assert.Len(t, r.Tables["b"], 1)
}

func TestTotalCount(t *testing.T) {
	assert.Equal(t, 0, TotalCount(nil))
	assert.Equal(t, 6, TotalCount([]Bucket{{Count: 1}, {Count: 2}, {Count: 3}}))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-04T05:06:07Z", want},
		{"2025-03-04T10:06:07+05:00", want},
		{"2025-03-04T05:06:07", want},
		{"2025-03-04 05:06:07", want},
		{"2025-03-04 05:06", want.Add(-7 * time.Second)},
		{" 2025-03-04 ", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %s", tt.in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}
