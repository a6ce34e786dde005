package output

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/peakcat/models"
)

func sampleResult() *models.Result {
	rate := 0.75
	res := &models.Result{
		Question:   "payment-success-by-hour",
		Key:        "payment-success-by-hour|2025-01-01T00:00:00Z",
		Primary:    "hourly",
		Provenance: models.ProvenanceFallback,
		Stale:      true,
		FetchedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		RunID:      "run-1",
	}
	res.SetTable("hourly", []models.Bucket{
		{Key: "12", Label: "12:00", Count: 3, Share: 0.75, IsPeak: true, HasMeasure: true, Sum: 30, Mean: 10,
			Percentiles: &models.Percentiles{P25: 5, P50: 10, P75: 15, P95: 19, Max: 20}, SuccessRate: &rate},
		{Key: "13", Label: "13:00", Count: 1, Share: 0.25},
	})
	res.Summary = models.Summary{
		TotalCount: 4, BusiestKey: "12", BusiestCount: 3, QuietestKey: "13", QuietestCount: 1,
		PeakKeys: []string{"12"}, PeakCount: 3, PeakCoverage: 0.75, PeakCoveragePct: 75,
	}
	res.Summary.AddMetric("success_rate", "0.75")
	return res
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"table", "JSON", "csv", "Summary"} {
		_, err := ParseFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid options: table, json, csv, summary")
}

func TestTableOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable, false).Write(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "payment-success-by-hour (fallback, stale)")
	assert.Contains(t, out, "fetched 2025-01-02T03:04:05Z")
	assert.Contains(t, out, "Success")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "success_rate")
	assert.NotContains(t, out, "\x1b[")

	var peakLine, quietLine string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.Contains(line, "12:00"):
			peakLine = line
		case strings.Contains(line, "13:00"):
			quietLine = line
		}
	}
	assert.True(t, strings.HasPrefix(peakLine, "*"), peakLine)
	assert.False(t, strings.HasPrefix(quietLine, "*"), quietLine)
	assert.Contains(t, quietLine, "-")
}

func TestTableOutputWithoutMeasures(t *testing.T) {
	res := &models.Result{Question: "order-peak-hours", Primary: "hourly", Provenance: models.ProvenanceRemote, CacheHit: true}
	res.SetTable("hourly", []models.Bucket{{Key: "08", Label: "08:00", Count: 2, Share: 1}})

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatTable, false).Write(&buf, res))
	assert.Contains(t, buf.String(), "order-peak-hours (remote, cached)")
	assert.NotContains(t, buf.String(), "Mean")
	assert.NotContains(t, buf.String(), "\nfetched ")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatJSON, false).Write(&buf, sampleResult()))

	var decoded models.Result
	require.NoError(t, sonic.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "payment-success-by-hour", decoded.Question)
	assert.Equal(t, models.ProvenanceFallback, decoded.Provenance)
	assert.True(t, decoded.Stale)
	require.Len(t, decoded.Tables["hourly"], 2)
	assert.Equal(t, 0.75, *decoded.Tables["hourly"][0].SuccessRate)
	assert.Equal(t, []string{"12"}, decoded.Summary.PeakKeys)
}

func TestCSVOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatCSV, false).Write(&buf, sampleResult()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, BucketHeader, records[0])
	assert.Equal(t, []string{"hourly", "12", "12:00", "3", "30", "10", "0.75", "true", "5", "10", "15", "19", "20", "0.75"}, records[1])
	assert.Equal(t, []string{"hourly", "13", "13:00", "1", "0", "0", "0.25", "false", "", "", "", "", "", ""}, records[2])
}

func TestSummaryOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(FormatSummary, false).Write(&buf, sampleResult()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	got := map[string]string{}
	for _, r := range records[1:] {
		got[r[0]] = r[1]
	}
	assert.Equal(t, "fallback", got["provenance"])
	assert.Equal(t, "true", got["stale"])
	assert.Equal(t, "12", got["peak_keys"])
	assert.Equal(t, "75", got["peak_coverage_pct"])
	assert.Equal(t, "0.75", got["success_rate"])
}

func TestUnsupportedFormat(t *testing.T) {
	assert.Error(t, NewFormatter("xml", false).Write(&bytes.Buffer{}, sampleResult()))
}
