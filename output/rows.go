package output

import (
	"strconv"
	"strings"
	"time"

	"github.com/penwyp/peakcat/models"
)

// BucketHeader is the column layout of BucketRows.
var BucketHeader = []string{
	"table", "key", "label", "count", "sum", "mean", "share", "is_peak",
	"p25", "p50", "p75", "p95", "max", "success_rate",
}

// BucketRows flattens every table of a result, in table order, under
// BucketHeader. Percentile and success-rate cells are empty when absent.
func BucketRows(res *models.Result) [][]string {
	rows := [][]string{BucketHeader}
	for _, table := range res.TableOrder {
		for _, b := range res.Tables[table] {
			row := []string{
				table, b.Key, b.Label, strconv.Itoa(b.Count),
				FormatFloat(b.Sum), FormatFloat(b.Mean), FormatFloat(b.Share),
				strconv.FormatBool(b.IsPeak),
			}
			if p := b.Percentiles; p != nil {
				row = append(row, FormatFloat(p.P25), FormatFloat(p.P50), FormatFloat(p.P75),
					FormatFloat(p.P95), FormatFloat(p.Max))
			} else {
				row = append(row, "", "", "", "", "")
			}
			if b.SuccessRate != nil {
				row = append(row, FormatFloat(*b.SuccessRate))
			} else {
				row = append(row, "")
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// SummaryRows renders the summary and run metadata as name/value pairs.
func SummaryRows(res *models.Result) [][]string {
	s := res.Summary
	rows := [][]string{
		{"name", "value"},
		{"question", res.Question},
		{"provenance", string(res.Provenance)},
		{"stale", strconv.FormatBool(res.Stale)},
		{"fetched_at", res.FetchedAt.UTC().Format(time.RFC3339)},
		{"run_id", res.RunID},
		{"total_count", strconv.Itoa(s.TotalCount)},
		{"busiest_key", s.BusiestKey},
		{"busiest_count", strconv.Itoa(s.BusiestCount)},
		{"quietest_key", s.QuietestKey},
		{"quietest_count", strconv.Itoa(s.QuietestCount)},
		{"peak_keys", strings.Join(s.PeakKeys, ";")},
		{"peak_coverage_pct", FormatFloat(s.PeakCoveragePct)},
		{"peak_threshold", FormatFloat(s.PeakThreshold)},
		{"rejected_rows", strconv.Itoa(s.RejectedRows)},
	}
	for _, m := range s.Metrics {
		rows = append(rows, []string{m.Name, m.Value})
	}
	return rows
}

// FormatFloat renders v with the fewest digits that round-trip.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
