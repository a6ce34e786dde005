package pipeline

import (
	"strings"

	"github.com/penwyp/peakcat/calculations"
	"github.com/penwyp/peakcat/models"
)

// BuildSummary derives the scalar summary from classified buckets. Busiest
// and quietest consider non-empty buckets only; ties go to the bucket that
// comes first in canonical order.
func BuildSummary(peaks calculations.PeakResult, rejected int) models.Summary {
	s := models.Summary{
		TotalCount:    peaks.Total,
		PeakKeys:      append([]string{}, peaks.PeakKeys...),
		PeakCount:     peaks.PeakCount,
		PeakCoverage:  peaks.Coverage,
		PeakThreshold: peaks.Threshold,
		RejectedRows:  rejected,
	}
	s.PeakCoveragePct = s.PeakCoverage * 100

	first := true
	for _, b := range peaks.Buckets {
		if b.Count == 0 {
			continue
		}
		if first || b.Count > s.BusiestCount {
			s.BusiestKey, s.BusiestCount = b.Key, b.Count
		}
		if first || b.Count < s.QuietestCount {
			s.QuietestKey, s.QuietestCount = b.Key, b.Count
		}
		first = false
	}
	return s
}

// addHourMetrics renders peak hours the way the hourly reports show them.
func addHourMetrics(s *models.Summary) {
	if len(s.PeakKeys) == 0 {
		s.AddMetric("peak_hours", "")
		s.AddMetric("peak_hour_range", "N/A")
		return
	}
	labels := make([]string, 0, len(s.PeakKeys))
	minHour, maxHour := 24, -1
	for _, k := range s.PeakKeys {
		h, ok := calculations.ParseHourKey(k)
		if !ok {
			continue
		}
		labels = append(labels, calculations.HourLabel(h))
		if h < minHour {
			minHour = h
		}
		if h > maxHour {
			maxHour = h
		}
	}
	s.AddMetric("peak_hours", strings.Join(labels, ", "))
	if maxHour >= 0 {
		s.AddMetric("peak_hour_range", calculations.HourLabel(minHour)+" - "+calculations.HourLabel(maxHour))
	}
}
