package calculations

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// Offsets outside UTC-12:00..UTC+14:00 do not exist.
	MinOffsetMinutes = -720
	MaxOffsetMinutes = 840

	DefaultPeriodLabel = "off-peak"
)

// ValidateOffset checks a timezone offset in minutes.
func ValidateOffset(offsetMinutes int) error {
	if offsetMinutes < MinOffsetMinutes || offsetMinutes > MaxOffsetMinutes {
		return fmt.Errorf("timezone offset %d minutes out of range [%d, %d]",
			offsetMinutes, MinOffsetMinutes, MaxOffsetMinutes)
	}
	return nil
}

// LocalTime shifts a UTC instant by a signed offset. The result is UTC-tagged
// wall-clock time in the target zone.
func LocalTime(t time.Time, offsetMinutes int) time.Time {
	return t.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
}

// BucketHour maps an instant to its local hour of day 0..23.
func BucketHour(t time.Time, offsetMinutes int) int {
	return LocalTime(t, offsetMinutes).Hour()
}

// WeekStart returns midnight of the local Monday on or before t, expressed
// as a UTC date.
func WeekStart(t time.Time, offsetMinutes int) time.Time {
	lt := LocalTime(t, offsetMinutes)
	back := (int(lt.Weekday()) + 6) % 7
	return time.Date(lt.Year(), lt.Month(), lt.Day()-back, 0, 0, 0, 0, time.UTC)
}

// WeekKey formats a week bucket key; ascending string order is week order.
func WeekKey(start time.Time) string {
	return start.Format("2006-01-02")
}

// HourKey formats an hour bucket key; ascending string order is hour order.
func HourKey(hour int) string {
	return fmt.Sprintf("%02d", hour)
}

// HourLabel renders an hour for display.
func HourLabel(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

// ParseHourKey is the inverse of HourKey.
func ParseHourKey(key string) (int, bool) {
	h, err := strconv.Atoi(key)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	return h, true
}

// Window is a named closed-open range of local hours [Start, End).
type Window struct {
	Name  string `json:"name" yaml:"name" mapstructure:"name"`
	Start int    `json:"start" yaml:"start" mapstructure:"start"`
	End   int    `json:"end" yaml:"end" mapstructure:"end"`
}

// Contains reports whether hour falls inside the window.
func (w Window) Contains(hour int) bool {
	return hour >= w.Start && hour < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%s=%d-%d", w.Name, w.Start, w.End)
}

// ParseWindow parses "name=start-end", e.g. "lunch=12-14".
func ParseWindow(s string) (Window, error) {
	name, span, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok || name == "" {
		return Window{}, fmt.Errorf("invalid window %q: expected name=start-end", s)
	}
	from, to, ok := strings.Cut(span, "-")
	if !ok {
		return Window{}, fmt.Errorf("invalid window %q: expected name=start-end", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q start: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q end: %w", s, err)
	}
	return Window{Name: strings.TrimSpace(name), Start: start, End: end}, nil
}

// PeriodSet labels local hours with named windows. Windows never overlap.
type PeriodSet struct {
	windows      []Window
	defaultLabel string
}

// NewPeriodSet validates windows and builds a set. A window that would wrap
// past midnight must be given as two windows.
func NewPeriodSet(windows []Window, defaultLabel string) (*PeriodSet, error) {
	if defaultLabel == "" {
		defaultLabel = DefaultPeriodLabel
	}
	names := make(map[string]bool, len(windows))
	for _, w := range windows {
		if w.Name == "" {
			return nil, fmt.Errorf("window %d-%d has no name", w.Start, w.End)
		}
		if w.Name == defaultLabel {
			return nil, fmt.Errorf("window name %q collides with the default label", w.Name)
		}
		if names[w.Name] {
			return nil, fmt.Errorf("duplicate window name %q", w.Name)
		}
		names[w.Name] = true
		if w.Start < 0 || w.End > 24 || w.Start >= w.End {
			return nil, fmt.Errorf("window %s: range must satisfy 0 <= start < end <= 24", w)
		}
	}

	sorted := append([]Window(nil), windows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return nil, fmt.Errorf("windows %s and %s overlap", sorted[i-1], sorted[i])
		}
	}

	return &PeriodSet{windows: sorted, defaultLabel: defaultLabel}, nil
}

// Label returns the window name containing hour, or the default label.
func (ps *PeriodSet) Label(hour int) string {
	if w, ok := ps.Window(hour); ok {
		return w.Name
	}
	return ps.defaultLabel
}

// Window returns the window containing hour.
func (ps *PeriodSet) Window(hour int) (Window, bool) {
	if ps == nil {
		return Window{}, false
	}
	for _, w := range ps.windows {
		if w.Contains(hour) {
			return w, true
		}
	}
	return Window{}, false
}

// InWindow reports whether hour is inside any window.
func (ps *PeriodSet) InWindow(hour int) bool {
	_, ok := ps.Window(hour)
	return ok
}

// IsWindowName reports whether name is one of the windows (not the default).
func (ps *PeriodSet) IsWindowName(name string) bool {
	if ps == nil {
		return false
	}
	for _, w := range ps.windows {
		if w.Name == name {
			return true
		}
	}
	return false
}

// Windows returns the windows ordered by start hour.
func (ps *PeriodSet) Windows() []Window {
	if ps == nil {
		return nil
	}
	return append([]Window(nil), ps.windows...)
}

// DefaultLabel is the label for hours outside every window.
func (ps *PeriodSet) DefaultLabel() string {
	if ps == nil {
		return DefaultPeriodLabel
	}
	return ps.defaultLabel
}

// Labels lists window names by start hour followed by the default label.
func (ps *PeriodSet) Labels() []string {
	out := make([]string, 0, len(ps.Windows())+1)
	for _, w := range ps.Windows() {
		out = append(out, w.Name)
	}
	return append(out, ps.DefaultLabel())
}

// Describe renders windows for summaries, e.g. "lunch 12:00-14:00, dinner 19:00-21:00".
func (ps *PeriodSet) Describe() string {
	parts := make([]string, 0, len(ps.Windows()))
	for _, w := range ps.Windows() {
		parts = append(parts, fmt.Sprintf("%s %s-%s", w.Name, HourLabel(w.Start), HourLabel(w.End%24)))
	}
	return strings.Join(parts, ", ")
}
