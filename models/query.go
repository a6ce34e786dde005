package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// QueryKey identifies one cached computation. Two keys are equal iff their
// String forms are equal.
type QueryKey struct {
	Question      string            `json:"question"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	OffsetMinutes int               `json:"timezone_offset_minutes"`
	Params        map[string]string `json:"params,omitempty"`
}

// String serializes the key with params in sorted order.
func (k QueryKey) String() string {
	var b strings.Builder
	b.WriteString(k.Question)
	b.WriteString("|start=")
	b.WriteString(k.Start.UTC().Format(time.RFC3339Nano))
	b.WriteString("|end=")
	b.WriteString(k.End.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "|tz=%d", k.OffsetMinutes)

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "|%s=%s", name, k.Params[name])
	}
	return b.String()
}

// Digest is a fixed-width hash of String, used for storage names.
func (k QueryKey) Digest() string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(k.String()))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 and a few common naive layouts. Values without
// a zone are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %s", s)
}
