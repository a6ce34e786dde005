package models

import (
	"time"
)

// RawRow is one observation as read from a source, before coercion.
type RawRow map[string]any

// Record is a RawRow after normalization. Timestamp is always UTC and Values
// only ever holds finite numbers.
type Record struct {
	ID        string             `json:"id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values,omitempty"`
	Dims      map[string]string  `json:"dims,omitempty"`
	Flags     map[string]bool    `json:"flags,omitempty"`
}

// Value returns a numeric field and whether it is present.
func (r Record) Value(name string) (float64, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Dim returns a categorical field, "" if absent.
func (r Record) Dim(name string) string {
	return r.Dims[name]
}

// Flag returns a boolean field and whether it is present.
func (r Record) Flag(name string) (bool, bool) {
	v, ok := r.Flags[name]
	return v, ok
}

// Percentiles holds the order statistics reported per bucket.
type Percentiles struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P95 float64 `json:"p95"`
	Max float64 `json:"max"`
}

// Bucket is one group of the aggregation output.
type Bucket struct {
	Key         string             `json:"key"`
	Label       string             `json:"label,omitempty"`
	Dimensions  map[string]string  `json:"dimensions,omitempty"`
	Count       int                `json:"count"`
	Sum         float64            `json:"sum"`
	Mean        float64            `json:"mean"`
	HasMeasure  bool               `json:"has_measure"`
	Percentiles *Percentiles       `json:"percentiles,omitempty"`
	Share       float64            `json:"share"`
	IsPeak      bool               `json:"is_peak"`
	SuccessRate *float64           `json:"success_rate,omitempty"`
	Extras      map[string]float64 `json:"extras,omitempty"`
}

// DisplayName prefers the label over the key.
func (b Bucket) DisplayName() string {
	if b.Label != "" {
		return b.Label
	}
	return b.Key
}

// Clone returns a deep copy.
func (b Bucket) Clone() Bucket {
	out := b
	if b.Dimensions != nil {
		out.Dimensions = make(map[string]string, len(b.Dimensions))
		for k, v := range b.Dimensions {
			out.Dimensions[k] = v
		}
	}
	if b.Percentiles != nil {
		p := *b.Percentiles
		out.Percentiles = &p
	}
	if b.SuccessRate != nil {
		r := *b.SuccessRate
		out.SuccessRate = &r
	}
	if b.Extras != nil {
		out.Extras = make(map[string]float64, len(b.Extras))
		for k, v := range b.Extras {
			out.Extras[k] = v
		}
	}
	return out
}

// CloneBuckets deep-copies a bucket slice.
func CloneBuckets(in []Bucket) []Bucket {
	if in == nil {
		return nil
	}
	out := make([]Bucket, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}

// TotalCount sums bucket counts.
func TotalCount(buckets []Bucket) int {
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	return total
}
