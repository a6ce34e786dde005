package models

import (
	"time"
)

// Provenance records which source produced a result.
type Provenance string

const (
	ProvenanceRemote   Provenance = "remote"
	ProvenanceFallback Provenance = "fallback"
	// ProvenanceLocal marks questions the remote backend does not serve.
	ProvenanceLocal    Provenance = "local"
)

// Metric is one extra summary scalar, kept in insertion order.
type Metric struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Summary holds the scalar facts reported next to the bucket tables.
type Summary struct {
	TotalCount      int      `json:"total_count"`
	BusiestKey      string   `json:"busiest_key,omitempty"`
	BusiestCount    int      `json:"busiest_count"`
	QuietestKey     string   `json:"quietest_key,omitempty"`
	QuietestCount   int      `json:"quietest_count"`
	PeakKeys        []string `json:"peak_keys"`
	PeakCount       int      `json:"peak_count"`
	PeakCoverage    float64  `json:"peak_coverage"`
	PeakCoveragePct float64  `json:"peak_coverage_pct"`
	PeakThreshold   float64  `json:"peak_threshold"`
	RejectedRows    int      `json:"rejected_rows"`
	Metrics         []Metric `json:"metrics,omitempty"`
}

// AddMetric appends or replaces a named metric.
func (s *Summary) AddMetric(name, value string) {
	for i := range s.Metrics {
		if s.Metrics[i].Name == name {
			s.Metrics[i].Value = value
			return
		}
	}
	s.Metrics = append(s.Metrics, Metric{Name: name, Value: value})
}

// Metric looks up a named metric.
func (s Summary) Metric(name string) (string, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return "", false
}

// Clone returns a deep copy.
func (s Summary) Clone() Summary {
	out := s
	if s.PeakKeys != nil {
		out.PeakKeys = append([]string(nil), s.PeakKeys...)
	}
	if s.Metrics != nil {
		out.Metrics = append([]Metric(nil), s.Metrics...)
	}
	return out
}

// Result is what a question run hands back to callers.
type Result struct {
	Question   string              `json:"question"`
	Key        string              `json:"key"`
	Tables     map[string][]Bucket `json:"tables"`
	TableOrder []string            `json:"table_order"`
	Primary    string              `json:"primary"`
	Summary    Summary             `json:"summary"`
	Provenance Provenance          `json:"provenance"`
	Stale      bool                `json:"stale"`
	FetchedAt  time.Time           `json:"fetched_at"`
	RunID      string              `json:"run_id"`
	CacheHit   bool                `json:"cache_hit"`
}

// PrimaryTable returns the canonical bucket table.
func (r *Result) PrimaryTable() []Bucket {
	return r.Tables[r.Primary]
}

// SetTable stores a table, remembering the first-insertion order.
func (r *Result) SetTable(name string, buckets []Bucket) {
	if r.Tables == nil {
		r.Tables = make(map[string][]Bucket)
	}
	if _, exists := r.Tables[name]; !exists {
		r.TableOrder = append(r.TableOrder, name)
	}
	r.Tables[name] = buckets
}

// Clone returns a deep copy; cached results are never handed out directly.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Summary = r.Summary.Clone()
	out.TableOrder = append([]string(nil), r.TableOrder...)
	if r.Tables != nil {
		out.Tables = make(map[string][]Bucket, len(r.Tables))
		for name, t := range r.Tables {
			out.Tables[name] = CloneBuckets(t)
		}
	}
	return &out
}
