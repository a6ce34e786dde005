package cache

import (
	stderrors "errors"

	"github.com/penwyp/peakcat/models"
)

// ErrNotFound is returned by a Store that has no entry for a key.
var ErrNotFound = stderrors.New("cache: entry not found")

// Entry is one cached computation: the raw source snapshot and the result
// derived from it. Entries are written and replaced as a whole.
type Entry struct {
	Key      string         `json:"key"`
	Digest   string         `json:"digest"`
	Question string         `json:"question"`
	Raw      []byte         `json:"-"`
	Result   *models.Result `json:"result"`
}

// NewEntry builds an entry for key.
func NewEntry(key models.QueryKey, raw []byte, res *models.Result) *Entry {
	return &Entry{
		Key:      key.String(),
		Digest:   key.Digest(),
		Question: key.Question,
		Raw:      raw,
		Result:   res,
	}
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	if e.Raw != nil {
		out.Raw = append([]byte(nil), e.Raw...)
	}
	out.Result = e.Result.Clone()
	return &out
}

// Store is one cache tier. Get returns ErrNotFound on a miss, including
// when a stored entry's serialized key differs from the requested one.
type Store interface {
	Get(key models.QueryKey) (*Entry, error)
	Put(e *Entry) error
	Delete(key models.QueryKey) error
	Clear() error
	Close() error
}

// Stats provides metrics about cache performance
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Computes  int64   `json:"computes"`
	Coalesced int64   `json:"coalesced"`
	Fallbacks int64   `json:"fallbacks"`
	Failures  int64   `json:"failures"`
	Evictions int64   `json:"evictions"`
	// Dropped counts evictions no persistent tier could serve afterwards.
	Dropped   int64   `json:"dropped"`
	Size      int64   `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// UpdateHitRate recalculates the hit rate
func (s *Stats) UpdateHitRate() {
	total := s.Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	} else {
		s.HitRate = 0.0
	}
}

// EvictionCallback is called when an entry is evicted from the memory tier
type EvictionCallback func(key string, e *Entry)
