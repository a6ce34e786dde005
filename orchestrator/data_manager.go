package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
)

// RowSource reads the raw rows behind a logical source name.
type RowSource interface {
	Rows(ctx context.Context, name string) ([]models.RawRow, int, error)
}

type loadedRows struct {
	rows      []models.RawRow
	skipped   int
	timestamp time.Time
}

// DataManager keeps recently read local rows so repeated fallbacks over the
// same file within cacheTTL parse it once. Rows are never mutated by the
// pipeline, so the cached slice is shared.
type DataManager struct {
	source   RowSource
	cacheTTL time.Duration
	now      func() time.Time

	cache map[string]*loadedRows
	mu    sync.Mutex

	// Error tracking
	lastError           error
	lastSuccessfulFetch time.Time
}

// NewDataManager creates a data manager; a zero TTL disables caching.
func NewDataManager(source RowSource, cacheTTL time.Duration) *DataManager {
	return &DataManager{
		source:   source,
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]*loadedRows),
	}
}

// Rows returns the rows of a source, from cache when fresh.
func (dm *DataManager) Rows(ctx context.Context, name string, forceRefresh bool) ([]models.RawRow, int, error) {
	dm.mu.Lock()
	if c, ok := dm.cache[name]; ok && !forceRefresh && dm.isCacheValid(c) {
		dm.mu.Unlock()
		logging.LogDebugf("Using cached %s rows (age: %.1fs)", name, dm.now().Sub(c.timestamp).Seconds())
		return c.rows, c.skipped, nil
	}
	dm.mu.Unlock()

	rows, skipped, err := dm.source.Rows(ctx, name)
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err != nil {
		dm.lastError = err
		return nil, 0, err
	}
	dm.lastError = nil
	dm.lastSuccessfulFetch = dm.now()
	if dm.cacheTTL > 0 {
		dm.cache[name] = &loadedRows{rows: rows, skipped: skipped, timestamp: dm.lastSuccessfulFetch}
	}
	return rows, skipped, nil
}

// InvalidateCache drops every cached source.
func (dm *DataManager) InvalidateCache() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.cache = make(map[string]*loadedRows)
}

// LocalStatus reports the local reader's recent history.
type LocalStatus struct {
	LastError           string    `json:"last_error,omitempty"`
	LastSuccessfulFetch time.Time `json:"last_successful_fetch,omitempty"`
	// CacheAgeSeconds maps each cached source to the age of its rows.
	CacheAgeSeconds map[string]float64 `json:"cache_age_seconds"`
}

// Status returns a snapshot of the last read outcome and the cached sources.
func (dm *DataManager) Status() LocalStatus {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	st := LocalStatus{
		LastSuccessfulFetch: dm.lastSuccessfulFetch,
		CacheAgeSeconds:     make(map[string]float64, len(dm.cache)),
	}
	if dm.lastError != nil {
		st.LastError = dm.lastError.Error()
	}
	for name, c := range dm.cache {
		st.CacheAgeSeconds[name] = dm.now().Sub(c.timestamp).Seconds()
	}
	return st
}

// isCacheValid checks a cached source (caller must hold the lock)
func (dm *DataManager) isCacheValid(c *loadedRows) bool {
	if dm.cacheTTL <= 0 || c.timestamp.IsZero() {
		return false
	}
	return dm.now().Sub(c.timestamp) <= dm.cacheTTL
}
