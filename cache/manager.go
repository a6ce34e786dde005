package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
)

const defaultComputeTimeout = 30 * time.Second

// Computation is what a compute or fallback function produces.
type Computation struct {
	Raw    []byte
	Result *models.Result

	// Provenance overrides the remote tag of a successful primary compute.
	Provenance models.Provenance
}

// ComputeFunc produces a fresh computation for a key.
type ComputeFunc func(ctx context.Context) (*Computation, error)

// Manager fronts a memory tier and an optional persistent tier. It runs at
// most one computation per key at a time and only ever publishes whole
// entries.
type Manager struct {
	memory     *MemoryStore
	persistent Store
	group      singleflight.Group
	clock      func() time.Time
	newRunID   func() string
	timeout    time.Duration

	mu    sync.Mutex
	stats Stats
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for FetchedAt.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithPersistent adds a persistent tier behind memory.
func WithPersistent(s Store) Option {
	return func(m *Manager) { m.persistent = s }
}

// WithTimeout bounds each compute and fallback call.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) Option {
	return func(m *Manager) { m.newRunID = fn }
}

// NewManager builds a manager over memory; a nil memory store gets the
// default capacity.
func NewManager(memory *MemoryStore, opts ...Option) *Manager {
	if memory == nil {
		memory = NewMemoryStore(0)
	}
	m := &Manager{
		memory:   memory,
		clock:    time.Now,
		newRunID: uuid.NewString,
		timeout:  defaultComputeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	memory.SetEvictionCallback(m.onEvicted)
	return m
}

// onEvicted runs under the memory tier's lock. Without a persistent tier an
// evicted answer is gone and the next ask recomputes it.
func (m *Manager) onEvicted(key string, e *Entry) {
	if m.persistent != nil {
		return
	}
	m.record(func(s *Stats) { s.Dropped++ })
}

// GetOrCompute returns the cached entry for key, or computes it. Unless
// forceRefresh is set an existing entry is returned as-is, with
// Result.CacheHit set. Otherwise compute runs; if it fails with a non-fatal
// error, fallback runs and its entry is tagged as a stale fallback. When
// both fail nothing is written and the previous entry stays in place.
//
// Concurrent callers for the same key share one computation. A caller whose
// context ends stops waiting and gets ctx.Err(); the shared computation runs
// to completion on a detached context.
func (m *Manager) GetOrCompute(ctx context.Context, key models.QueryKey, forceRefresh bool, compute, fallback ComputeFunc) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !forceRefresh {
		if e, ok := m.lookup(key); ok {
			m.record(func(s *Stats) { s.Hits++ })
			e.Result.CacheHit = true
			return e, nil
		}
	}
	m.record(func(s *Stats) { s.Misses++ })

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key.String(), func() (interface{}, error) {
		if !forceRefresh {
			if e, ok := m.lookup(key); ok {
				return e, nil
			}
		}
		return m.compute(detached, key, compute, fallback)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			m.record(func(s *Stats) { s.Coalesced++ })
		}
		e := r.Val.(*Entry).Clone()
		e.Result.CacheHit = false
		return e, nil
	}
}

func (m *Manager) compute(ctx context.Context, key models.QueryKey, compute, fallback ComputeFunc) (*Entry, error) {
	runID := m.newRunID()
	log := logging.WithFields(map[string]interface{}{"question": key.Question, "run_id": runID})

	provenance := models.ProvenanceRemote
	c, err := m.call(ctx, compute)
	if err != nil {
		if errors.IsFatal(err) || fallback == nil {
			m.record(func(s *Stats) { s.Failures++ })
			return nil, err
		}
		log.Warnf("Remote source failed, falling back to local data: %v", err)

		fc, ferr := m.call(ctx, fallback)
		if ferr != nil {
			m.record(func(s *Stats) { s.Failures++ })
			log.Errorf("Local fallback failed too: %v", ferr)
			if errors.IsFatal(ferr) {
				return nil, ferr
			}
			return nil, errors.NewSourceUnavailable(ferr, "remote and local sources both failed").
				With("question", key.Question).
				With("remote_error", err.Error())
		}
		c, provenance = fc, models.ProvenanceFallback
		m.record(func(s *Stats) { s.Fallbacks++ })
	}
	if c == nil || c.Result == nil {
		m.record(func(s *Stats) { s.Failures++ })
		return nil, errors.NewCache(nil, "computation for %s returned no result", key.Question)
	}
	if provenance == models.ProvenanceRemote && c.Provenance != "" {
		provenance = c.Provenance
	}
	m.record(func(s *Stats) { s.Computes++ })

	res := c.Result.Clone()
	res.Question = key.Question
	res.Key = key.String()
	res.Provenance = provenance
	res.Stale = provenance == models.ProvenanceFallback
	res.FetchedAt = m.clock().UTC()
	res.RunID = runID
	res.CacheHit = false

	e := NewEntry(key, c.Raw, res)
	if m.persistent != nil {
		if err := m.persistent.Put(e); err != nil {
			log.Warnf("Failed to persist cache entry: %v", err)
		}
	}
	if err := m.memory.Put(e); err != nil {
		return nil, errors.NewCache(err, "failed to store entry for %s", key.Question)
	}
	log.Debugf("Cached %s result for %s", provenance, key.String())
	return e, nil
}

// call runs fn under the manager timeout.
func (m *Manager) call(ctx context.Context, fn ComputeFunc) (*Computation, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	c, err := fn(ctx)
	if err != nil && stderrors.Is(err, context.DeadlineExceeded) && !errors.IsSourceUnavailable(err) {
		return nil, errors.NewTimeout(err, "computation exceeded %s", m.timeout)
	}
	return c, err
}

// lookup checks memory, then the persistent tier, promoting persistent hits.
func (m *Manager) lookup(key models.QueryKey) (*Entry, bool) {
	if e, err := m.memory.Get(key); err == nil {
		return e, true
	}
	if m.persistent == nil {
		return nil, false
	}
	e, err := m.persistent.Get(key)
	if err != nil {
		if !stderrors.Is(err, ErrNotFound) {
			logging.LogWarnf("Persistent cache read failed for %s: %v", key.Question, err)
		}
		return nil, false
	}
	if e.Result == nil {
		return nil, false
	}
	if err := m.memory.Put(e); err != nil {
		logging.LogDebugf("Failed to promote cache entry: %v", err)
	}
	return e, true
}

// Peek returns the cached entry without computing.
func (m *Manager) Peek(key models.QueryKey) (*Entry, bool) {
	return m.lookup(key)
}

// Invalidate drops key from every tier.
func (m *Manager) Invalidate(key models.QueryKey) error {
	if err := m.memory.Delete(key); err != nil {
		return err
	}
	if m.persistent != nil {
		if err := m.persistent.Delete(key); err != nil {
			return errors.NewCache(err, "failed to delete entry for %s", key.Question)
		}
	}
	return nil
}

// Clear empties every tier.
func (m *Manager) Clear() error {
	if err := m.memory.Clear(); err != nil {
		return err
	}
	if m.persistent != nil {
		if err := m.persistent.Clear(); err != nil {
			return errors.NewCache(err, "failed to clear persistent cache")
		}
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.stats
	m.mu.Unlock()
	s.Size = int64(m.memory.Len())
	s.Evictions = m.memory.Evictions()
	s.UpdateHitRate()
	return s
}

// Close closes the persistent tier.
func (m *Manager) Close() error {
	if m.persistent != nil {
		return m.persistent.Close()
	}
	return nil
}

func (m *Manager) record(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}
