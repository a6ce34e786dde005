package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/models"
)

var fixedNow = time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)

func newTestManager(opts ...Option) *Manager {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewManager(NewMemoryStore(16), opts...)
}

func computeCount(n int, calls *int32) ComputeFunc {
	return func(ctx context.Context) (*Computation, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return &Computation{Raw: []byte(fmt.Sprintf(`{"n":%d}`, n)), Result: testResult(n)}, nil
	}
}

func failing(err error, calls *int32) ComputeFunc {
	return func(ctx context.Context) (*Computation, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return nil, err
	}
}

func TestManagerComputesThenHits(t *testing.T) {
	m := newTestManager(WithRunID(func() string { return "run-42" }))
	k := testKey("order-peak-hours", 1)
	var calls int32

	e, err := m.GetOrCompute(context.Background(), k, false, computeCount(3, &calls), nil)
	require.NoError(t, err)
	assert.False(t, e.Result.CacheHit)
	assert.Equal(t, models.ProvenanceRemote, e.Result.Provenance)
	assert.False(t, e.Result.Stale)
	assert.Equal(t, fixedNow, e.Result.FetchedAt)
	assert.Equal(t, "run-42", e.Result.RunID)
	assert.Equal(t, k.String(), e.Result.Key)

	again, err := m.GetOrCompute(context.Background(), k, false, computeCount(9, &calls), nil)
	require.NoError(t, err)
	assert.True(t, again.Result.CacheHit)
	assert.Equal(t, 3, again.Result.Summary.TotalCount, "cached entry is returned unmodified")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	st := m.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Computes)
	assert.Equal(t, int64(1), st.Size)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)
}

func TestManagerForceRefresh(t *testing.T) {
	m := newTestManager()
	k := testKey("q", 1)
	_, err := m.GetOrCompute(context.Background(), k, false, computeCount(1, nil), nil)
	require.NoError(t, err)

	e, err := m.GetOrCompute(context.Background(), k, true, computeCount(2, nil), nil)
	require.NoError(t, err)
	assert.False(t, e.Result.CacheHit)
	assert.Equal(t, 2, e.Result.Summary.TotalCount)

	peek, ok := m.Peek(k)
	require.True(t, ok)
	assert.Equal(t, 2, peek.Result.Summary.TotalCount)
}

func TestManagerCoalescesConcurrentCallers(t *testing.T) {
	m := newTestManager()
	k := testKey("order-peak-hours", 1)

	var calls int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (*Computation, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &Computation{Result: testResult(11)}, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*Entry, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetOrCompute(context.Background(), k, false, compute, nil)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 11, results[i].Result.Summary.TotalCount)
	}

	// results are independent copies
	results[0].Result.Summary.TotalCount = -1
	assert.Equal(t, 11, results[1].Result.Summary.TotalCount)
}

func TestManagerFallbackThenRemoteOverwrites(t *testing.T) {
	m := newTestManager()
	k := testKey("order-peak-hours", 1)
	remoteDown := errors.NewSourceUnavailable(nil, "connection refused")

	e, err := m.GetOrCompute(context.Background(), k, false, failing(remoteDown, nil), computeCount(5, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ProvenanceFallback, e.Result.Provenance)
	assert.True(t, e.Result.Stale)
	assert.Equal(t, int64(1), m.Stats().Fallbacks)

	hit, err := m.GetOrCompute(context.Background(), k, false, computeCount(8, nil), nil)
	require.NoError(t, err)
	assert.True(t, hit.Result.CacheHit)
	assert.Equal(t, models.ProvenanceFallback, hit.Result.Provenance, "stale entries are served until refreshed")

	fresh, err := m.GetOrCompute(context.Background(), k, true, computeCount(8, nil), computeCount(5, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ProvenanceRemote, fresh.Result.Provenance)
	assert.False(t, fresh.Result.Stale)
	assert.Equal(t, 8, fresh.Result.Summary.TotalCount)
}

func TestManagerBothFailKeepsPreviousEntry(t *testing.T) {
	m := newTestManager()
	k := testKey("q", 1)
	_, err := m.GetOrCompute(context.Background(), k, false, computeCount(4, nil), nil)
	require.NoError(t, err)

	_, err = m.GetOrCompute(context.Background(), k, true,
		failing(errors.NewSourceUnavailable(nil, "503"), nil),
		failing(errors.NewSourceUnavailable(nil, "no such file"), nil))
	require.Error(t, err)
	assert.True(t, errors.IsSourceUnavailable(err))
	assert.Contains(t, err.Error(), "both failed")

	prev, ok := m.Peek(k)
	require.True(t, ok)
	assert.Equal(t, 4, prev.Result.Summary.TotalCount)
	assert.Equal(t, models.ProvenanceRemote, prev.Result.Provenance)
	assert.Equal(t, int64(1), m.Stats().Failures)
}

func TestManagerBothFailWritesNothing(t *testing.T) {
	m := newTestManager()
	k := testKey("q", 1)
	_, err := m.GetOrCompute(context.Background(), k, false,
		failing(errors.NewSourceUnavailable(nil, "down"), nil),
		failing(errors.NewSourceUnavailable(nil, "missing"), nil))
	require.Error(t, err)
	_, ok := m.Peek(k)
	assert.False(t, ok)
}

func TestManagerFatalErrorSkipsFallback(t *testing.T) {
	m := newTestManager()
	var fallbackCalls int32
	_, err := m.GetOrCompute(context.Background(), testKey("q", 1), false,
		failing(errors.NewSchemaViolation("all rows invalid"), nil),
		computeCount(1, &fallbackCalls))
	require.Error(t, err)
	assert.True(t, errors.IsSchemaViolation(err))
	assert.Zero(t, atomic.LoadInt32(&fallbackCalls))
}

func TestManagerTimeoutFallsBack(t *testing.T) {
	m := newTestManager(WithTimeout(20 * time.Millisecond))
	slow := func(ctx context.Context) (*Computation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	e, err := m.GetOrCompute(context.Background(), testKey("q", 1), false, slow, computeCount(2, nil))
	require.NoError(t, err)
	assert.Equal(t, models.ProvenanceFallback, e.Result.Provenance)
}

func TestManagerCancelledCallerDoesNotAbortCompute(t *testing.T) {
	m := newTestManager()
	k := testKey("q", 1)

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (*Computation, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &Computation{Result: testResult(6)}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.GetOrCompute(ctx, k, false, compute, nil)
		done <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	_, ok := m.Peek(k)
	assert.False(t, ok, "nothing published while the compute is still running")

	close(release)
	require.Eventually(t, func() bool {
		e, ok := m.Peek(k)
		return ok && e.Result.Summary.TotalCount == 6
	}, time.Second, 5*time.Millisecond)
}

func TestManagerPersistentTierPromotes(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	k := testKey("order-peak-hours", 1)

	first := newTestManager(WithPersistent(store))
	_, err = first.GetOrCompute(context.Background(), k, false, computeCount(7, nil), nil)
	require.NoError(t, err)

	second := newTestManager(WithPersistent(store))
	var calls int32
	e, err := second.GetOrCompute(context.Background(), k, false, computeCount(1, &calls), nil)
	require.NoError(t, err)
	assert.True(t, e.Result.CacheHit)
	assert.Equal(t, 7, e.Result.Summary.TotalCount)
	assert.Equal(t, []byte(`{"n":7}`), e.Raw)
	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Equal(t, int64(1), second.Stats().Size, "hit promoted into memory")

	require.NoError(t, second.Invalidate(k))
	_, ok := second.Peek(k)
	assert.False(t, ok)
}

func TestManagerClear(t *testing.T) {
	store := newBadger(t)
	m := newTestManager(WithPersistent(store))
	k := testKey("q", 1)
	_, err := m.GetOrCompute(context.Background(), k, false, computeCount(1, nil), nil)
	require.NoError(t, err)

	require.NoError(t, m.Clear())
	_, ok := m.Peek(k)
	assert.False(t, ok)
}

func TestManagerRejectsCancelledContext(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.GetOrCompute(ctx, testKey("q", 1), false, computeCount(1, nil), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerCountsDroppedEvictions(t *testing.T) {
	m := NewManager(NewMemoryStore(1), WithClock(func() time.Time { return fixedNow }))
	for i := 1; i <= 3; i++ {
		_, err := m.GetOrCompute(context.Background(), testKey("q", i), false, computeCount(i, nil), nil)
		require.NoError(t, err)
	}
	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Evictions)
	assert.Equal(t, int64(2), stats.Dropped)

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	backed := NewManager(NewMemoryStore(1), WithClock(func() time.Time { return fixedNow }), WithPersistent(store))
	for i := 1; i <= 3; i++ {
		_, err := backed.GetOrCompute(context.Background(), testKey("q", i), false, computeCount(i, nil), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), backed.Stats().Evictions)
	assert.Zero(t, backed.Stats().Dropped)
}
