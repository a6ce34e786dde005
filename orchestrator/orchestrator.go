package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/penwyp/peakcat/cache"
	"github.com/penwyp/peakcat/calculations"
	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
	"github.com/penwyp/peakcat/pipeline"
	"github.com/penwyp/peakcat/source"
)

const (
	DefaultWindow = 30 * 24 * time.Hour
	rowsCacheTTL  = time.Minute
)

// Fetcher is the remote analytics backend.
type Fetcher interface {
	Fetch(ctx context.Context, req source.Request) ([]byte, error)
}

// Query is one caller request. Zero times, a nil offset and a zero limit
// take the configured defaults.
type Query struct {
	Question      string
	Start         time.Time
	End           time.Time
	OffsetMinutes *int
	Limit         int
	Cutoff        time.Time
	ForceRefresh  bool
	Strict        bool
}

// Options are the defaults and analysis settings applied to every query.
type Options struct {
	Now                  func() time.Time
	DefaultWindow        time.Duration
	DefaultOffsetMinutes int
	DefaultLimit         int
	Periods              *calculations.PeriodSet
	Quantile             float64
	Workers              int
	Strict               bool
}

// Plan is a validated query bound to its question.
type Plan struct {
	Definition *pipeline.Definition
	Params     pipeline.Params
	Key        models.QueryKey
	Request    source.Request
	Force      bool
}

// Orchestrator validates queries and runs them through the cache with a
// remote compute and a local fallback.
type Orchestrator struct {
	remote Fetcher
	data   *DataManager
	cache  *cache.Manager

	mu   sync.RWMutex
	opts Options
}

// New wires an orchestrator. remote may be nil, in which case every miss is
// served from local files.
func New(remote Fetcher, local RowSource, manager *cache.Manager, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultWindow <= 0 {
		opts.DefaultWindow = DefaultWindow
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = pipeline.DefaultCategoryLimit
	}
	if manager == nil {
		manager = cache.NewManager(nil)
	}
	var data *DataManager
	if local != nil {
		data = NewDataManager(local, rowsCacheTTL)
	}
	return &Orchestrator{remote: remote, data: data, cache: manager, opts: opts}
}

// SetPeriods replaces the named windows used by later queries.
func (o *Orchestrator) SetPeriods(ps *calculations.PeriodSet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opts.Periods = ps
}

// Cache exposes the cache manager.
func (o *Orchestrator) Cache() *cache.Manager {
	return o.cache
}

// ClearCache empties every cache tier and the local row cache, so the next
// query reads its source again.
func (o *Orchestrator) ClearCache() error {
	if err := o.cache.Clear(); err != nil {
		return err
	}
	if o.data != nil {
		o.data.InvalidateCache()
	}
	return nil
}

// Status is the operational snapshot served on the health endpoints.
type Status struct {
	Cache   cache.Stats          `json:"cache"`
	Local   *LocalStatus         `json:"local,omitempty"`
	Breaker *source.BreakerStats `json:"breaker,omitempty"`
}

type breakerHolder interface {
	Breaker() *source.CircuitBreaker
}

// Status reports cache counters, the local reader and the remote breaker.
func (o *Orchestrator) Status() Status {
	st := Status{Cache: o.cache.Stats()}
	if o.data != nil {
		local := o.data.Status()
		st.Local = &local
	}
	if h, ok := o.remote.(breakerHolder); ok {
		if cb := h.Breaker(); cb != nil {
			stats := cb.Stats()
			st.Breaker = &stats
		}
	}
	return st
}

func (o *Orchestrator) options() Options {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.opts
}

// Plan resolves defaults and validates q without doing any I/O.
func (o *Orchestrator) Plan(q Query) (*Plan, error) {
	opts := o.options()

	def, ok := pipeline.Lookup(q.Question)
	if !ok {
		return nil, errors.NewValidation("question", "unknown question %q", q.Question).
			With("known", pipeline.QuestionIDs())
	}

	end := q.End
	if end.IsZero() {
		end = opts.Now()
	}
	start := q.Start
	if start.IsZero() {
		start = end.Add(-opts.DefaultWindow)
	}
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, errors.NewValidation("start", "start %s must be before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	offset := opts.DefaultOffsetMinutes
	if q.OffsetMinutes != nil {
		offset = *q.OffsetMinutes
	}
	if err := calculations.ValidateOffset(offset); err != nil {
		return nil, errors.NewValidation("timezone_offset_minutes", "%v", err)
	}

	limit := 0
	if q.Limit < 0 {
		return nil, errors.NewValidation("limit", "limit must be positive, got %d", q.Limit)
	}
	if def.UsesLimit {
		limit = q.Limit
		if limit == 0 {
			limit = opts.DefaultLimit
		}
		if limit < 1 || limit > pipeline.MaxCategoryLimit {
			return nil, errors.NewValidation("limit", "limit must be between 1 and %d, got %d", pipeline.MaxCategoryLimit, limit)
		}
	}

	var cutoff time.Time
	if !q.Cutoff.IsZero() {
		if !def.UsesCutoff {
			return nil, errors.NewValidation("cutoff", "question %s does not take a cutoff", def.ID)
		}
		cutoff = q.Cutoff.UTC()
		if cutoff.Before(start) || !cutoff.Before(end) {
			return nil, errors.NewValidation("cutoff", "cutoff %s is outside [%s, %s)",
				cutoff.Format(time.RFC3339), start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
	}

	params := pipeline.Params{
		Start:         start,
		End:           end,
		OffsetMinutes: offset,
		Limit:         limit,
		Cutoff:        cutoff,
		Periods:       opts.Periods,
		Quantile:      opts.Quantile,
		Workers:       opts.Workers,
		Strict:        q.Strict || opts.Strict,
	}

	key := models.QueryKey{Question: def.ID, Start: start, End: end, OffsetMinutes: offset}
	keyParams := map[string]string{}
	if limit > 0 {
		keyParams["limit"] = strconv.Itoa(limit)
	}
	if !cutoff.IsZero() {
		keyParams["cutoff"] = cutoff.Format(time.RFC3339Nano)
	}
	if (def.UsesPeriods || def.PeakMode == calculations.PeakFixedWindow) && opts.Periods != nil {
		keyParams["windows"] = opts.Periods.Describe()
	}
	if opts.Quantile > 0 && opts.Quantile != calculations.DefaultPeakQuantile {
		keyParams["quantile"] = strconv.FormatFloat(opts.Quantile, 'f', -1, 64)
	}
	if len(keyParams) > 0 {
		key.Params = keyParams
	}

	return &Plan{
		Definition: def,
		Params:     params,
		Key:        key,
		Request: source.Request{
			Endpoint:      def.Endpoint,
			Start:         start,
			End:           end,
			OffsetMinutes: offset,
			Limit:         limit,
			Cutoff:        cutoff,
			Paged:         def.Remote.Rows,
		},
		Force: q.ForceRefresh,
	}, nil
}

// Run answers a query. The returned result is the caller's own copy.
func (o *Orchestrator) Run(ctx context.Context, q Query) (*models.Result, error) {
	plan, err := o.Plan(q)
	if err != nil {
		return nil, err
	}

	compute, fallback := o.remoteCompute(plan), o.localCompute(plan)
	if plan.Definition.LocalOnly() {
		compute, fallback = o.localOnlyCompute(plan), nil
	}

	start := time.Now()
	entry, err := o.cache.GetOrCompute(ctx, plan.Key, plan.Force, compute, fallback)
	if err != nil {
		return nil, err
	}
	logging.WithFields(map[string]interface{}{
		"question":   plan.Definition.ID,
		"provenance": entry.Result.Provenance,
		"cache_hit":  entry.Result.CacheHit,
		"elapsed":    time.Since(start).String(),
	}).Infof("Answered %s", plan.Definition.ID)
	return entry.Result, nil
}

func (o *Orchestrator) remoteCompute(plan *Plan) cache.ComputeFunc {
	return func(ctx context.Context) (*cache.Computation, error) {
		if o.remote == nil {
			return nil, errors.NewSourceUnavailable(nil, "no remote analytics backend configured")
		}
		body, err := o.remote.Fetch(ctx, plan.Request)
		if err != nil {
			return nil, err
		}
		res, err := pipeline.FromRemote(ctx, plan.Definition, body, plan.Params)
		if err != nil {
			return nil, err
		}
		return &cache.Computation{Raw: body, Result: res}, nil
	}
}

// localOnlyCompute answers questions without a remote endpoint straight from
// local files; their results are not stale.
func (o *Orchestrator) localOnlyCompute(plan *Plan) cache.ComputeFunc {
	local := o.localCompute(plan)
	return func(ctx context.Context) (*cache.Computation, error) {
		if local == nil {
			return nil, errors.NewSourceUnavailable(nil, "%s is answered from local files and none are configured", plan.Definition.ID)
		}
		c, err := local(ctx)
		if err != nil {
			return nil, err
		}
		c.Provenance = models.ProvenanceLocal
		return c, nil
	}
}

// localSnapshot is the raw document kept for fallback entries.
type localSnapshot struct {
	Source  string `json:"source"`
	Rows    int    `json:"rows"`
	Skipped int    `json:"skipped"`
}

func (o *Orchestrator) localCompute(plan *Plan) cache.ComputeFunc {
	if o.data == nil {
		return nil
	}
	return func(ctx context.Context) (*cache.Computation, error) {
		def := plan.Definition
		rows, skipped, err := o.data.Rows(ctx, def.Source, plan.Force)
		if err != nil {
			return nil, err
		}
		res, err := pipeline.FromRows(ctx, def, rows, plan.Params)
		if err != nil {
			return nil, err
		}
		res.Summary.RejectedRows += skipped

		raw, err := sonic.Marshal(localSnapshot{Source: def.Source, Rows: len(rows), Skipped: skipped})
		if err != nil {
			return nil, err
		}
		return &cache.Computation{Raw: raw, Result: res}, nil
	}
}
