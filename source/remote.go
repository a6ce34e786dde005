package source

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/logging"
)

const (
	defaultTimeout = 10 * time.Second
	defaultBackoff = 100 * time.Millisecond
	maxBodyBytes   = 32 << 20

	// MaxPageSize bounds the limit sent to paginated endpoints.
	MaxPageSize = 1000
	// maxPageOffset stops a paginated walk that never returns a short page.
	maxPageOffset = 1_000_000
)

// RemoteOptions configures a Remote.
type RemoteOptions struct {
	BaseURL string
	Timeout time.Duration
	// Retries is the number of extra attempts after the first one.
	Retries int
	Backoff time.Duration
	Client  *http.Client
	// Breaker guards the backend; a zero MaxFailures disables it.
	Breaker BreakerConfig
	// PageSize is the limit per page for paginated endpoints, 1..MaxPageSize.
	// Zero means MaxPageSize.
	PageSize int
}

// Request is one analytics call.
type Request struct {
	Endpoint      string
	Start         time.Time
	End           time.Time
	OffsetMinutes int
	Limit         int
	Cutoff        time.Time
	// Paged endpoints return a JSON array of rows per limit/offset page.
	Paged         bool
	Offset        int
}

// Query renders the request parameters. Times are sent as UTC RFC3339.
func (r Request) Query() url.Values {
	q := url.Values{}
	q.Set("start", r.Start.UTC().Format(time.RFC3339))
	q.Set("end", r.End.UTC().Format(time.RFC3339))
	if r.OffsetMinutes != 0 {
		q.Set("timezone_offset_minutes", strconv.Itoa(r.OffsetMinutes))
	}
	if r.Limit > 0 {
		q.Set("limit", strconv.Itoa(r.Limit))
	}
	if !r.Cutoff.IsZero() {
		q.Set("cutoff", r.Cutoff.UTC().Format(time.RFC3339))
	}
	if r.Paged {
		q.Set("offset", strconv.Itoa(r.Offset))
	}
	return q
}

// Remote fetches pre-aggregated payloads from the analytics backend.
type Remote struct {
	base       *url.URL
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	pageSize   int
	breaker    *CircuitBreaker
}

// NewRemote validates the base URL and builds a client.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.BaseURL == "" {
		return nil, errors.NewConfig("source.base_url", "remote base URL is empty")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.NewConfig("source.base_url", "invalid remote base URL %q", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = MaxPageSize
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, errors.NewConfig("source.page_size", "page size must be between 1 and %d, got %d", MaxPageSize, opts.PageSize)
	}

	r := &Remote{base: base, httpClient: client, timeout: timeout, retries: retries, backoff: backoff, pageSize: pageSize}
	if opts.Breaker.MaxFailures > 0 {
		r.breaker = NewCircuitBreaker(opts.Breaker)
		r.breaker.SetOnStateChange(func(from, to State) {
			logging.LogWarnf("Remote %s circuit %s -> %s", base.Host, from, to)
		})
	}
	return r, nil
}

// URL returns the full request URL.
func (r *Remote) URL(req Request) string {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(req.Endpoint, "/")
	u.RawQuery = req.Query().Encode()
	return u.String()
}

// Fetch performs the request, retrying network errors and 5xx responses with
// exponential backoff. Every failure is a source error so callers can fall
// back; a context deadline becomes a timeout error. While the circuit is
// open no request is sent. A paged request walks every page and returns
// the rows as one JSON array.
func (r *Remote) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if req.Paged {
		return r.fetchPages(ctx, req)
	}
	return r.fetchOne(ctx, req)
}

// fetchPages requests limit/offset pages until one comes back short or
// empty. A page that is not a JSON array fails the whole walk.
func (r *Remote) fetchPages(ctx context.Context, req Request) ([]byte, error) {
	req.Limit = r.pageSize
	var (
		out   strings.Builder
		rows  int
		pages int
	)
	out.WriteByte('[')
	for req.Offset = 0; ; req.Offset += r.pageSize {
		body, err := r.fetchOne(ctx, req)
		if err != nil {
			return nil, err
		}
		page := gjson.ParseBytes(body)
		if !gjson.ValidBytes(body) || !page.IsArray() {
			return nil, errors.NewSourceUnavailable(nil, "page at offset %d is not a JSON array", req.Offset).
				With("url", r.URL(req))
		}
		pages++
		n := 0
		page.ForEach(func(_, row gjson.Result) bool {
			if rows > 0 {
				out.WriteByte(',')
			}
			out.WriteString(row.Raw)
			rows++
			n++
			return true
		})
		if n < r.pageSize {
			break
		}
		if req.Offset+r.pageSize > maxPageOffset {
			logging.LogWarnf("Stopping %s pagination at offset %d", req.Endpoint, req.Offset)
			break
		}
	}
	out.WriteByte(']')
	logging.LogDebugf("Fetched %d rows from %s in %d pages", rows, req.Endpoint, pages)
	return []byte(out.String()), nil
}

func (r *Remote) fetchOne(ctx context.Context, req Request) ([]byte, error) {
	target := r.URL(req)
	if r.breaker != nil && !r.breaker.Allow() {
		return nil, errors.NewSourceUnavailable(nil, "remote circuit open, skipping request").With("url", target)
	}
	body, err := r.fetch(ctx, target)
	if r.breaker != nil {
		switch {
		case err == nil:
			r.breaker.RecordSuccess()
		case ctx.Err() == nil:
			r.breaker.RecordFailure()
		default:
			r.breaker.Release()
		}
	}
	return body, err
}

// Breaker returns the circuit breaker, or nil when disabled.
func (r *Remote) Breaker() *CircuitBreaker {
	return r.breaker
}

func (r *Remote) fetch(ctx context.Context, target string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			wait := time.Duration(1<<(attempt-1)) * r.backoff
			select {
			case <-ctx.Done():
				return nil, r.contextError(ctx, target, lastErr)
			case <-time.After(wait):
			}
		}

		body, retry, err := r.do(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, r.contextError(ctx, target, err)
		}
		if !retry {
			break
		}
		logging.LogDebugf("Remote %s failed (attempt %d/%d): %v", target, attempt+1, r.retries+1, err)
	}
	return nil, lastErr
}

func (r *Remote) do(ctx context.Context, target string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, errors.NewSourceUnavailable(err, "failed to create request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return nil, true, errors.NewTimeout(err, "remote request timed out after %s", r.timeout).With("url", target)
		}
		return nil, true, errors.NewSourceUnavailable(err, "failed to reach remote").With("url", target)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, errors.NewSourceUnavailable(err, "failed to read response body").With("url", target)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
		if detail := remoteMessage(body); detail != "" {
			msg += " (" + detail + ")"
		}
		return nil, resp.StatusCode >= 500, errors.NewSourceUnavailable(nil, "%s", msg).
			With("url", target).
			With("status", resp.StatusCode)
	}
	return body, false, nil
}

func (r *Remote) contextError(ctx context.Context, target string, cause error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeout(ctx.Err(), "remote request deadline exceeded").With("url", target)
	}
	if cause == nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ctx.Err(), cause)
}

// remoteMessage pulls a human readable reason out of an error body, if the
// backend sent one.
func remoteMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"detail", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
