package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/penwyp/peakcat/cache"
	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/models"
	"github.com/penwyp/peakcat/orchestrator"
	"github.com/penwyp/peakcat/output"
	"github.com/penwyp/peakcat/pipeline"
	"github.com/penwyp/peakcat/source"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                    `json:"status"`
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Cache   *cache.Stats              `json:"cache,omitempty"`
	Local   *orchestrator.LocalStatus `json:"local,omitempty"`
	Breaker *source.BreakerStats      `json:"breaker,omitempty"`
}

// QuestionInfo describes one question for discovery.
type QuestionInfo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Endpoint    string `json:"endpoint,omitempty"`
	Primary     string `json:"primary_table"`
	PeakMode    string `json:"peak_mode"`
	UsesLimit   bool   `json:"uses_limit"`
	UsesCutoff  bool   `json:"uses_cutoff"`
	UsesPeriods bool   `json:"uses_periods"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.opts.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.maint != nil {
		st := s.maint.Status()
		resp.Cache, resp.Local, resp.Breaker = &st.Cache, st.Local, st.Breaker
		if st.Breaker != nil && st.Breaker.State != source.StateClosed.String() {
			resp.Status = "degraded"
		}
	}
	RespondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	defs := pipeline.Questions()
	out := make([]QuestionInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, QuestionInfo{
			ID:          d.ID,
			Title:       d.Title,
			Endpoint:    d.Endpoint,
			Primary:     d.Primary,
			PeakMode:    string(d.PeakMode),
			UsesLimit:   d.UsesLimit,
			UsesCutoff:  d.UsesCutoff,
			UsesPeriods: d.UsesPeriods,
		})
	}
	RespondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(mux.Vars(r)["question"], r.URL.Query())
	if err != nil {
		RespondError(w, err)
		return
	}

	format := output.FormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		if format, err = output.ParseFormat(f); err != nil || format == output.FormatTable {
			RespondError(w, errors.NewValidation("format", "format must be json, csv or summary"))
			return
		}
	}

	res, err := s.runner.Run(r.Context(), q)
	if err != nil {
		RespondError(w, err)
		return
	}

	if format == output.FormatJSON {
		RespondJSON(w, http.StatusOK, res)
		return
	}
	filename := res.Question + ".csv"
	if format == output.FormatSummary {
		filename = res.Question + "-summary.csv"
	}
	w.Header().Set("Content-Type", contentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := output.NewFormatter(format, false).Write(w, res); err != nil {
		RespondError(w, err)
	}
}

// contentType is the media type of a rendered format. The summary is a
// two-column metric/value CSV, marked with a header=present parameter so
// clients do not mistake it for the bucket table.
func contentType(f output.Format) string {
	switch f {
	case output.FormatJSON:
		return "application/json"
	case output.FormatCSV:
		return "text/csv; charset=utf-8"
	case output.FormatSummary:
		return "text/csv; charset=utf-8; header=present"
	default:
		return "text/plain; charset=utf-8"
	}
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.maint == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.maint.ClearCache(); err != nil {
		RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.maint == nil {
		RespondJSON(w, http.StatusOK, orchestrator.Status{})
		return
	}
	RespondJSON(w, http.StatusOK, s.maint.Status())
}

// parseQuery turns URL parameters into a query. Unset parameters stay zero so
// the orchestrator applies its defaults.
func parseQuery(question string, values url.Values) (orchestrator.Query, error) {
	q := orchestrator.Query{Question: question}

	var err error
	if q.Start, err = timeParam(values, "start"); err != nil {
		return q, err
	}
	if q.End, err = timeParam(values, "end"); err != nil {
		return q, err
	}
	if q.Cutoff, err = timeParam(values, "cutoff"); err != nil {
		return q, err
	}

	if v := firstValue(values, "timezone_offset_minutes", "tz_offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return q, errors.NewValidation("timezone_offset_minutes", "timezone_offset_minutes must be an integer, got %q", v)
		}
		q.OffsetMinutes = &offset
	}
	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return q, errors.NewValidation("limit", "limit must be an integer, got %q", v)
		}
		if limit <= 0 {
			return q, errors.NewValidation("limit", "limit must be positive, got %d", limit)
		}
		q.Limit = limit
	}
	if q.ForceRefresh, err = boolParam(values, "force_refresh"); err != nil {
		return q, err
	}
	if q.Strict, err = boolParam(values, "strict"); err != nil {
		return q, err
	}
	return q, nil
}

func firstValue(values url.Values, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(values.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func timeParam(values url.Values, name string) (time.Time, error) {
	v := strings.TrimSpace(values.Get(name))
	if v == "" {
		return time.Time{}, nil
	}
	t, err := models.ParseTime(v)
	if err != nil {
		return time.Time{}, errors.NewValidation(name, "%s: %v", name, err)
	}
	return t, nil
}

func boolParam(values url.Values, name string) (bool, error) {
	v := strings.TrimSpace(values.Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.NewValidation(name, "%s must be a boolean, got %q", name, v)
	}
	return b, nil
}
