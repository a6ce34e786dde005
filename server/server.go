package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
	"github.com/penwyp/peakcat/orchestrator"
)

// Runner answers analytics queries.
type Runner interface {
	Run(ctx context.Context, q orchestrator.Query) (*models.Result, error)
}

// Maintainer clears caches and reports operational status.
type Maintainer interface {
	ClearCache() error
	Status() orchestrator.Status
}

// Options configures the HTTP server.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Version         string
}

// Server exposes the questions over HTTP.
type Server struct {
	runner    Runner
	maint     Maintainer
	opts      Options
	router    *mux.Router
	startTime time.Time
}

// New builds a server and its routes. maint may be nil, in which case the
// cache endpoints report nothing.
func New(runner Runner, maint Maintainer, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		runner:    runner,
		maint:     maint,
		opts:      opts,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(requestLogger)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/questions", s.handleQuestions).Methods(http.MethodGet)
	s.router.HandleFunc("/analytics/{question}", s.handleAnalytics).Methods(http.MethodGet)
	s.router.HandleFunc("/cache", s.handleClearCache).Methods(http.MethodDelete)
	s.router.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: r.URL.Path})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed", Message: r.Method})
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogInfof("Listening on %s", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.LogInfof("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.WithFields(map[string]interface{}{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.status,
			"elapsed": time.Since(start).String(),
		}).Debugf("HTTP request")
	})
}
