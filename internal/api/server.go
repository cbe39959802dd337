package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/metrics"
	"github.com/JakeFAU/content-collector/internal/middleware"
	"github.com/JakeFAU/content-collector/internal/orchestrator"
	"github.com/JakeFAU/content-collector/internal/progress"
	"github.com/JakeFAU/content-collector/internal/store"
)

const readyTimeout = 2 * time.Second

// Collector runs one collection and reports it through reporter.
type Collector interface {
	Run(ctx context.Context, req orchestrator.Request, reporter progress.Reporter) (orchestrator.Result, error)
}

// Deps are the collaborators behind the routes. Runs may be nil, in which
// case the run history routes answer 503.
type Deps struct {
	Items     store.ItemRepository
	Sources   store.SourceRepository
	Runs      store.RunRepository
	Collector Collector
	// Pingers are checked by /readyz.
	Pingers []store.Pinger
}

// Options tune the router.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// StreamBuffer is the client stream buffer of a collect request.
	StreamBuffer int
}

// Server wires HTTP handlers to the repositories and the orchestrator.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	runs   *RunHandler
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		runs:   NewRunHandler(deps.Runs, logger),
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger.Named("http")))
	r.Use(middleware.Recover(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(middleware.APIKey(opts.APIKey))
		}
		// Streams last as long as the run, so no request timeout here.
		r.Post("/tasks/{task_id}/collect", s.collect)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))
			r.Route("/tasks/{task_id}", func(r chi.Router) {
				r.Get("/items", s.listItems)
				r.Get("/sources", s.listSources)
				r.Put("/sources", s.replaceSources)
				r.Patch("/sources/{source_id}", s.selectSource)
			})
			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.runs.ListRuns)
				r.Route("/{run_id}", func(r chi.Router) {
					r.Get("/", s.runs.GetRun)
					r.Get("/sources", s.runs.ListRunSources)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	for _, p := range s.deps.Pingers {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	middleware.WriteJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	middleware.WriteError(w, status, msg)
}
