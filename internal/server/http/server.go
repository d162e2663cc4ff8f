// Package httpserver provides the HTTP REST API for the literature search
// service: search submission, status and run retrieval, cached paper lookup,
// provider health, and the authenticated job drain endpoint.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/evidencehq/litsearch/internal/config"
	"github.com/evidencehq/litsearch/internal/database"
	"github.com/evidencehq/litsearch/internal/observability"
	"github.com/evidencehq/litsearch/internal/providers"
	"github.com/evidencehq/litsearch/internal/repository"
	"github.com/evidencehq/litsearch/internal/worker"
)

// Drainer executes one inline claim-and-drain pass. Satisfied by
// *worker.Pool.
type Drainer interface {
	DrainBatch(ctx context.Context, workerID string, batchSize int) (worker.DrainResult, error)
}

// healthChecker reports database health. Satisfied by *database.DB.
type healthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Deps are the collaborators the HTTP server routes requests to.
type Deps struct {
	Searches repository.SearchRepository
	Runs     repository.RunRepository
	Cache    repository.CacheRepository
	Queue    repository.JobQueue
	Registry *providers.Registry
	Drainer  Drainer
	DB       healthChecker
	Queues   config.QueueConfig
	Caches   config.CacheConfig
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
}

// Server is the HTTP REST API server.
type Server struct {
	cfg        config.ServerConfig
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler returns the router, for tests and for mounting under a parent mux.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/v1/lit", func(r chi.Router) {
		r.Post("/search", s.startSearch)
		r.Get("/search/{searchID}", s.getSearch)
		r.Get("/search/{searchID}/runs", s.listRuns)
		r.Get("/search/{searchID}/runs/{runID}", s.getRun)
		r.Get("/paper/{paperID}", s.getPaper)
		r.Get("/providers/health", s.providersHealth)
		r.Post("/jobs/drain", s.drainJobs)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler returns readiness including database connectivity.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.deps.DB.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// metricsMiddleware records per-route request counts and latencies. The chi
// route pattern keeps cardinality bounded: ids collapse into placeholders.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		s.deps.Metrics.RecordHTTPRequest(r.Method, pattern, fmt.Sprintf("%d", ww.Status()), time.Since(start))
	})
}
