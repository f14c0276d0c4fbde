// Package api exposes the engine over HTTP: workspace and run
// management, gate decisions, artifact downloads, and the live event
// stream.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/groundloop-ai/groundloop/internal/core"
	"github.com/groundloop-ai/groundloop/internal/events"
	"github.com/groundloop-ai/groundloop/internal/logging"
	"github.com/groundloop-ai/groundloop/internal/orchestrator"
	"github.com/groundloop-ai/groundloop/internal/store"
)

// Server provides the HTTP surface of the engine.
type Server struct {
	router     chi.Router
	orch       *orchestrator.Orchestrator
	runs       *store.RunStore
	workspaces *store.WorkspaceStore
	bus        *events.Bus
	index      *store.Index
	logger     *logging.Logger
	enableCORS bool
	started    time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithIndex attaches the run index backing list and metrics endpoints.
func WithIndex(index *store.Index) ServerOption {
	return func(s *Server) { s.index = index }
}

// WithCORS enables permissive CORS for browser clients.
func WithCORS(enabled bool) ServerOption {
	return func(s *Server) { s.enableCORS = enabled }
}

// NewServer creates the API server.
func NewServer(orch *orchestrator.Orchestrator, runs *store.RunStore, workspaces *store.WorkspaceStore, bus *events.Bus, opts ...ServerOption) *Server {
	s := &Server{
		orch:       orch,
		runs:       runs,
		workspaces: workspaces,
		bus:        bus,
		logger:     logging.NewNop(),
		started:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	if s.enableCORS {
		corsHandler := cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
			AllowCredentials: false,
			MaxAge:           300,
		})
		r.Use(corsHandler.Handler)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", s.handleListWorkspaces)
			r.Post("/", s.handleCreateWorkspace)
			r.Route("/{workspaceID}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkspace)
				r.Put("/", s.handleUpdateWorkspace)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleCreateRun)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Post("/select-feature", s.handleSelectFeature)
				r.Post("/approve", s.handleApprove)
				r.Post("/cancel", s.handleCancelRun)
				r.Get("/events", s.handleRunEvents)
				r.Get("/artifacts", s.handleListArtifacts)
				r.Get("/artifacts/{name}", s.handleGetArtifact)
			})
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// publish mirrors the worker's event path for the narrow
// externally-driven events the API itself records.
func (s *Server) publish(runID core.RunID, event core.Event) {
	if err := s.runs.AppendEvent(runID, event); err != nil {
		s.logger.Warn("appending event", "run_id", string(runID), "error", err)
	}
	s.bus.Publish(runID, event)
}
