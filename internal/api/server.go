package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. The metrics registry may be nil, in
// which case /metrics is not mounted.
func NewServer(cfg domain.ServerConfig, store ReadModel, c domain.Cache, b domain.EventBus, runs RunState, reg *metrics.Registry, version string) *Server {
	handler := NewHandler(store, c, b, runs, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))
	if reg != nil {
		router.Use(MetricsMiddleware(reg))
		router.Method(http.MethodGet, "/metrics", reg.Handler())
	}

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Read models
	router.Get("/stats", handler.Stats)
	router.Get("/transfers/flagged", handler.FlaggedTransfers)
	router.Get("/accounts/top", handler.TopAccounts)
	router.Get("/report", handler.Report)

	// Run trigger
	router.Post("/runs", handler.StartRun)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
