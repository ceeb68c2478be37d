package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/outreachd/outreachd/internal/batch"
	"github.com/outreachd/outreachd/internal/campaign"
	"github.com/outreachd/outreachd/internal/clock"
	"github.com/outreachd/outreachd/internal/config"
	"github.com/outreachd/outreachd/internal/escalation"
	"github.com/outreachd/outreachd/internal/ratelimit"
)

// Server is the admin HTTP API server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	schedules  *campaign.Service
	limiter    *ratelimit.Limiter
	drip       *batch.Orchestrator
	escalation *escalation.Pipeline
	config     *config.APIConfig
	clock      clock.Clock
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates the admin API server.
func NewServer(
	schedules *campaign.Service,
	limiter *ratelimit.Limiter,
	drip *batch.Orchestrator,
	esc *escalation.Pipeline,
	cfg *config.APIConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		schedules:  schedules,
		limiter:    limiter,
		drip:       drip,
		escalation: esc,
		config:     cfg,
		clock:      clk,
		logger:     logger.With("component", "api"),
		startTime:  clk.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/schedules", s.handleCreateSchedule)
		r.Get("/schedules", s.handleListSchedules)
		r.Get("/schedules/{id}", s.handleGetSchedule)
		r.Post("/schedules/{id}/pause", s.handlePause)
		r.Post("/schedules/{id}/resume", s.handleResume)
		r.Post("/schedules/{id}/optout", s.handleOptOut)

		r.Get("/owners/{id}/ratelimit", s.handleRateLimit)

		r.Post("/batches/drip", s.handleRunDrip)
		r.Post("/batches/escalation", s.handleRunEscalation)

		r.Post("/escalations", s.handleCreateRecord)
		r.Get("/escalations/{id}", s.handleGetRecord)
		r.Post("/escalations/{id}/optout", s.handleRecordOptOut)
	})
}

// Handler returns the configured router, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting admin API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down admin API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
