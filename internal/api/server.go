// internal/api/server.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/api/middleware"
	"github.com/newthinker/tradesim/internal/candle"
	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/metrics"
	"github.com/newthinker/tradesim/internal/session"
	store "github.com/newthinker/tradesim/internal/storage/session"
)

// Server exposes session control over HTTP.
type Server struct {
	httpServer *http.Server
	registry   *session.Registry
	store      store.Store
	source     candle.Source
	maker      decision.Maker
	defaults   config.SessionConfig
	risk       config.RiskConfig
	logger     *zap.Logger
	mux        *http.ServeMux
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	APIKey      string
	MetricsPath string
	Metrics     *metrics.Registry
}

// Deps are the collaborators the handlers act on.
type Deps struct {
	Registry *session.Registry
	Store    store.Store
	Source   candle.Source
	Maker    decision.Maker
	Defaults config.SessionConfig
	Risk     config.RiskConfig
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = metrics.HTTPMiddleware(cfg.Metrics)(handler)
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // event streams are long-lived
			IdleTimeout:  60 * time.Second,
		},
		registry: deps.Registry,
		store:    deps.Store,
		source:   deps.Source,
		maker:    deps.Maker,
		defaults: deps.Defaults,
		risk:     deps.Risk,
		logger:   logger,
		mux:      mux,
	}

	s.setupRoutes(cfg)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config) {
	auth := middleware.APIKeyAuth(cfg.APIKey)
	protect := func(h http.HandlerFunc) http.Handler {
		return auth(h)
	}

	s.mux.Handle("POST /api/sessions", protect(s.handleCreateSession))
	s.mux.Handle("GET /api/sessions", protect(s.handleListSessions))
	s.mux.Handle("GET /api/sessions/{id}", protect(s.handleSessionStatus))
	s.mux.Handle("POST /api/sessions/{id}/pause", protect(s.handlePause))
	s.mux.Handle("POST /api/sessions/{id}/resume", protect(s.handleResume))
	s.mux.Handle("POST /api/sessions/{id}/stop", protect(s.handleStop))
	s.mux.Handle("GET /api/sessions/{id}/result", protect(s.handleResult))
	s.mux.Handle("GET /api/sessions/{id}/trades", protect(s.handleTrades))
	s.mux.Handle("GET /api/sessions/{id}/decisions", protect(s.handleDecisions))
	s.mux.Handle("GET /api/sessions/{id}/events", protect(s.handleEvents))
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
