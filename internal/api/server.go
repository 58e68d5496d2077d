// ABOUTME: Coordinator server assembly: registry, router, monitor, hub, and HTTP API
// ABOUTME: Owns startup, route registration, and graceful shutdown

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/agent-mesh/internal/auth"
	"github.com/2389/agent-mesh/internal/config"
	"github.com/2389/agent-mesh/internal/realtime"
	"github.com/2389/agent-mesh/internal/registry"
	"github.com/2389/agent-mesh/internal/router"
	"github.com/2389/agent-mesh/internal/store"
)

// Server wires the coordinator components together and serves the HTTP API.
type Server struct {
	cfg       *config.Config
	registry  *registry.Registry
	router    *router.Router
	monitor   *registry.Monitor
	hub       *realtime.Hub
	store     store.Store
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a fully wired coordinator server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return newWithStore(cfg, st, logger), nil
}

// newWithStore assembles the server around an existing store.
func newWithStore(cfg *config.Config, st store.Store, logger *slog.Logger) *Server {
	hub := realtime.NewHub(logger)
	issuer := auth.NewSessionIssuer([]byte(cfg.Auth.SessionSecret), cfg.Auth.SessionTTL)
	reg := registry.New(issuer, hub, logger)
	rtr := router.New(st, reg, hub, cfg.Router.RetentionWindow, cfg.Router.SweepInterval, logger)
	mon := registry.NewMonitor(reg, cfg.Agents.HeartbeatPeriod, cfg.Agents.HeartbeatThreshold, cfg.Agents.MissLimit, logger)

	return &Server{
		cfg:       cfg,
		registry:  reg,
		router:    rtr,
		monitor:   mon,
		hub:       hub,
		store:     st,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/agents/register", s.handleRegister)
	mux.HandleFunc("POST /api/agents/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeregister)
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/messages/send", s.handleSend)
	mux.HandleFunc("GET /api/messages/poll", s.handlePoll)
	mux.HandleFunc("GET /api/messages/recent", s.handleRecent)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws/events", s.hub)

	return mux
}

// Run starts the heartbeat monitor, the retention sweep, and the HTTP
// listener, blocking until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.monitor.Run(ctx)
	go s.router.Run(ctx)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
	}

	s.hub.Close()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
