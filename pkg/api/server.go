package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsline/switchyard/pkg/deploy"
	"github.com/opsline/switchyard/pkg/events"
	"github.com/opsline/switchyard/pkg/log"
	"github.com/opsline/switchyard/pkg/metrics"
	"github.com/opsline/switchyard/pkg/rollout"
)

// Server exposes the deployment and rollout operation surface over HTTP.
type Server struct {
	automation *deploy.Automation
	rollouts   *rollout.Orchestrator
	broker     *events.Broker
	mux        *http.ServeMux
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer wires the HTTP routes over the given automation and rollout
// orchestrator. The broker is optional; without it the events endpoint
// reports unavailable.
func NewServer(automation *deploy.Automation, rollouts *rollout.Orchestrator, broker *events.Broker) *Server {
	s := &Server{
		automation: automation,
		rollouts:   rollouts,
		broker:     broker,
		mux:        http.NewServeMux(),
		logger:     log.WithComponent("api"),
	}

	s.mux.HandleFunc("POST /v1/deployments", s.handleCreateDeployment)
	s.mux.HandleFunc("GET /v1/deployments", s.handleListDeployments)
	s.mux.HandleFunc("GET /v1/deployments/{id}", s.handleGetDeployment)
	s.mux.HandleFunc("POST /v1/deployments/{id}/rollback", s.handleRollbackDeployment)

	s.mux.HandleFunc("POST /v1/rollouts", s.handleStartRollout)
	s.mux.HandleFunc("GET /v1/rollouts", s.handleListRollouts)
	s.mux.HandleFunc("GET /v1/rollouts/{id}", s.handleGetRollout)
	s.mux.HandleFunc("POST /v1/rollouts/{id}/abort", s.handleAbortRollout)

	s.mux.HandleFunc("GET /v1/events", s.handleEvents)

	s.mux.HandleFunc("GET /health", metrics.HealthHandler())
	s.mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	s.mux.Handle("GET /metrics", metrics.Handler())

	return s
}

// Handler returns the full handler chain for embedding in tests or other
// servers.
func (s *Server) Handler() http.Handler {
	return s.withRequestMetrics(s.mux)
}

// Start serves the API on addr until the listener fails or Shutdown is
// called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No write timeout: /v1/events holds long-lived streams.
	}

	s.logger.Info().Str("addr", addr).Msg("api server listening")
	metrics.UpdateComponent("api", true, "listening on "+addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	metrics.UpdateComponent("api", false, "shutting down")
	return s.httpServer.Shutdown(ctx)
}
