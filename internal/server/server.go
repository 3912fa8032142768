// Package server exposes the HTTP API: question answering, telemetry
// reporting, and health. Authentication resolves API keys to tenants; the
// tenant a key resolves to always wins over whatever tenant_id the request
// body claims.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/1274866478-stack/data-agent-sub005/internal/agent"
	dqotel "github.com/1274866478-stack/data-agent-sub005/internal/otel"
	"github.com/1274866478-stack/data-agent-sub005/internal/policy"
	"github.com/1274866478-stack/data-agent-sub005/internal/session"
	"github.com/1274866478-stack/data-agent-sub005/internal/telemetry"
	"github.com/1274866478-stack/data-agent-sub005/internal/tenant"
)

const defaultTimeout = 60 * time.Second

// Server holds the HTTP API dependencies.
type Server struct {
	router    *chi.Mux
	orch      *agent.Orchestrator
	tenants   *tenant.Manager
	telemetry *telemetry.Store
	policy    *policy.Policy
	sessions  *session.Manager
	startTime time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithSessionManager exposes session stats on the health endpoint.
func WithSessionManager(sm *session.Manager) Option {
	return func(s *Server) { s.sessions = sm }
}

// NewServer builds a Server. tenants may be nil to disable
// authentication (local development); telemetry may be nil to disable the
// reporting endpoints.
func NewServer(orch *agent.Orchestrator, tenants *tenant.Manager, store *telemetry.Store, pol *policy.Policy, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		orch:      orch,
		tenants:   tenants,
		telemetry: store,
		policy:    pol,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured handler. The ask route runs without a
// request timeout so the turn deadline governs; reporting routes get the
// default 60 second timeout.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(dqotel.Middleware())

	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.tenants))
		r.Use(RateLimitMiddleware(s.tenants))

		r.Post("/v1/ask", s.handleAsk)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/report", s.handleReport)
			r.Get("/v1/telemetry/export", s.handleTelemetryExport)
			r.Get("/v1/policy", s.handlePolicy)
		})
	})

	return r
}
