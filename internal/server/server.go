// Package server implements the HTTP transport layer for the generation
// orchestration core.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	"github.com/bananapics/core/internal/app"
	"github.com/bananapics/core/internal/storage"
	"github.com/bananapics/core/internal/telemetry"
	"github.com/bananapics/core/internal/worker"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Store      storage.Store
	Submission *app.SubmissionGateway
	Broadcasts *app.BroadcastService
	Ledger     *app.LedgerService

	// Poller and BroadcastDispatcher are the same worker instances the
	// background runner uses; the HTTP layer reaches into them for the
	// synchronous refresh button and to kick off a started broadcast.
	Poller              *worker.GenerationPoller
	BroadcastDispatcher *worker.BroadcastDispatcher

	AdminKey string // bootstrap admin credential, checked on /admin/* routes

	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Submission API, consumed by the chat front-end. Authentication at
	// this boundary (signed initData or an HMAC internal key) happens
	// ahead of this process, per spec.md §6; the core trusts telegram_id
	// once a request reaches here.
	r.Route("/generations", func(r chi.Router) {
		r.Post("/submit", s.handleSubmitGeneration)
		r.Get("/active", s.handleActiveGeneration)
		r.Get("/{id}", s.handleGetGeneration)
		r.Post("/{id}/refresh", s.handleRefreshGeneration)
		r.Get("/{id}/results", s.handleGetGenerationResults)
	})

	r.Get("/models", s.handleListModels)

	// Admin API: broadcast campaigns and ledger adjustments.
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authenticateAdmin)
		r.Post("/broadcasts", s.handleCreateBroadcast)
		r.Get("/broadcasts", s.handleListBroadcasts)
		r.Get("/broadcasts/{id}", s.handleGetBroadcast)
		r.Post("/broadcasts/{id}/start", s.handleStartBroadcast)
		r.Post("/broadcasts/{id}/cancel", s.handleCancelBroadcast)
		r.Post("/credits", s.handleAdjustCredits)
		r.Post("/deposits", s.handleRecordDeposit)
	})

	return r
}

type server struct {
	deps Deps
}
