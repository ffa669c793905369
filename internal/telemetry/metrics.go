// Package telemetry provides observability primitives for the generation
// core.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	GenerationsSubmittedTotal *prometheus.CounterVec // labels: model, status
	GenerationPollErrorsTotal *prometheus.CounterVec // labels: provider
	BroadcastMessagesTotal    *prometheus.CounterVec // labels: outcome (sent|failed|blocked)
	LedgerEntriesTotal        *prometheus.CounterVec // labels: entry_type

	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider
	CircuitBreakerRejects *prometheus.CounterVec // labels: provider
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bananapics",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "bananapics",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bananapics",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		GenerationsSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bananapics",
			Name:      "generations_submitted_total",
			Help:      "Total generation submissions by model and outcome.",
		}, []string{"model", "status"}),

		GenerationPollErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bananapics",
			Name:      "generation_poll_errors_total",
			Help:      "Total transient poll errors by provider.",
		}, []string{"provider"}),

		BroadcastMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bananapics",
			Name:      "broadcast_messages_total",
			Help:      "Total broadcast deliveries by outcome.",
		}, []string{"outcome"}),

		LedgerEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bananapics",
			Name:      "ledger_entries_total",
			Help:      "Total ledger entries posted by entry type.",
		}, []string{"entry_type"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bananapics",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bananapics",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total submissions rejected by an open circuit breaker.",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.GenerationsSubmittedTotal,
		m.GenerationPollErrorsTotal,
		m.BroadcastMessagesTotal,
		m.LedgerEntriesTotal,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
	)

	return m
}
