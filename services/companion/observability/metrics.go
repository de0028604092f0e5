// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the routing pipeline.
//
// # Description
//
// Metrics cover the outcomes a dashboard needs to watch the safety-gated
// pipeline in production:
//   - Request counters by final outcome
//   - Backend attempt counters by backend and outcome
//   - Request duration histogram
//   - Crisis short-circuit counter by category
//   - Breaker transition counter by target state
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "cairn"

// Subsystem for router metrics
const routerSubsystem = "router"

// RouterMetrics holds all Prometheus metrics for the cognitive router.
//
// Initialize once at startup via InitMetrics().
type RouterMetrics struct {
	// RequestsTotal counts completed requests by final outcome.
	// Labels: outcome (ok, degraded, crisis)
	RequestsTotal *prometheus.CounterVec

	// BackendAttemptsTotal counts backend attempts by backend and outcome.
	// Labels: backend, outcome (ok, timeout, error)
	BackendAttemptsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end request latency.
	// Labels: outcome
	RequestDurationSeconds *prometheus.HistogramVec

	// CrisisTotal counts safety short-circuits by matched category.
	// Labels: category
	CrisisTotal *prometheus.CounterVec

	// BreakerTransitionsTotal counts breaker transitions by target state.
	// Labels: to (closed, open, half_open)
	BreakerTransitionsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of RouterMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RouterMetrics

// InitMetrics creates and registers all router metrics.
//
// Call once at application startup; calling twice panics on duplicate
// registration (Prometheus default registry semantics).
func InitMetrics() *RouterMetrics {
	DefaultMetrics = &RouterMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "requests_total",
				Help:      "Total completed requests by final outcome",
			},
			[]string{"outcome"},
		),

		BackendAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "backend_attempts_total",
				Help:      "Backend invocation attempts by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0},
			},
			[]string{"outcome"},
		),

		CrisisTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "crisis_total",
				Help:      "Safety short-circuits by matched category",
			},
			[]string{"category"},
		),

		BreakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker transitions by target state",
			},
			[]string{"to"},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records one completed request.
func (m *RouterMetrics) RecordRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.RequestDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAttempt records one backend attempt.
func (m *RouterMetrics) RecordAttempt(backend, outcome string) {
	if m == nil {
		return
	}
	m.BackendAttemptsTotal.WithLabelValues(backend, outcome).Inc()
}

// RecordCrisis records one safety short-circuit.
func (m *RouterMetrics) RecordCrisis(category string) {
	if m == nil {
		return
	}
	m.CrisisTotal.WithLabelValues(category).Inc()
}

// RecordBreakerTransition records one breaker state change.
func (m *RouterMetrics) RecordBreakerTransition(to string) {
	if m == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(to).Inc()
}
