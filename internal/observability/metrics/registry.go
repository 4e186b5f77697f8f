// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track HTTP request patterns and performance
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Resilience metrics track retry, circuit breaker, and fallback cache behavior
var (
	// RetryAttemptsTotal counts retry attempts by operation and outcome
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// CircuitState tracks the current circuit breaker state per circuit
	// (0 = closed, 1 = half-open, 2 = open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"circuit"},
	)

	// CircuitTransitionsTotal counts circuit breaker state transitions
	CircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"circuit", "to"},
	)

	// CacheRequestsTotal counts fallback cache lookups by result
	// (hit, stale, miss, fallback, emergency)
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_cache_requests_total",
			Help: "Total fallback cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEvictionsTotal counts FIFO evictions from the fallback cache
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fallback_cache_evictions_total",
			Help: "Total number of entries evicted from the fallback cache",
		},
	)

	// CacheSize tracks the current number of entries in the fallback cache
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fallback_cache_entries",
			Help: "Current number of entries in the fallback cache",
		},
	)
)

// Health metrics track registered service probes
var (
	// ServiceHealthStatus tracks the latest probe status per service
	// (0 = healthy, 1 = degraded, 2 = unhealthy)
	ServiceHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "service_health_status",
			Help: "Latest health status per service (0=healthy, 1=degraded, 2=unhealthy)",
		},
		[]string{"service"},
	)

	// HealthProbeDuration measures health probe duration in seconds
	HealthProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "health_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 11),
		},
		[]string{"service"},
	)
)

// Security metrics track rate limiting and abuse detection
var (
	// RateLimitDecisionsTotal counts inbound rate limit decisions by status
	// (allowed, denied, blocked)
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Total rate limit decisions by status",
		},
		[]string{"status"},
	)

	// ActiveBlocks tracks the current number of blocked identifiers
	ActiveBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "security_active_blocks",
			Help: "Current number of blocked identifiers",
		},
	)

	// SuspiciousActivityTotal counts identifiers flagged as suspicious
	SuspiciousActivityTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_suspicious_activity_total",
			Help: "Total number of suspicious activity flags",
		},
	)

	// ErrorsClassifiedTotal counts classified errors by kind and severity
	ErrorsClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_classified_total",
			Help: "Total classified errors by kind and severity",
		},
		[]string{"kind", "severity"},
	)
)
