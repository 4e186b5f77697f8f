package metrics

import (
	"time"
)

// RecordRetryAttempt records a single retry attempt outcome.
// Outcome should be "success", "failure", or "aborted".
func RecordRetryAttempt(operation, outcome string) {
	RetryAttemptsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordCircuitTransition records a circuit breaker state transition and
// updates the state gauge.
func RecordCircuitTransition(circuit, to string, stateValue float64) {
	CircuitTransitionsTotal.WithLabelValues(circuit, to).Inc()
	CircuitState.WithLabelValues(circuit).Set(stateValue)
}

// RecordCacheResult records the outcome of a fallback cache lookup.
// Result should be one of "hit", "stale", "miss", "fallback", "emergency".
func RecordCacheResult(result string) {
	CacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordHealthProbe records a completed health probe.
// StatusValue follows the ServiceHealthStatus encoding.
func RecordHealthProbe(service string, statusValue float64, duration time.Duration) {
	ServiceHealthStatus.WithLabelValues(service).Set(statusValue)
	HealthProbeDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordRateLimitDecision records an inbound rate limit decision.
func RecordRateLimitDecision(status string) {
	RateLimitDecisionsTotal.WithLabelValues(status).Inc()
}

// RecordClassifiedError records a classified error by kind and severity.
func RecordClassifiedError(kind, severity string) {
	ErrorsClassifiedTotal.WithLabelValues(kind, severity).Inc()
}
