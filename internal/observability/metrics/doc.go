// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics including:
//   - HTTP request metrics (duration, count)
//   - Resilience metrics (retries, circuit breaker state, fallback cache)
//   - Health probe metrics
//   - Security metrics (rate limiting, blocks, suspicious activity)
//
// All metrics are automatically registered with the Prometheus default registry
// and exposed via the /metrics endpoint.
package metrics
