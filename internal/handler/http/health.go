// Package http provides the dashboard's HTTP handlers and middleware:
// health and liveness endpoints, error reporting, security administration,
// Prometheus metrics, and the rate limiting middleware in front of it all.
package http

import (
	"context"
	"net/http"
	"time"

	"gamidash/internal/handler/http/respond"
	"gamidash/internal/health"
)

// healthCheckTimeout bounds a full probe sweep triggered by the endpoint.
const healthCheckTimeout = 10 * time.Second

// ServiceStatus is one service's entry in the health response.
type ServiceStatus struct {
	Service        string `json:"service"`
	Status         string `json:"status"`
	ResponseTimeMs *int64 `json:"responseTimeMs,omitempty"`
	Error          string `json:"error,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Overall       string          `json:"overall"`
	Services      []ServiceStatus `json:"services"`
	Timestamp     string          `json:"timestamp"`
	UptimeSeconds int64           `json:"uptimeSeconds"`
}

// HealthHandler runs a probe sweep and reports aggregate service health.
// Degraded still answers 200: the system is operational, just impaired.
// Only an unhealthy aggregate returns 503.
type HealthHandler struct {
	Monitor *health.Monitor
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	report := h.Monitor.CheckAll(ctx)

	services := make([]ServiceStatus, 0, len(report.Results))
	for _, res := range report.Results {
		s := ServiceStatus{
			Service:   res.Service,
			Status:    string(res.Status),
			Error:     res.Err,
			Timestamp: res.ObservedAt.UTC().Format(time.RFC3339),
		}
		if res.ResponseTime != nil {
			ms := res.ResponseTime.Milliseconds()
			s.ResponseTimeMs = &ms
		}
		services = append(services, s)
	}

	code := http.StatusOK
	if report.Overall == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.JSON(w, code, HealthResponse{
		Overall:       string(report.Overall),
		Services:      services,
		Timestamp:     report.Timestamp.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(report.Uptime.Seconds()),
	})
}

// LiveHandler answers liveness probes. Status code only, no body: the
// process responding at all is the signal.
type LiveHandler struct{}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
