package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"gamidash/internal/handler/http/respond"
	"gamidash/internal/resilience/classify"
)

// defaultMetricsWindow is used when ?window_ms= is absent.
const defaultMetricsWindow = time.Hour

// ErrorReport is the body of POST /errors: a failure observed by the
// frontend, submitted for classification and aggregation.
type ErrorReport struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorReportResponse acknowledges a recorded report.
type ErrorReportResponse struct {
	ErrorID   string `json:"errorId"`
	Timestamp string `json:"timestamp"`
}

// ReportErrorHandler accepts client-side error reports. Each report is
// classified under its declared kind (unrecognized kinds become unknown)
// and lands in the same bounded history as server-side failures.
type ReportErrorHandler struct {
	Classifier *classify.Classifier
}

func (h *ReportErrorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var report ErrorReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if report.Message == "" {
		respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}

	details := report.Details
	if len(report.Context) > 0 {
		if details == nil {
			details = make(map[string]any, len(report.Context)+1)
		}
		details["context"] = report.Context
	}

	ce := h.Classifier.FromKind(classify.Kind(report.Kind), report.Message, details)

	respond.JSON(w, http.StatusOK, ErrorReportResponse{
		ErrorID:   uuid.New().String(),
		Timestamp: ce.Timestamp.UTC().Format(time.RFC3339),
	})
}

// ErrorMetricsResponse is the body of GET /errors/metrics.
type ErrorMetricsResponse struct {
	TotalErrors      int               `json:"totalErrors"`
	ErrorsByKind     map[string]int    `json:"errorsByKind"`
	ErrorsBySeverity map[string]int    `json:"errorsBySeverity"`
	RecentErrors     []RecentErrorItem `json:"recentErrors"`
	ErrorRate        float64           `json:"errorRate"`
}

// RecentErrorItem is one history entry in the metrics response.
type RecentErrorItem struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Retryable bool   `json:"retryable"`
	Timestamp string `json:"timestamp"`
}

// ErrorMetricsHandler reports windowed error statistics from the
// classifier history. The window defaults to one hour and can be set
// with ?window_ms=.
type ErrorMetricsHandler struct {
	Classifier *classify.Classifier
}

func (h *ErrorMetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	window := defaultMetricsWindow
	if raw := r.URL.Query().Get("window_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("invalid window_ms: must be a positive integer"))
			return
		}
		window = time.Duration(ms) * time.Millisecond
	}

	stats := h.Classifier.Stats(window)
	recent := h.Classifier.Recent(window)

	byKind := make(map[string]int, len(stats.ByKind))
	for k, n := range stats.ByKind {
		byKind[string(k)] = n
	}
	bySeverity := make(map[string]int, len(stats.BySeverity))
	for s, n := range stats.BySeverity {
		bySeverity[string(s)] = n
	}

	items := make([]RecentErrorItem, 0, len(recent))
	for _, ce := range recent {
		items = append(items, RecentErrorItem{
			Kind:      string(ce.Kind),
			Message:   ce.Message,
			Severity:  string(ce.Severity),
			Retryable: ce.Retryable,
			Timestamp: ce.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	respond.JSON(w, http.StatusOK, ErrorMetricsResponse{
		TotalErrors:      stats.Total,
		ErrorsByKind:     byKind,
		ErrorsBySeverity: bySeverity,
		RecentErrors:     items,
		ErrorRate:        stats.Rate,
	})
}
