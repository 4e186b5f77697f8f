// Package classify normalizes raw failures into typed, severity-tagged errors.
// Every failure boundary in the application routes errors through a Classifier
// so that logging, retry decisions, and reporting all see the same taxonomy.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Kind identifies the failure category.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindRemoteService  Kind = "remote_service"
	KindNetwork        Kind = "network"
	KindValidation     Kind = "validation"
	KindConfiguration  Kind = "configuration"
	KindUnknown        Kind = "unknown"
)

// Severity indicates how urgently a classified error needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ClassifiedError is the normalized form of a raw failure.
// Instances are immutable after creation.
type ClassifiedError struct {
	Kind        Kind
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	Details     map[string]any
	Timestamp   time.Time

	cause error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the original error, enabling errors.Is/As through the classification.
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// HTTPError represents an HTTP error with status code from the upstream service.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// profile is the fixed lookup table entry for a failure category.
type profile struct {
	severity    Severity
	retryable   bool
	userMessage string
}

var profiles = map[Kind]profile{
	KindAuthentication: {SeverityHigh, false, "Your session is no longer valid. Please re-authenticate."},
	KindRemoteService:  {SeverityMedium, true, "The remote service is having trouble. Please try again shortly."},
	KindNetwork:        {SeverityMedium, true, "A network problem occurred. Please try again shortly."},
	KindValidation:     {SeverityLow, false, "The request could not be processed. Please check your input."},
	KindConfiguration:  {SeverityHigh, false, "The service is misconfigured. Please contact support."},
	KindUnknown:        {SeverityMedium, false, "Something went wrong. Please try again later."},
}

// Classify maps a raw failure into a ClassifiedError and records it in the
// classifier's bounded history. details is free-form diagnostic metadata
// attached as-is; it may be nil.
func (c *Classifier) Classify(err error, details map[string]any) *ClassifiedError {
	kind := detectKind(err)
	ce := c.build(kind, err.Error(), details)
	ce.cause = err

	// 408/429 and 5xx are retryable; other client errors are not, even
	// when the kind itself defaults to retryable.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && !retryableStatus(httpErr.StatusCode) {
		ce.Retryable = false
	}

	// Context errors mean the caller gave up; retrying would be wasted work.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ce.Retryable = false
	}

	c.record(ce)
	return ce
}

// FromKind builds a ClassifiedError for an already-categorized failure,
// such as a client-submitted error report. Unrecognized kinds fall back
// to KindUnknown.
func (c *Classifier) FromKind(kind Kind, message string, details map[string]any) *ClassifiedError {
	if _, ok := profiles[kind]; !ok {
		kind = KindUnknown
	}
	ce := c.build(kind, message, details)
	c.record(ce)
	return ce
}

func (c *Classifier) build(kind Kind, message string, details map[string]any) *ClassifiedError {
	p := profiles[kind]
	return &ClassifiedError{
		Kind:        kind,
		Message:     message,
		UserMessage: p.userMessage,
		Severity:    p.severity,
		Retryable:   p.retryable,
		Details:     details,
		Timestamp:   c.now(),
	}
}

// detectKind inspects the error chain to determine the failure category.
func detectKind(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	// Context errors are treated as network-level interruptions but are
	// handled separately for retryability below.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return KindAuthentication
		case httpErr.StatusCode == http.StatusBadRequest || httpErr.StatusCode == http.StatusUnprocessableEntity:
			return KindValidation
		default:
			return KindRemoteService
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return KindNetwork
	}

	return KindUnknown
}

// retryableStatus reports whether an HTTP status code is worth retrying.
// 5xx server errors, 429 Too Many Requests, and 408 Request Timeout qualify.
func retryableStatus(code int) bool {
	if code >= 500 && code < 600 {
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// IsRetryable reports whether the error should be retried. Classified errors
// carry an explicit flag; raw errors are judged by their detected kind.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}

	// Context errors are never retryable: the caller gave up.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatus(httpErr.StatusCode)
	}

	kind := detectKind(err)
	return profiles[kind].retryable
}
