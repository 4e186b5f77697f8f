// Package circuitbreaker provides circuit breaker protection for external service calls.
// It uses the github.com/sony/gobreaker library to prevent cascading failures.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"gamidash/internal/observability/metrics"
)

// ErrCircuitOpen is returned when a call is rejected because the circuit
// is open (or a concurrent half-open trial is already in flight). The
// wrapped operation is never invoked in that case.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the circuit breaker name for logging and metrics
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the circuit from closed to open
	FailureThreshold uint32

	// ResetTimeout is how long the circuit stays open before permitting
	// a half-open trial call
	ResetTimeout time.Duration

	// OnOpen, if non-nil, is invoked exactly once per transition to the
	// open state. It must not call back into the breaker.
	OnOpen func(name string)

	// OnClose, if non-nil, is invoked exactly once per transition to the
	// closed state. It must not call back into the breaker.
	OnClose func(name string)
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// UpstreamConfig returns configuration optimized for the gamification backend.
func UpstreamConfig() Config {
	return Config{
		Name:             "gamification-upstream",
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker with consecutive-failure
// tripping, transition hooks, and metrics.
//
// State machine: Closed trips to Open after FailureThreshold consecutive
// failures. Open rejects every call without invoking the operation until
// ResetTimeout has elapsed since it opened, then permits exactly one
// half-open trial. A successful trial closes the circuit and resets the
// failure count; a failed trial reopens it with a fresh timeout.
//
// Half-open concurrency policy: a single trial call proceeds; any calls
// arriving while the trial is in flight are rejected with ErrCircuitOpen
// as if the circuit were still open.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string

	mu       sync.Mutex
	openedAt time.Time
}

// New creates a new circuit breaker with the given configuration.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}

	cb := &CircuitBreaker{name: cfg.Name}

	settings := gobreaker.Settings{
		Name: cfg.Name,
		// Exactly one trial call is admitted while half-open; the rest
		// are rejected. See the half-open policy on the type doc.
		MaxRequests: 1,
		// Interval 0 keeps the consecutive-failure count intact for the
		// lifetime of the closed state (successes still reset it).
		Interval: 0,
		Timeout:  cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.RecordCircuitTransition(name, to.String(), stateValue(to))

			switch to {
			case gobreaker.StateOpen:
				cb.mu.Lock()
				cb.openedAt = time.Now()
				cb.mu.Unlock()
				if cfg.OnOpen != nil {
					cfg.OnOpen(name)
				}
			case gobreaker.StateClosed:
				if cfg.OnClose != nil {
					cfg.OnClose(name)
				}
			}
		},
	}

	cb.breaker = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// Execute runs the given function through the circuit breaker.
// If the circuit is open, it returns ErrCircuitOpen immediately without
// invoking fn.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	result, err := cb.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// Call runs fn through the breaker with a typed result.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	result, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

// ConsecutiveFailures returns the current consecutive failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() uint32 {
	return cb.breaker.Counts().ConsecutiveFailures
}

// OpenedAt returns when the circuit last transitioned to open,
// or the zero time if it has never opened.
func (cb *CircuitBreaker) OpenedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openedAt
}

// stateValue maps a gobreaker state to its gauge encoding.
func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
