// Package retry provides retry logic with exponential backoff and jitter.
// It helps handle transient failures gracefully by automatically retrying failed operations.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"gamidash/internal/observability/metrics"
	"gamidash/internal/resilience/classify"
)

// jitterFactor bounds the random jitter multiplier: the realized delay is in
// [delay, delay*1.3). Jitter only ever extends the delay so the backoff lower
// bound stays intact while retry storms desynchronize.
const jitterFactor = 0.3

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the maximum total number of invocations (first try included)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the multiplier for exponential backoff
	Multiplier float64

	// JitterEnabled adds a random factor in [1.0, 1.3) to each delay
	JitterEnabled bool
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// UpstreamConfig returns configuration optimized for calls to the
// gamification backend. Aggressive retry for transient network issues.
func UpstreamConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// CacheRefreshConfig returns configuration for background cache refreshes.
// Fast and shallow, because a stale value has already been served.
func CacheRefreshConfig() Config {
	return Config{
		MaxAttempts:   2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// Delay computes the un-jittered backoff delay before the given attempt
// (attempt >= 2): min(InitialDelay * Multiplier^(attempt-2), MaxDelay).
func Delay(cfg Config, attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	d := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-2)))
	if d > cfg.MaxDelay || d < 0 {
		d = cfg.MaxDelay
	}
	return d
}

// Do executes fn with retry logic and exponential backoff.
//
// The first attempt runs immediately. Each failure is classified; if the
// error is not retryable or attempts are exhausted, the classified error is
// returned. Otherwise Do sleeps for the backoff delay (with jitter when
// enabled) and tries again. fn is invoked at most cfg.MaxAttempts times.
//
// The operation name is used for logging and metrics only.
func Do[T any](ctx context.Context, cfg Config, classifier *classify.Classifier, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr *classify.ClassifiedError

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			metrics.RecordRetryAttempt(operation, "success")
			if attempt > 1 {
				slog.Info("operation succeeded after retry",
					slog.String("operation", operation),
					slog.Int("attempt", attempt))
			}
			return result, nil
		}

		lastErr = classifier.Classify(err, map[string]any{
			"operation": operation,
			"attempt":   attempt,
		})

		if !lastErr.Retryable {
			metrics.RecordRetryAttempt(operation, "aborted")
			slog.Warn("non-retryable error, aborting",
				slog.String("operation", operation),
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr))
			return zero, lastErr
		}

		metrics.RecordRetryAttempt(operation, "failure")

		// Don't wait after the last attempt.
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := Delay(cfg, attempt+1)
		if cfg.JitterEnabled {
			delay = addJitter(delay)
		}

		slog.Warn("operation failed, retrying",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))

		select {
		case <-time.After(delay):
			// Continue to next attempt
		case <-ctx.Done():
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// addJitter multiplies the delay by a uniform random factor in [1.0, 1.3).
// Jitter never reduces the delay.
func addJitter(d time.Duration) time.Duration {
	// #nosec G404 -- math/rand is acceptable for jitter calculation.
	// Cryptographic randomness is not required for retry backoff jitter.
	return d + time.Duration(rand.Float64()*jitterFactor*float64(d))
}
