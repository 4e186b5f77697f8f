// Package upstream provides the HTTP client for the gamification backend.
// Every call runs inside the full resilience stack: a token bucket pacer,
// the circuit breaker, and retry with exponential backoff. Failures come
// back classified so callers and the fallback cache can act on them.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gamidash/internal/cache"
	"gamidash/internal/health"
	"gamidash/internal/resilience/circuitbreaker"
	"gamidash/internal/resilience/classify"
	"gamidash/internal/resilience/retry"
)

// maxErrorBodyBytes caps how much of an error response body ends up in
// error messages and logs.
const maxErrorBodyBytes = 512

// Config controls the upstream client.
type Config struct {
	// BaseURL is the backend root, without a trailing slash.
	BaseURL string

	// Timeout applies per HTTP request.
	Timeout time.Duration

	// RequestsPerSecond and Burst parameterize the outbound token bucket.
	RequestsPerSecond float64
	Burst             int

	Retry   retry.Config
	Breaker circuitbreaker.Config
}

// DefaultConfig returns the production settings for the given backend URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           strings.TrimRight(baseURL, "/"),
		Timeout:           10 * time.Second,
		RequestsPerSecond: 20,
		Burst:             40,
		Retry:             retry.UpstreamConfig(),
		Breaker:           circuitbreaker.UpstreamConfig(),
	}
}

// Client calls the gamification backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pacer      *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
	classifier *classify.Classifier
	logger     *slog.Logger
}

// New creates a Client. The classifier records every failed call; logger
// may be nil.
func New(cfg Config, classifier *classify.Classifier, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pacer:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:    circuitbreaker.New(cfg.Breaker),
		retryCfg:   cfg.Retry,
		classifier: classifier,
		logger:     logger,
	}
}

// GetJSON fetches path from the backend and decodes the response into out.
//
// The call waits for a pacer token, then goes through the breaker; each
// admitted call retries transient failures per the retry config. A single
// breaker trial counts once regardless of how many retry attempts it
// spent, so an open circuit stays the outermost guard.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}

	body, err := circuitbreaker.Call(c.breaker, func() ([]byte, error) {
		return retry.Do(ctx, c.retryCfg, c.classifier, "upstream "+path, func(ctx context.Context) ([]byte, error) {
			return c.doRequest(ctx, path)
		})
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return c.classifier.Classify(fmt.Errorf("decode %s response: %w", path, err), map[string]any{
			"path": path,
		})
	}
	return nil
}

// doRequest performs one HTTP GET. Non-2xx statuses become HTTPError so
// the classifier can map them onto the error taxonomy.
func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return body, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil, &classify.HTTPError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("%s %s: %s", http.MethodGet, path, strings.TrimSpace(string(snippet))),
	}
}

// GetCached fetches path through the fallback cache. A fresh entry skips
// the network entirely; when the backend fails, an expired entry is served
// stale rather than propagating the error. The second return reports
// whether the value is stale.
func (c *Client) GetCached(ctx context.Context, fc *cache.Cache, path string, ttl time.Duration) (any, bool, error) {
	return fc.GetWithFallback(ctx, func(ctx context.Context) (any, error) {
		var out any
		if err := c.GetJSON(ctx, path, &out); err != nil {
			return nil, err
		}
		return out, nil
	}, cache.Options{
		Key:                  "upstream:" + path,
		TTL:                  ttl,
		StaleWhileRevalidate: true,
	})
}

// CircuitState exposes the breaker state for the health endpoint.
func (c *Client) CircuitState() string {
	return c.breaker.State().String()
}

// Probe checks backend reachability for the health monitor. It bypasses
// retry and the breaker: the monitor has its own retry policy, and probe
// failures must not consume breaker budget.
func (c *Client) Probe(healthPath string) health.Probe {
	return func(ctx context.Context) health.ProbeResult {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
		if err != nil {
			return health.ProbeResult{Status: health.StatusUnhealthy, Err: err.Error()}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return health.ProbeResult{Status: health.StatusUnhealthy, Err: err.Error()}
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return health.ProbeResult{Status: health.StatusHealthy}
		case resp.StatusCode == http.StatusServiceUnavailable:
			return health.ProbeResult{
				Status: health.StatusUnhealthy,
				Err:    fmt.Sprintf("backend reported unavailable (status %d)", resp.StatusCode),
			}
		default:
			return health.ProbeResult{
				Status: health.StatusDegraded,
				Err:    fmt.Sprintf("unexpected probe status %d", resp.StatusCode),
			}
		}
	}
}
