package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gamidash/internal/cache"
	"gamidash/internal/health"
	"gamidash/internal/resilience/circuitbreaker"
	"gamidash/internal/resilience/classify"
	"gamidash/internal/resilience/retry"
)

func testConfig(baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.Retry = retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	cfg.Breaker = circuitbreaker.Config{
		Name:             "test-upstream",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}
	return cfg
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(testConfig(srv.URL), classify.NewClassifier(), nil), srv
}

func TestGetJSON_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/points" {
			t.Errorf("path = %q, want /api/points", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"userId":"u-1","points":420}`))
	})

	var out struct {
		UserID string `json:"userId"`
		Points int    `json:"points"`
	}
	if err := c.GetJSON(context.Background(), "/api/points", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.UserID != "u-1" || out.Points != 420 {
		t.Errorf("decoded %+v", out)
	}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	var out map[string]bool
	if err := c.GetJSON(context.Background(), "/api/points", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend called %d times, want 3", got)
	}
}

func TestGetJSON_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such user", http.StatusNotFound)
	})

	var out map[string]any
	err := c.GetJSON(context.Background(), "/api/points", &out)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend called %d times, want 1 (404 is not retryable)", got)
	}

	var ce *classify.ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not classified", err)
	}
	if ce.Retryable {
		t.Error("404 must classify as non-retryable")
	}
}

func TestGetJSON_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	var out map[string]any
	for i := 0; i < 3; i++ {
		if err := c.GetJSON(context.Background(), "/api/points", &out); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	if c.CircuitState() != "open" {
		t.Fatalf("CircuitState = %q, want open", c.CircuitState())
	}

	before := calls.Load()
	err := c.GetJSON(context.Background(), "/api/points", &out)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != before {
		t.Error("open circuit must not reach the backend")
	}
}

func TestGetJSON_DecodeFailureIsClassified(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	var out map[string]any
	err := c.GetJSON(context.Background(), "/api/points", &out)
	var ce *classify.ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not classified", err)
	}
}

func TestGetCached_ServesStaleWhenBackendFails(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"points":7}`))
	})

	fc := cache.New(cache.Config{MaxSize: 10, DefaultTTL: time.Millisecond}, classify.NewClassifier(), nil)

	v, stale, err := c.GetCached(context.Background(), fc, "/api/points", time.Millisecond)
	if err != nil || stale {
		t.Fatalf("warm fetch: value=%v stale=%v err=%v", v, stale, err)
	}

	healthy.Store(false)
	time.Sleep(5 * time.Millisecond) // let the entry expire

	v, stale, err = c.GetCached(context.Background(), fc, "/api/points", time.Millisecond)
	if err != nil {
		t.Fatalf("stale fetch: %v", err)
	}
	if !stale {
		t.Error("expected the expired entry to be served stale")
	}
	if m, ok := v.(map[string]any); !ok || m["points"] != float64(7) {
		t.Errorf("stale value = %v", v)
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   health.Status
	}{
		{"healthy", http.StatusOK, health.StatusHealthy},
		{"unavailable", http.StatusServiceUnavailable, health.StatusUnhealthy},
		{"unexpected", http.StatusTeapot, health.StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			res := c.Probe("/health")(context.Background())
			if res.Status != tt.want {
				t.Errorf("Status = %v, want %v", res.Status, tt.want)
			}
		})
	}
}

func TestProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := New(testConfig(srv.URL), classify.NewClassifier(), nil)
	srv.Close()

	res := c.Probe("/health")(context.Background())
	if res.Status != health.StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", res.Status)
	}
	if res.Err == "" {
		t.Error("expected a probe error")
	}
}
