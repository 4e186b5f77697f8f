package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gamidash/internal/resilience/classify"
	"gamidash/internal/resilience/retry"
)

func newTestCache(maxSize int) *Cache {
	return New(Config{
		MaxSize:    maxSize,
		DefaultTTL: time.Minute,
		RetryConfig: retry.Config{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	}, classify.NewClassifier(), nil)
}

func TestGetWithFallback_FreshHitSkipsOperation(t *testing.T) {
	c := newTestCache(10)
	c.Set("scores", "cached", time.Minute)

	invoked := false
	value, stale, err := c.GetWithFallback(context.Background(), func(ctx context.Context) (any, error) {
		invoked = true
		return "live", nil
	}, Options{Key: "scores"})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if invoked {
		t.Error("operation must not run on a fresh hit")
	}
	if value != "cached" || stale {
		t.Errorf("expected fresh cached value, got value=%v stale=%v", value, stale)
	}
}

func TestGetWithFallback_MissInvokesAndCaches(t *testing.T) {
	c := newTestCache(10)

	value, stale, err := c.GetWithFallback(context.Background(), func(ctx context.Context) (any, error) {
		return "live", nil
	}, Options{Key: "scores"})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if value != "live" || stale {
		t.Errorf("expected live value, got value=%v stale=%v", value, stale)
	}
	if got, ok := c.Get("scores"); !ok || got != "live" {
		t.Errorf("expected result to be cached, got %v ok=%v", got, ok)
	}
}

func TestTTLBoundary(t *testing.T) {
	c := newTestCache(10)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", "v", time.Second)

	// t = 999ms: still fresh.
	c.now = func() time.Time { return base.Add(999 * time.Millisecond) }
	if _, ok := c.Get("k"); !ok {
		t.Error("entry must be fresh at t=999ms for ttl=1000ms")
	}

	// t = 1001ms: expired.
	c.now = func() time.Time { return base.Add(1001 * time.Millisecond) }
	if _, ok := c.Get("k"); ok {
		t.Error("entry must be expired at t=1001ms for ttl=1000ms")
	}
}

func TestGetWithFallback_ConfiguredFallback(t *testing.T) {
	c := newTestCache(10)

	value, stale, err := c.GetWithFallback(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream down")
	}, Options{Key: "scores", Fallback: "default", HasFallback: true})

	if err != nil {
		t.Fatalf("expected fallback instead of error, got %v", err)
	}
	if value != "default" {
		t.Errorf("expected fallback value, got %v", value)
	}
	if !stale {
		t.Error("fallback data must be flagged stale")
	}
}

func TestGetWithFallback_EmergencyFallbackBeatsFailure(t *testing.T) {
	c := newTestCache(10)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("scores", "old", time.Second)

	// Entry is long expired and the live call fails; the expired value
	// is still preferred over the error.
	c.now = func() time.Time { return base.Add(time.Hour) }
	value, stale, err := c.GetWithFallback(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream down")
	}, Options{Key: "scores"})

	if err != nil {
		t.Fatalf("expected emergency fallback, got error %v", err)
	}
	if value != "old" {
		t.Errorf("expected expired value, got %v", value)
	}
	if !stale {
		t.Error("emergency fallback must be flagged stale")
	}
}

func TestGetWithFallback_NoFallbackPropagatesClassifiedError(t *testing.T) {
	c := newTestCache(10)

	_, _, err := c.GetWithFallback(context.Background(), func(ctx context.Context) (any, error) {
		return nil, &classify.HTTPError{StatusCode: 401}
	}, Options{Key: "scores"})

	var ce *classify.ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a classified error, got %v", err)
	}
	if ce.Kind != classify.KindAuthentication {
		t.Errorf("expected kind=authentication, got %s", ce.Kind)
	}
}

func TestGetWithFallback_StaleWhileRevalidate(t *testing.T) {
	c := newTestCache(10)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("scores", "old", time.Second)
	c.now = func() time.Time { return base.Add(2 * time.Second) }

	refreshed := make(chan struct{})
	value, stale, err := c.GetWithFallback(context.Background(), func(ctx context.Context) (any, error) {
		defer close(refreshed)
		return "new", nil
	}, Options{Key: "scores", StaleWhileRevalidate: true})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if value != "old" || !stale {
		t.Errorf("expected immediate stale value, got value=%v stale=%v", value, stale)
	}

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("background refresh never ran")
	}

	// Wait for the refreshed entry to land.
	deadline := time.Now().Add(time.Second)
	for {
		if got, ok := c.Get("scores"); ok && got == "new" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cache was not refreshed with the new value")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetWithFallback_RefreshFailureSwallowed(t *testing.T) {
	c := newTestCache(10)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("scores", "old", time.Second)
	c.now = func() time.Time { return base.Add(2 * time.Second) }

	attempted := make(chan struct{})
	value, stale, err := c.GetWithFallback(context.Background(), func(ctx context.Context) (any, error) {
		defer close(attempted)
		return nil, errors.New("refresh failed")
	}, Options{Key: "scores", StaleWhileRevalidate: true})

	if err != nil {
		t.Fatalf("refresh failure must not surface to the caller, got %v", err)
	}
	if value != "old" || !stale {
		t.Errorf("expected stale value, got value=%v stale=%v", value, stale)
	}

	select {
	case <-attempted:
	case <-time.After(time.Second):
		t.Fatal("background refresh never ran")
	}
}

func TestFIFOEviction(t *testing.T) {
	c := newTestCache(3)
	base := time.Now()

	for i := 0; i < 3; i++ {
		c.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		c.Set(fmt.Sprintf("k%d", i), i, time.Hour)
	}

	// k3 overflows the cache; k0 (oldest written) must go.
	c.now = func() time.Time { return base.Add(10 * time.Second) }
	c.Set("k3", 3, time.Hour)

	if c.Len() != 3 {
		t.Fatalf("expected 3 entries after eviction, got %d", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("expected oldest-inserted entry k0 to be evicted")
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("expected %s to survive eviction", key)
		}
	}
}

func TestFIFOEviction_NotAccessRecency(t *testing.T) {
	c := newTestCache(2)
	base := time.Now()

	c.now = func() time.Time { return base }
	c.Set("first", 1, time.Hour)
	c.now = func() time.Time { return base.Add(time.Second) }
	c.Set("second", 2, time.Hour)

	// Access the oldest entry; FIFO ignores access order.
	if _, ok := c.Get("first"); !ok {
		t.Fatal("setup: first should be present")
	}

	c.now = func() time.Time { return base.Add(2 * time.Second) }
	c.Set("third", 3, time.Hour)

	if _, ok := c.Get("first"); ok {
		t.Error("FIFO eviction must remove the oldest-inserted entry even if recently accessed")
	}
	if _, ok := c.Get("second"); !ok {
		t.Error("second should survive")
	}
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := newTestCache(2)
	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)

	c.Set("a", 10, time.Hour)

	if c.Len() != 2 {
		t.Errorf("overwriting an existing key must not evict, len=%d", c.Len())
	}
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("expected overwritten value 10, got %v", v)
	}
}

func TestGetBatch_IndependentResults(t *testing.T) {
	c := newTestCache(10)
	c.Set("cached", "hit", time.Minute)

	items := []BatchItem{
		{
			Op:      func(ctx context.Context) (any, error) { return nil, errors.New("nope") },
			Options: Options{Key: "cached"},
		},
		{
			Op:      func(ctx context.Context) (any, error) { return "fresh", nil },
			Options: Options{Key: "miss"},
		},
		{
			Op:      func(ctx context.Context) (any, error) { return nil, errors.New("down") },
			Options: Options{Key: "failing"},
		},
		{
			Op:      func(ctx context.Context) (any, error) { return nil, errors.New("down") },
			Options: Options{Key: "fb", Fallback: "plan-b", HasFallback: true},
		},
	}

	results := c.GetBatch(context.Background(), items)

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[0].Value != "hit" || results[0].Err != nil {
		t.Errorf("cached item: got %+v", results[0])
	}
	if results[1].Value != "fresh" || results[1].Err != nil {
		t.Errorf("miss item: got %+v", results[1])
	}
	if results[2].Err == nil {
		t.Error("failing item with no fallback must report its error")
	}
	if results[3].Value != "plan-b" || results[3].Err != nil {
		t.Errorf("fallback item: got %+v", results[3])
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(100)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%5)
			for j := 0; j < 50; j++ {
				_, _, _ = c.GetWithFallback(context.Background(), func(ctx context.Context) (any, error) {
					return n, nil
				}, Options{Key: key})
			}
		}(i)
	}
	wg.Wait()
}
