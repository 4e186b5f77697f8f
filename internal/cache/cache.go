// Package cache provides a bounded, TTL-based fallback cache for outbound calls.
//
// The cache is the last line of defense in the resilience chain: when the
// live operation fails, it serves previously cached data (flagged as stale
// when expired) or configured fallback data instead of propagating the
// failure. Eviction is FIFO: when the cache is over capacity, the entry with
// the oldest write time is removed. This is deliberately not LRU; access
// order has no effect on eviction.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gamidash/internal/observability/metrics"
	"gamidash/internal/resilience/classify"
	"gamidash/internal/resilience/retry"
)

// Entry is a single cached value with its write time and lifetime.
type Entry struct {
	Value     any
	WrittenAt time.Time
	TTL       time.Duration
}

// expired reports whether the entry is past its TTL at the given instant.
// An entry is expired strictly after WrittenAt+TTL, never at the boundary.
func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.WrittenAt) > e.TTL
}

// Operation is the unit of work the cache wraps: typically an outbound call
// to the gamification backend.
type Operation func(ctx context.Context) (any, error)

// Options controls a single GetWithFallback call.
type Options struct {
	// Key identifies the cache slot.
	Key string

	// TTL is the entry lifetime; the cache default applies when zero.
	TTL time.Duration

	// Fallback is returned when the live operation fails and no cached
	// value exists. Only consulted when HasFallback is true, so that a
	// nil fallback value is still usable.
	Fallback    any
	HasFallback bool

	// StaleWhileRevalidate serves an expired entry immediately and
	// refreshes it in the background. Refresh failures are logged and
	// swallowed.
	StaleWhileRevalidate bool

	// RetryOnError runs the operation through the retry executor.
	RetryOnError bool
}

// Config holds construction parameters for a Cache.
type Config struct {
	// MaxSize bounds the entry count; FIFO eviction applies beyond it.
	MaxSize int

	// DefaultTTL applies when Options.TTL is zero.
	DefaultTTL time.Duration

	// RetryConfig is used when Options.RetryOnError is set.
	RetryConfig retry.Config
}

// DefaultConfig returns cache defaults suitable for dashboard data.
func DefaultConfig() Config {
	return Config{
		MaxSize:     1000,
		DefaultTTL:  5 * time.Minute,
		RetryConfig: retry.CacheRefreshConfig(),
	}
}

// Cache is a bounded key/value store with stale-while-revalidate and
// fallback semantics. It is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	refreshing map[string]bool

	maxSize    int
	defaultTTL time.Duration
	retryCfg   retry.Config
	classifier *classify.Classifier
	logger     *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// New creates a Cache. The classifier normalizes live-operation failures;
// the logger records swallowed refresh errors.
func New(cfg Config, classifier *classify.Classifier, logger *slog.Logger) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries:    make(map[string]*Entry),
		refreshing: make(map[string]bool),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		retryCfg:   cfg.RetryConfig,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// GetWithFallback returns the value for opts.Key, invoking op as needed.
//
// Resolution order:
//  1. A fresh cached entry is returned without invoking op.
//  2. A stale entry with StaleWhileRevalidate set is returned immediately
//     (stale=true) while op refreshes the entry in the background.
//  3. Otherwise op runs (through the retry executor when RetryOnError is
//     set). Success writes the entry. Failure returns Fallback when
//     configured, else the last known value even if expired (stale=true),
//     else the classified error.
func (c *Cache) GetWithFallback(ctx context.Context, op Operation, opts Options) (any, bool, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	entry, ok := c.entries[opts.Key]
	now := c.now()

	if ok && !entry.expired(now) {
		value := entry.Value
		c.mu.Unlock()
		metrics.RecordCacheResult("hit")
		return value, false, nil
	}

	if ok && opts.StaleWhileRevalidate {
		value := entry.Value
		shouldRefresh := !c.refreshing[opts.Key]
		if shouldRefresh {
			c.refreshing[opts.Key] = true
		}
		c.mu.Unlock()

		if shouldRefresh {
			go c.refresh(context.WithoutCancel(ctx), op, opts.Key, ttl, opts.RetryOnError)
		}
		metrics.RecordCacheResult("stale")
		return value, true, nil
	}
	c.mu.Unlock()

	metrics.RecordCacheResult("miss")
	value, err := c.invoke(ctx, op, opts)
	if err == nil {
		c.set(opts.Key, value, ttl)
		return value, false, nil
	}

	if opts.HasFallback {
		metrics.RecordCacheResult("fallback")
		c.logger.Warn("serving configured fallback after operation failure",
			slog.String("key", opts.Key),
			slog.Any("error", err))
		return opts.Fallback, true, nil
	}

	// Emergency fallback: an expired entry beats propagating the failure.
	c.mu.Lock()
	entry, ok = c.entries[opts.Key]
	c.mu.Unlock()
	if ok {
		metrics.RecordCacheResult("emergency")
		c.logger.Warn("serving expired entry after operation failure",
			slog.String("key", opts.Key),
			slog.Any("error", err))
		return entry.Value, true, nil
	}

	return nil, false, err
}

// invoke runs the operation, optionally through the retry executor, and
// guarantees the returned error is classified.
func (c *Cache) invoke(ctx context.Context, op Operation, opts Options) (any, error) {
	if opts.RetryOnError {
		return retry.Do(ctx, c.retryCfg, c.classifier, "cache:"+opts.Key, op)
	}

	value, err := op(ctx)
	if err != nil {
		return nil, c.classifier.Classify(err, map[string]any{"cache_key": opts.Key})
	}
	return value, nil
}

// refresh re-runs the operation in the background and replaces the entry on
// success. Failures are swallowed: the caller already has a stale value.
func (c *Cache) refresh(ctx context.Context, op Operation, key string, ttl time.Duration, retryOnError bool) {
	defer func() {
		c.mu.Lock()
		delete(c.refreshing, key)
		c.mu.Unlock()
	}()

	value, err := c.invoke(ctx, op, Options{Key: key, RetryOnError: retryOnError})
	if err != nil {
		c.logger.Warn("background cache refresh failed",
			slog.String("key", key),
			slog.Any("error", err))
		return
	}

	c.set(key, value, ttl)
	c.logger.Debug("background cache refresh completed", slog.String("key", key))
}

// Set writes a value directly, bypassing any operation.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.set(key, value, ttl)
}

func (c *Cache) set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict-then-insert is a single critical section.
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &Entry{
		Value:     value,
		WrittenAt: c.now(),
		TTL:       ttl,
	}
	metrics.CacheSize.Set(float64(len(c.entries)))
}

// evictOldest removes the entry with the smallest WrittenAt (FIFO).
// Caller must hold the lock.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.WrittenAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.WrittenAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		metrics.CacheEvictionsTotal.Inc()
	}
}

// Get returns the entry for key if present and fresh. The second return
// distinguishes a fresh hit from absence or expiry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.expired(c.now()) {
		return nil, false
	}
	return entry.Value, true
}

// Delete removes the entry for key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	metrics.CacheSize.Set(float64(len(c.entries)))
}

// Len returns the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
