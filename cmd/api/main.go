// Command api runs the dashboard's resilience service: it fronts the
// gamification backend with retry, circuit breaking, and a fallback
// cache, and exposes health, error reporting, security, and metrics
// endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"gamidash/internal/cache"
	"gamidash/internal/config"
	hhttp "gamidash/internal/handler/http"
	"gamidash/internal/handler/http/requestid"
	"gamidash/internal/health"
	"gamidash/internal/observability/logging"
	"gamidash/internal/observability/slo"
	"gamidash/internal/observability/tracing"
	"gamidash/internal/resilience/classify"
	"gamidash/internal/resilience/retry"
	"gamidash/internal/security"
	"gamidash/internal/upstream"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownTracing := tracing.Init(context.Background())
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracer shutdown failed", slog.Any("error", err))
		}
	}()

	components := buildComponents(cfg, logger)
	handler := setupRoutes(cfg, logger, components)

	restoreCacheSnapshot(cfg, logger, components.cache)

	scheduler := startScheduler(cfg, logger, components.guard, components.monitor)
	defer scheduler.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components.monitor.Start(ctx)
	defer components.monitor.Stop()

	runServer(cfg, logger, handler)

	persistCacheSnapshot(cfg, logger, components.cache)
}

// components holds every long-lived instance the handlers share.
type components struct {
	classifier *classify.Classifier
	guard      *security.Guard
	cache      *cache.Cache
	monitor    *health.Monitor
	client     *upstream.Client
}

func buildComponents(cfg config.Config, logger *slog.Logger) *components {
	classifier := classify.NewClassifier()

	guard := security.NewGuard(func(e security.Event) {
		logger.Warn("security event",
			slog.String("identifier", e.Identifier),
			slog.String("reason", e.Reason),
			slog.String("severity", string(e.Severity)))
	}, logger)

	fallbackCache := cache.New(cache.Config{
		MaxSize:     cfg.Cache.MaxSize,
		DefaultTTL:  cfg.CacheDefaultTTL(),
		RetryConfig: retry.CacheRefreshConfig(),
	}, classifier, logger)

	upstreamCfg := upstream.DefaultConfig(cfg.Upstream.BaseURL)
	upstreamCfg.Timeout = cfg.UpstreamTimeout()
	upstreamCfg.RequestsPerSecond = cfg.Upstream.RequestsPerSecond
	upstreamCfg.Burst = cfg.Upstream.Burst
	client := upstream.New(upstreamCfg, classifier, logger)

	monitor := health.New(cfg.HealthSweepInterval(), logger)
	monitor.Register("gamification-backend", client.Probe(cfg.Upstream.HealthPath),
		health.WithTimeout(cfg.HealthProbeTimeout()),
		health.WithRetries(cfg.Health.ProbeRetries))
	monitor.Register("fallback-cache", cacheProbe(fallbackCache, cfg.Cache.MaxSize))

	return &components{
		classifier: classifier,
		guard:      guard,
		cache:      fallbackCache,
		monitor:    monitor,
		client:     client,
	}
}

// cacheProbe reports the fallback cache as degraded when it is full,
// since a full cache evicts on every insert.
func cacheProbe(c *cache.Cache, maxSize int) health.Probe {
	return func(ctx context.Context) health.ProbeResult {
		if c.Len() >= maxSize {
			return health.ProbeResult{
				Status: health.StatusDegraded,
				Err:    fmt.Sprintf("cache at capacity (%d entries)", maxSize),
			}
		}
		return health.ProbeResult{Status: health.StatusHealthy}
	}
}

// setupRoutes builds the route table and middleware chain. Probe and
// scrape endpoints bypass rate limiting so external monitors are never
// throttled; everything else passes through the guard.
func setupRoutes(cfg config.Config, logger *slog.Logger, c *components) http.Handler {
	guarded := http.NewServeMux()
	guarded.Handle("GET /gamification/", &hhttp.ProxyHandler{
		Prefix: "/gamification",
		Fetch: func(ctx context.Context, path string) (any, bool, error) {
			return c.client.GetCached(ctx, c.cache, path, cfg.CacheDefaultTTL())
		},
	})
	guarded.Handle("POST /errors", &hhttp.ReportErrorHandler{Classifier: c.classifier})
	guarded.Handle("GET /errors/metrics", &hhttp.ErrorMetricsHandler{Classifier: c.classifier})
	guarded.Handle("GET /security/blocked", &hhttp.BlockedHandler{Guard: c.guard})
	guarded.Handle("POST /security/block", &hhttp.BlockHandler{Guard: c.guard})

	rateLimited := hhttp.RateLimit(c.guard, cfg.RateLimit.MaxRequests, cfg.RateLimitWindow(), logger)(guarded)

	root := http.NewServeMux()
	root.Handle("GET /healthz", &hhttp.HealthHandler{Monitor: c.monitor})
	root.Handle("GET /livez", &hhttp.LiveHandler{})
	root.Handle("GET /metrics", hhttp.MetricsHandler())
	root.Handle("/", rateLimited)

	chain := hhttp.LimitRequestBody(cfg.Server.MaxBodyBytes)(root)
	chain = hhttp.Instrument(chain)
	chain = hhttp.Recover(logger)(chain)
	chain = hhttp.Logging(logger)(chain)
	chain = tracing.Middleware(chain)
	chain = requestid.Middleware(chain)
	return chain
}

// startScheduler runs the recurring maintenance jobs: the guard's cleanup
// sweep and the SLO gauge refresh derived from the backend's probe history.
func startScheduler(cfg config.Config, logger *slog.Logger, guard *security.Guard, monitor *health.Monitor) *cron.Cron {
	scheduler := cron.New()

	spec := fmt.Sprintf("@every %s", cfg.CleanupInterval())
	if _, err := scheduler.AddFunc(spec, guard.Cleanup); err != nil {
		logger.Error("failed to schedule security cleanup", slog.Any("error", err))
		os.Exit(1)
	}

	if _, err := scheduler.AddFunc("@every 1m", func() {
		m := monitor.Metrics("gamification-backend", time.Hour)
		if m.SampleCount == 0 {
			return
		}
		slo.UpdateAvailability(m.UptimePct / 100)
		slo.UpdateErrorRate(m.ErrorRatePct / 100)
	}); err != nil {
		logger.Error("failed to schedule SLO refresh", slog.Any("error", err))
		os.Exit(1)
	}

	scheduler.Start()
	logger.Info("maintenance jobs scheduled", slog.Duration("cleanup_interval", cfg.CleanupInterval()))
	return scheduler
}

// restoreCacheSnapshot warms the cache from the snapshot file, if configured.
// A missing or corrupt snapshot is not fatal: the cache starts cold.
func restoreCacheSnapshot(cfg config.Config, logger *slog.Logger, c *cache.Cache) {
	if cfg.Cache.SnapshotPath == "" {
		return
	}
	// #nosec G304 -- path comes from the operator's configuration
	data, err := os.ReadFile(cfg.Cache.SnapshotPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("cache snapshot unreadable, starting cold", slog.Any("error", err))
		}
		return
	}
	if err := c.Restore(data); err != nil {
		logger.Warn("cache snapshot corrupt, starting cold", slog.Any("error", err))
		return
	}
	logger.Info("cache restored from snapshot",
		slog.String("path", cfg.Cache.SnapshotPath),
		slog.Int("entries", c.Len()))
}

// persistCacheSnapshot writes the cache contents on shutdown.
func persistCacheSnapshot(cfg config.Config, logger *slog.Logger, c *cache.Cache) {
	if cfg.Cache.SnapshotPath == "" {
		return
	}
	data, err := c.Snapshot()
	if err != nil {
		logger.Error("cache snapshot failed", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(cfg.Cache.SnapshotPath, data, 0o600); err != nil {
		logger.Error("cache snapshot write failed", slog.Any("error", err))
		return
	}
	logger.Info("cache snapshot written",
		slog.String("path", cfg.Cache.SnapshotPath),
		slog.Int("entries", c.Len()))
}

// runServer starts the HTTP server and blocks until SIGINT or SIGTERM,
// then shuts down gracefully.
func runServer(cfg config.Config, logger *slog.Logger, handler http.Handler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second, // Slowloris guard
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
