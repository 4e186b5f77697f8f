// Package health provides a registry of named health-check probes with
// per-service history, derived metrics, and continuous monitoring.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gamidash/internal/observability/metrics"
)

// Status is the health state of a service or of the system as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Default probe parameters, overridable per probe via options.
const (
	DefaultTimeout  = 5 * time.Second
	DefaultRetries  = 2
	DefaultInterval = 30 * time.Second

	// historySize bounds the per-service check history.
	historySize = 100
)

// ProbeResult is what a probe reports about its service.
type ProbeResult struct {
	Status Status
	Err    string
}

// Probe checks one service. The context carries the probe timeout; probes
// should honor cancellation, but the monitor does not depend on it (see
// CheckService).
type Probe func(ctx context.Context) ProbeResult

// CheckResult is one recorded probe outcome.
type CheckResult struct {
	Service string
	Status  Status

	// ResponseTime is set when the probe completed (any status);
	// it is nil for timeouts.
	ResponseTime *time.Duration

	Err        string
	ObservedAt time.Time
}

// ServiceMetrics summarizes a service's history over a time window.
type ServiceMetrics struct {
	// UptimePct is the fraction of healthy samples, in percent.
	UptimePct float64

	// AvgResponseTime averages over samples that recorded a response time.
	AvgResponseTime time.Duration

	// ErrorRatePct is the fraction of non-healthy samples, in percent.
	ErrorRatePct float64

	SampleCount int
}

// Report is the outcome of a full sweep across all registered probes.
type Report struct {
	Overall   Status
	Results   []CheckResult
	Timestamp time.Time
	Uptime    time.Duration
}

type registration struct {
	probe   Probe
	timeout time.Duration
	retries int
}

// ProbeOption customizes a single probe registration.
type ProbeOption func(*registration)

// WithTimeout overrides the default probe timeout.
func WithTimeout(d time.Duration) ProbeOption {
	return func(r *registration) { r.timeout = d }
}

// WithRetries overrides the default retry count (additional attempts
// after the first failure).
func WithRetries(n int) ProbeOption {
	return func(r *registration) { r.retries = n }
}

// Monitor keeps a registry of named probes and a bounded history of their
// results. It is safe for concurrent use.
type Monitor struct {
	mu      sync.Mutex
	probes  map[string]*registration
	history map[string][]CheckResult

	interval  time.Duration
	startedAt time.Time
	logger    *slog.Logger

	// continuous monitoring state
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// overridable for tests
	now        func() time.Time
	retryDelay func(attempt int) time.Duration
}

// New creates a Monitor. A non-positive interval falls back to the default.
func New(interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probes:    make(map[string]*registration),
		history:   make(map[string][]CheckResult),
		interval:  interval,
		startedAt: time.Now(),
		logger:    logger,
		now:       time.Now,
		// Linearly increasing delay between retry attempts.
		retryDelay: func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}
}

// Register adds or replaces a probe under the given service name.
func (m *Monitor) Register(name string, probe Probe, opts ...ProbeOption) {
	reg := &registration{
		probe:   probe,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
	}
	for _, opt := range opts {
		opt(reg)
	}

	m.mu.Lock()
	m.probes[name] = reg
	m.mu.Unlock()
}

// Services returns the registered service names, sorted.
func (m *Monitor) Services() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.probes))
	for name := range m.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckService runs the named probe, retrying failures with a linearly
// increasing delay, and records the outcome in the service's history.
//
// The probe is raced against its timeout. On timeout the result is recorded
// as unhealthy with a timeout error and the probe goroutine is abandoned;
// its context is cancelled so cooperative probes stop, but the monitor never
// waits for it and callers must not assume side effects were rolled back.
//
// An unregistered name returns an unhealthy result without recording it.
func (m *Monitor) CheckService(ctx context.Context, name string) CheckResult {
	m.mu.Lock()
	reg, ok := m.probes[name]
	m.mu.Unlock()

	if !ok {
		return CheckResult{
			Service:    name,
			Status:     StatusUnhealthy,
			Err:        fmt.Sprintf("service %q not registered", name),
			ObservedAt: m.now(),
		}
	}

	var result CheckResult
	for attempt := 1; attempt <= reg.retries+1; attempt++ {
		result = m.runProbe(ctx, name, reg)
		if result.Status != StatusUnhealthy {
			break
		}

		if attempt <= reg.retries {
			m.logger.Warn("health probe failed, retrying",
				slog.String("service", name),
				slog.Int("attempt", attempt),
				slog.String("error", result.Err))

			select {
			case <-time.After(m.retryDelay(attempt)):
			case <-ctx.Done():
				m.record(result)
				return result
			}
		}
	}

	m.record(result)
	return result
}

// runProbe executes one probe attempt raced against the configured timeout.
func (m *Monitor) runProbe(ctx context.Context, name string, reg *registration) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	type outcome struct {
		result  ProbeResult
		elapsed time.Duration
	}
	ch := make(chan outcome, 1)

	// Response time uses the real monotonic clock; m.now only feeds
	// timestamps and window math.
	start := time.Now()
	go func() {
		pr := reg.probe(probeCtx)
		ch <- outcome{result: pr, elapsed: time.Since(start)}
	}()

	select {
	case out := <-ch:
		elapsed := out.elapsed
		return CheckResult{
			Service:      name,
			Status:       out.result.Status,
			ResponseTime: &elapsed,
			Err:          out.result.Err,
			ObservedAt:   m.now(),
		}
	case <-probeCtx.Done():
		// The probe is abandoned; only the wait stops here.
		return CheckResult{
			Service:    name,
			Status:     StatusUnhealthy,
			Err:        fmt.Sprintf("timeout after %s", reg.timeout),
			ObservedAt: m.now(),
		}
	}
}

// record appends a result to the service history, dropping the oldest entry
// past the bound, and updates metrics.
func (m *Monitor) record(result CheckResult) {
	m.mu.Lock()
	h := m.history[result.Service]
	if len(h) >= historySize {
		h = h[1:]
	}
	m.history[result.Service] = append(h, result)
	m.mu.Unlock()

	var rt time.Duration
	if result.ResponseTime != nil {
		rt = *result.ResponseTime
	}
	metrics.RecordHealthProbe(result.Service, statusValue(result.Status), rt)
}

// History returns a copy of the recorded results for a service, oldest first.
func (m *Monitor) History(name string) []CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.history[name]
	out := make([]CheckResult, len(h))
	copy(out, h)
	return out
}

// CheckAll runs every registered probe concurrently and derives the
// aggregate system status:
//
//	any unhealthy            -> unhealthy
//	more than half degraded  -> degraded
//	all healthy              -> healthy
//	otherwise                -> degraded
func (m *Monitor) CheckAll(ctx context.Context) Report {
	names := m.Services()
	results := make([]CheckResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.CheckService(ctx, name)
		}()
	}
	wg.Wait()

	return Report{
		Overall:   aggregate(results),
		Results:   results,
		Timestamp: m.now(),
		Uptime:    time.Since(m.startedAt),
	}
}

func aggregate(results []CheckResult) Status {
	healthy, degraded := 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			degraded++
		case StatusHealthy:
			healthy++
		}
	}

	if len(results) > 0 && degraded*2 > len(results) {
		return StatusDegraded
	}
	if healthy == len(results) {
		return StatusHealthy
	}
	return StatusDegraded
}

// Metrics computes uptime, average response time, and error rate for a
// service over the given window. All fields are zero when the window holds
// no samples.
func (m *Monitor) Metrics(name string, window time.Duration) ServiceMetrics {
	cutoff := m.now().Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	var sm ServiceMetrics
	var totalRT time.Duration
	timed := 0

	for _, r := range m.history[name] {
		if !r.ObservedAt.After(cutoff) {
			continue
		}
		sm.SampleCount++
		if r.Status == StatusHealthy {
			sm.UptimePct++
		} else {
			sm.ErrorRatePct++
		}
		if r.ResponseTime != nil {
			totalRT += *r.ResponseTime
			timed++
		}
	}

	if sm.SampleCount == 0 {
		return ServiceMetrics{}
	}

	sm.UptimePct = sm.UptimePct / float64(sm.SampleCount) * 100
	sm.ErrorRatePct = sm.ErrorRatePct / float64(sm.SampleCount) * 100
	if timed > 0 {
		sm.AvgResponseTime = totalRT / time.Duration(timed)
	}
	return sm
}

// Uptime returns how long the monitor (and so the hosting process) has been up.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

// Start begins continuous monitoring: CheckAll runs on the configured
// interval until Stop is called or ctx is cancelled. Start is idempotent;
// calling it while running never creates a second timer.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.logger.Info("health monitoring started", slog.Duration("interval", m.interval))

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				report := m.CheckAll(runCtx)
				m.logger.Debug("health sweep completed",
					slog.String("overall", string(report.Overall)),
					slog.Int("services", len(report.Results)))
			}
		}
	}()
}

// Stop halts continuous monitoring. It is idempotent and safe to call
// without a prior Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("health monitoring stopped")
}

// statusValue maps a status to its gauge encoding.
func statusValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}
