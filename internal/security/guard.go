// Package security provides inbound traffic protection: a per-identifier
// rate limiter with escalating temporary blocks and a heuristic suspicious
// activity detector.
//
// Rate limiting uses a fixed counting window per identifier. Denials are
// policy decisions, not errors: they produce a violation record and an
// audit event rather than entering the retry/error taxonomy.
package security

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"gamidash/internal/observability/metrics"
	"gamidash/internal/resilience/classify"
)

// Escalation and detection thresholds.
const (
	// RetryAfterHint is the fixed retry-after returned with every denial.
	RetryAfterHint = 60 * time.Second

	// MinBlockDuration is the floor applied to manual blocks.
	MinBlockDuration = time.Minute

	shortBlockViolations = 3
	shortBlockDuration   = time.Hour
	longBlockViolations  = 5
	longBlockDuration    = 24 * time.Hour

	suspicionWindow    = time.Hour
	suspicionThreshold = 100
	suspicionHardCount = 1000
	minUserAgentLength = 10

	// suspicionIdleMax is how long an idle suspicion record survives cleanup.
	suspicionIdleMax = 24 * time.Hour
)

// botMarkers flag user agents that identify themselves as automation.
var botMarkers = []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "python-requests"}

// Event is a violation or audit record emitted by the guard.
type Event struct {
	Identifier string
	Reason     string
	Severity   classify.Severity
	At         time.Time
}

// EventFunc receives guard events. It is called outside the guard's lock
// and must not call back into the guard.
type EventFunc func(Event)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// RetryAfter is the client hint attached to denials; always RetryAfterHint.
	RetryAfter time.Duration

	// Reason describes why the request was denied.
	Reason string
}

// BlockInfo describes one currently blocked identifier.
type BlockInfo struct {
	Identifier   string
	BlockedUntil time.Time
	Reason       string
}

type rateRecord struct {
	count         int
	windowResetAt time.Time
	violations    int
}

type blockEntry struct {
	blockedUntil time.Time
	reason       string
	severity     classify.Severity
}

type suspicionRecord struct {
	count     int
	firstSeen time.Time
}

// Guard tracks per-identifier request windows, blocks, and suspicion state.
// It is safe for concurrent use; every read-modify-write on an identifier's
// state happens under one lock.
type Guard struct {
	mu        sync.Mutex
	rates     map[string]*rateRecord
	blocks    map[string]*blockEntry
	suspicion map[string]*suspicionRecord

	onEvent EventFunc
	logger  *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// NewGuard creates a Guard. onEvent may be nil.
func NewGuard(onEvent EventFunc, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		rates:     make(map[string]*rateRecord),
		blocks:    make(map[string]*blockEntry),
		suspicion: make(map[string]*suspicionRecord),
		onEvent:   onEvent,
		logger:    logger,
		now:       time.Now,
	}
}

// Allow decides whether a request from identifier may proceed, given a
// maximum of maxRequests per window.
//
// An active block denies immediately. An elapsed window resets the counter
// (never the violation history) and extends the window forward. A counter
// already at the limit denies, records a violation, and escalates:
// 3 violations earn a 1-hour block, 5 earn a 24-hour block.
func (g *Guard) Allow(identifier string, maxRequests int, window time.Duration) Decision {
	var events []Event

	g.mu.Lock()
	now := g.now()

	// Active block check; expired blocks are removed lazily here.
	if block, ok := g.blocks[identifier]; ok {
		if now.Before(block.blockedUntil) {
			events = append(events, Event{
				Identifier: identifier,
				Reason:     "request denied while blocked: " + block.reason,
				Severity:   block.severity,
				At:         now,
			})
			g.mu.Unlock()
			g.emit(events)
			metrics.RecordRateLimitDecision("blocked")
			return Decision{Allowed: false, RetryAfter: RetryAfterHint, Reason: block.reason}
		}
		delete(g.blocks, identifier)
		metrics.ActiveBlocks.Set(float64(len(g.blocks)))
	}

	rec, ok := g.rates[identifier]
	if !ok {
		g.rates[identifier] = &rateRecord{count: 1, windowResetAt: now.Add(window)}
		g.mu.Unlock()
		g.emit(events)
		metrics.RecordRateLimitDecision("allowed")
		return Decision{Allowed: true, Remaining: maxRequests - 1}
	}

	// Window elapsed: reset the count, keep the violation history. The
	// window boundary only ever moves forward.
	if now.After(rec.windowResetAt) {
		rec.count = 1
		rec.windowResetAt = now.Add(window)
		remaining := maxRequests - 1
		g.mu.Unlock()
		g.emit(events)
		metrics.RecordRateLimitDecision("allowed")
		return Decision{Allowed: true, Remaining: remaining}
	}

	if rec.count >= maxRequests {
		rec.violations++
		reason := "rate limit exceeded"
		severity := classify.SeverityMedium

		switch {
		case rec.violations >= longBlockViolations:
			reason = "repeated rate limit violations"
			severity = classify.SeverityCritical
			g.blockLocked(identifier, reason, longBlockDuration, severity, now)
		case rec.violations >= shortBlockViolations:
			reason = "repeated rate limit violations"
			severity = classify.SeverityHigh
			g.blockLocked(identifier, reason, shortBlockDuration, severity, now)
		}

		events = append(events, Event{
			Identifier: identifier,
			Reason:     reason,
			Severity:   severity,
			At:         now,
		})
		g.mu.Unlock()
		g.emit(events)
		metrics.RecordRateLimitDecision("denied")
		return Decision{Allowed: false, RetryAfter: RetryAfterHint, Reason: reason}
	}

	rec.count++
	remaining := maxRequests - rec.count
	g.mu.Unlock()
	g.emit(events)
	metrics.RecordRateLimitDecision("allowed")
	return Decision{Allowed: true, Remaining: remaining}
}

// DetectSuspicious updates the rolling activity count for identifier and
// reports whether the traffic looks automated. The count resets after one
// hour of the record's age. An identifier is suspicious once its count
// exceeds the threshold and at least one heuristic fires: a very large
// total, a missing user agent, a bot marker, or a too-short user agent.
// Suspicious identifiers are blocked for one hour.
func (g *Guard) DetectSuspicious(identifier, userAgent string) bool {
	var events []Event

	g.mu.Lock()
	now := g.now()

	rec, ok := g.suspicion[identifier]
	if !ok || now.Sub(rec.firstSeen) > suspicionWindow {
		rec = &suspicionRecord{firstSeen: now}
		g.suspicion[identifier] = rec
	}
	rec.count++

	suspicious := rec.count > suspicionThreshold && (rec.count > suspicionHardCount ||
		userAgent == "" ||
		hasBotMarker(userAgent) ||
		len(userAgent) < minUserAgentLength)

	if suspicious {
		reason := "suspicious activity detected"
		g.blockLocked(identifier, reason, shortBlockDuration, classify.SeverityHigh, now)
		events = append(events, Event{
			Identifier: identifier,
			Reason:     reason,
			Severity:   classify.SeverityHigh,
			At:         now,
		})
	}
	g.mu.Unlock()

	g.emit(events)
	if suspicious {
		metrics.SuspiciousActivityTotal.Inc()
	}
	return suspicious
}

// Block inserts or overwrites a block for identifier. Durations below
// MinBlockDuration are raised to it. An audit event is emitted.
func (g *Guard) Block(identifier, reason string, d time.Duration) {
	if d < MinBlockDuration {
		d = MinBlockDuration
	}

	g.mu.Lock()
	now := g.now()
	g.blockLocked(identifier, reason, d, classify.SeverityHigh, now)
	g.mu.Unlock()

	g.emit([]Event{{
		Identifier: identifier,
		Reason:     "identifier blocked: " + reason,
		Severity:   classify.SeverityHigh,
		At:         now,
	}})
}

// blockLocked installs a block entry. Caller must hold the lock.
func (g *Guard) blockLocked(identifier, reason string, d time.Duration, severity classify.Severity, now time.Time) {
	g.blocks[identifier] = &blockEntry{
		blockedUntil: now.Add(d),
		reason:       reason,
		severity:     severity,
	}
	metrics.ActiveBlocks.Set(float64(len(g.blocks)))
	g.logger.Warn("identifier blocked",
		slog.String("identifier", identifier),
		slog.String("reason", reason),
		slog.Duration("duration", d))
}

// Blocked returns the currently blocked identifiers. Listing is an access:
// expired entries encountered here are removed.
func (g *Guard) Blocked() []BlockInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	out := make([]BlockInfo, 0, len(g.blocks))
	for id, block := range g.blocks {
		if now.After(block.blockedUntil) {
			delete(g.blocks, id)
			continue
		}
		out = append(out, BlockInfo{
			Identifier:   id,
			BlockedUntil: block.blockedUntil,
			Reason:       block.reason,
		})
	}
	metrics.ActiveBlocks.Set(float64(len(g.blocks)))
	return out
}

// IsBlocked reports whether identifier currently has an active block.
func (g *Guard) IsBlocked(identifier string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	block, ok := g.blocks[identifier]
	return ok && g.now().Before(block.blockedUntil)
}

// Cleanup purges elapsed rate windows, expired blocks, and suspicion
// records idle for more than 24 hours. It is invoked on a schedule to keep
// the maps bounded; request handling tolerates running concurrently with it.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	windows, blocks, suspicions := 0, 0, 0

	for id, rec := range g.rates {
		if now.After(rec.windowResetAt) {
			delete(g.rates, id)
			windows++
		}
	}
	for id, block := range g.blocks {
		if now.After(block.blockedUntil) {
			delete(g.blocks, id)
			blocks++
		}
	}
	for id, rec := range g.suspicion {
		if now.Sub(rec.firstSeen) > suspicionIdleMax {
			delete(g.suspicion, id)
			suspicions++
		}
	}

	metrics.ActiveBlocks.Set(float64(len(g.blocks)))
	if windows+blocks+suspicions > 0 {
		g.logger.Debug("security cleanup completed",
			slog.Int("windows", windows),
			slog.Int("blocks", blocks),
			slog.Int("suspicion_records", suspicions))
	}
}

// emit delivers events after the lock is released.
func (g *Guard) emit(events []Event) {
	if g.onEvent == nil {
		return
	}
	for _, e := range events {
		g.onEvent(e)
	}
}

func hasBotMarker(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
