package security

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gamidash/internal/resilience/classify"
)

func newTestGuard(onEvent EventFunc) *Guard {
	return NewGuard(onEvent, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAllow_WithinLimit(t *testing.T) {
	g := newTestGuard(nil)

	for i := 0; i < 5; i++ {
		d := g.Allow("client-1", 10, time.Minute)
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if want := 10 - (i + 1); d.Remaining != want {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}
}

func TestAllow_DeniesAtLimit(t *testing.T) {
	g := newTestGuard(nil)

	for i := 0; i < 100; i++ {
		if d := g.Allow("client-1", 100, time.Minute); !d.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
	}

	d := g.Allow("client-1", 100, time.Minute)
	if d.Allowed {
		t.Fatal("request 101: expected denied")
	}
	if d.RetryAfter != RetryAfterHint {
		t.Errorf("RetryAfter = %v, want %v", d.RetryAfter, RetryAfterHint)
	}
	if g.rates["client-1"].violations != 1 {
		t.Errorf("violations = %d, want 1", g.rates["client-1"].violations)
	}
}

func TestAllow_WindowReset(t *testing.T) {
	g := newTestGuard(nil)
	base := time.Now()
	g.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		g.Allow("client-1", 3, time.Minute)
	}
	if d := g.Allow("client-1", 3, time.Minute); d.Allowed {
		t.Fatal("expected denial at limit")
	}

	g.now = func() time.Time { return base.Add(61 * time.Second) }
	d := g.Allow("client-1", 3, time.Minute)
	if !d.Allowed {
		t.Fatal("expected allowed after window reset")
	}
	if d.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", d.Remaining)
	}
	// Violation history survives the reset.
	if g.rates["client-1"].violations != 1 {
		t.Errorf("violations = %d, want 1 after reset", g.rates["client-1"].violations)
	}
}

// exhaustWindow uses up the current window and triggers one violation.
func exhaustWindow(g *Guard, id string) Decision {
	for i := 0; i < 2; i++ {
		g.Allow(id, 2, time.Minute)
	}
	return g.Allow(id, 2, time.Minute)
}

func TestAllow_EscalatesToShortBlock(t *testing.T) {
	g := newTestGuard(nil)
	base := time.Now()
	current := base
	g.now = func() time.Time { return current }

	for v := 1; v <= 3; v++ {
		exhaustWindow(g, "abuser")
		current = current.Add(2 * time.Minute)
	}

	block, ok := g.blocks["abuser"]
	if !ok {
		t.Fatal("expected block after 3 violations")
	}
	if got := block.blockedUntil.Sub(current.Add(-2 * time.Minute)); got != time.Hour {
		t.Errorf("block duration = %v, want 1h", got)
	}

	d := g.Allow("abuser", 2, time.Minute)
	if d.Allowed {
		t.Fatal("expected denial while blocked")
	}
	if d.Reason != "repeated rate limit violations" {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestAllow_EscalatesToLongBlock(t *testing.T) {
	g := newTestGuard(nil)
	current := time.Now()
	g.now = func() time.Time { return current }

	// Each violation past the third re-arms a 1-hour block, so the clock
	// must step past it before the next violation can land.
	for v := 1; v <= 5; v++ {
		exhaustWindow(g, "abuser")
		current = current.Add(2 * time.Hour)
	}

	block, ok := g.blocks["abuser"]
	if !ok {
		t.Fatal("expected block after 5 violations")
	}
	want := current.Add(-2 * time.Hour).Add(24 * time.Hour)
	if !block.blockedUntil.Equal(want) {
		t.Errorf("blockedUntil = %v, want %v (24h block)", block.blockedUntil, want)
	}
	if block.severity != classify.SeverityCritical {
		t.Errorf("severity = %v, want critical", block.severity)
	}
}

func TestAllow_LazyBlockExpiry(t *testing.T) {
	g := newTestGuard(nil)
	current := time.Now()
	g.now = func() time.Time { return current }

	g.Block("client-1", "manual", time.Minute)
	if d := g.Allow("client-1", 10, time.Minute); d.Allowed {
		t.Fatal("expected denial while blocked")
	}

	current = current.Add(2 * time.Minute)
	if d := g.Allow("client-1", 10, time.Minute); !d.Allowed {
		t.Fatal("expected allowed after block expired")
	}
	if _, ok := g.blocks["client-1"]; ok {
		t.Error("expired block should have been removed")
	}
}

func TestBlock_MinimumDuration(t *testing.T) {
	g := newTestGuard(nil)
	current := time.Now()
	g.now = func() time.Time { return current }

	g.Block("client-1", "manual", time.Second)

	want := current.Add(MinBlockDuration)
	if got := g.blocks["client-1"].blockedUntil; !got.Equal(want) {
		t.Errorf("blockedUntil = %v, want %v (floored to 60s)", got, want)
	}
}

func TestDetectSuspicious_Heuristics(t *testing.T) {
	tests := []struct {
		name       string
		userAgent  string
		count      int
		suspicious bool
	}{
		{"low volume with bot marker", "googlebot/2.1", 50, false},
		{"high volume normal agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0", 150, false},
		{"high volume missing agent", "", 150, true},
		{"high volume bot marker", "python-requests/2.31", 150, true},
		{"high volume short agent", "test", 150, true},
		{"extreme volume normal agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0", 1050, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGuard(nil)
			var got bool
			for i := 0; i < tt.count; i++ {
				got = g.DetectSuspicious("client-1", tt.userAgent)
				if got {
					break
				}
			}
			if got != tt.suspicious {
				t.Errorf("suspicious = %v, want %v", got, tt.suspicious)
			}
			if tt.suspicious != g.IsBlocked("client-1") {
				t.Errorf("IsBlocked = %v, want %v", g.IsBlocked("client-1"), tt.suspicious)
			}
		})
	}
}

func TestDetectSuspicious_CountResetsAfterWindow(t *testing.T) {
	g := newTestGuard(nil)
	current := time.Now()
	g.now = func() time.Time { return current }

	for i := 0; i < 90; i++ {
		g.DetectSuspicious("client-1", "")
	}
	current = current.Add(2 * time.Hour)
	if g.DetectSuspicious("client-1", "") {
		t.Fatal("count should have reset after the window aged out")
	}
	if got := g.suspicion["client-1"].count; got != 1 {
		t.Errorf("count = %d, want 1 after reset", got)
	}
}

func TestBlocked_ListsActiveOnly(t *testing.T) {
	g := newTestGuard(nil)
	current := time.Now()
	g.now = func() time.Time { return current }

	g.Block("active", "manual", time.Hour)
	g.Block("expiring", "manual", time.Minute)
	current = current.Add(5 * time.Minute)

	blocked := g.Blocked()
	if len(blocked) != 1 {
		t.Fatalf("len(Blocked()) = %d, want 1", len(blocked))
	}
	if blocked[0].Identifier != "active" {
		t.Errorf("Identifier = %q, want %q", blocked[0].Identifier, "active")
	}
	if _, ok := g.blocks["expiring"]; ok {
		t.Error("expired block should have been removed during listing")
	}
}

func TestCleanup(t *testing.T) {
	g := newTestGuard(nil)
	current := time.Now()
	g.now = func() time.Time { return current }

	g.Allow("stale-window", 10, time.Minute)
	g.Block("expired-block", "manual", time.Minute)
	g.DetectSuspicious("idle-suspect", "curl/8.0")

	g.Allow("live-window", 10, 48*time.Hour)
	g.Block("live-block", "manual", 48*time.Hour)

	current = current.Add(25 * time.Hour)
	g.Cleanup()

	if _, ok := g.rates["stale-window"]; ok {
		t.Error("expired window should have been purged")
	}
	if _, ok := g.blocks["expired-block"]; ok {
		t.Error("expired block should have been purged")
	}
	if _, ok := g.suspicion["idle-suspect"]; ok {
		t.Error("idle suspicion record should have been purged")
	}
	if _, ok := g.rates["live-window"]; !ok {
		t.Error("live window should survive cleanup")
	}
	if _, ok := g.blocks["live-block"]; !ok {
		t.Error("live block should survive cleanup")
	}
}

func TestEvents(t *testing.T) {
	var events []Event
	g := newTestGuard(func(e Event) { events = append(events, e) })

	for i := 0; i < 2; i++ {
		g.Allow("client-1", 2, time.Minute)
	}
	g.Allow("client-1", 2, time.Minute)
	g.Block("client-2", "abuse report", time.Hour)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Reason != "rate limit exceeded" {
		t.Errorf("event 0 reason = %q", events[0].Reason)
	}
	if events[0].Severity != classify.SeverityMedium {
		t.Errorf("event 0 severity = %v, want medium", events[0].Severity)
	}
	if !strings.Contains(events[1].Reason, "abuse report") {
		t.Errorf("event 1 reason = %q", events[1].Reason)
	}
}

func TestAllow_IndependentIdentifiers(t *testing.T) {
	g := newTestGuard(nil)

	for i := 0; i < 3; i++ {
		g.Allow("client-1", 3, time.Minute)
	}
	if d := g.Allow("client-1", 3, time.Minute); d.Allowed {
		t.Fatal("client-1 should be at its limit")
	}
	if d := g.Allow("client-2", 3, time.Minute); !d.Allowed {
		t.Fatal("client-2 should be unaffected")
	}
}
