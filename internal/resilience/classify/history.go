package classify

import (
	"sync"
	"time"

	"gamidash/internal/observability/metrics"
)

// defaultHistorySize bounds the in-memory error history used for pattern analysis.
const defaultHistorySize = 50

// Classifier classifies failures and keeps a bounded history of recent
// classifications for pattern analysis. It is safe for concurrent use.
type Classifier struct {
	mu      sync.Mutex
	history []*ClassifiedError
	maxSize int

	// now is overridable for tests.
	now func() time.Time
}

// NewClassifier creates a Classifier with the default history bound.
func NewClassifier() *Classifier {
	return &Classifier{
		history: make([]*ClassifiedError, 0, defaultHistorySize),
		maxSize: defaultHistorySize,
		now:     time.Now,
	}
}

// record appends a classified error to the history, dropping the oldest
// entry once the bound is reached.
func (c *Classifier) record(ce *ClassifiedError) {
	metrics.RecordClassifiedError(string(ce.Kind), string(ce.Severity))

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) >= c.maxSize {
		c.history = c.history[1:]
	}
	c.history = append(c.history, ce)
}

// Recent returns classified errors observed within the given window,
// newest last. A non-positive window returns the full history.
func (c *Classifier) Recent(window time.Duration) []*ClassifiedError {
	c.mu.Lock()
	defer c.mu.Unlock()

	if window <= 0 {
		out := make([]*ClassifiedError, len(c.history))
		copy(out, c.history)
		return out
	}

	cutoff := c.now().Add(-window)
	out := make([]*ClassifiedError, 0, len(c.history))
	for _, ce := range c.history {
		if ce.Timestamp.After(cutoff) {
			out = append(out, ce)
		}
	}
	return out
}

// Stats summarizes the error history over a time window.
type Stats struct {
	Total      int
	ByKind     map[Kind]int
	BySeverity map[Severity]int

	// Rate is errors per minute over the window.
	Rate float64
}

// Stats computes error counts by kind and severity over the given window.
func (c *Classifier) Stats(window time.Duration) Stats {
	recent := c.Recent(window)

	s := Stats{
		Total:      len(recent),
		ByKind:     make(map[Kind]int),
		BySeverity: make(map[Severity]int),
	}
	for _, ce := range recent {
		s.ByKind[ce.Kind]++
		s.BySeverity[ce.Severity]++
	}

	if window > 0 && s.Total > 0 {
		s.Rate = float64(s.Total) / window.Minutes()
	}
	return s
}
