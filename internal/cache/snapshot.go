package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"gamidash/internal/observability/metrics"
)

// snapshotEntry is the wire form of a cache entry.
type snapshotEntry struct {
	Value     any       `json:"value"`
	WrittenAt time.Time `json:"writtenAt"`
	TTLMillis int64     `json:"ttl"`
}

// snapshotPair serializes as a [key, entry] tuple.
type snapshotPair struct {
	Key   string
	Entry snapshotEntry
}

func (p snapshotPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Entry})
}

func (p *snapshotPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("snapshot pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return fmt.Errorf("snapshot pair key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Entry); err != nil {
		return fmt.Errorf("snapshot pair entry: %w", err)
	}
	return nil
}

// snapshotEnvelope is the point-in-time dump format:
// {timestamp, entries:[[key, {value, writtenAt, ttl}], ...]}.
type snapshotEnvelope struct {
	Timestamp time.Time      `json:"timestamp"`
	Entries   []snapshotPair `json:"entries"`
}

// Snapshot serializes the cache contents into the persistence envelope.
// Expired entries are included; Restore filters them against their own TTL.
func (c *Cache) Snapshot() ([]byte, error) {
	c.mu.Lock()
	env := snapshotEnvelope{
		Timestamp: c.now(),
		Entries:   make([]snapshotPair, 0, len(c.entries)),
	}
	for key, entry := range c.entries {
		env.Entries = append(env.Entries, snapshotPair{
			Key: key,
			Entry: snapshotEntry{
				Value:     entry.Value,
				WrittenAt: entry.WrittenAt,
				TTLMillis: entry.TTL.Milliseconds(),
			},
		})
	}
	c.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	return data, nil
}

// Restore loads a snapshot produced by Snapshot. Entries already expired
// relative to their own TTL are discarded rather than restored. Existing
// entries with the same keys are overwritten.
func (c *Cache) Restore(data []byte) error {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("restore cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, pair := range env.Entries {
		entry := &Entry{
			Value:     pair.Entry.Value,
			WrittenAt: pair.Entry.WrittenAt,
			TTL:       time.Duration(pair.Entry.TTLMillis) * time.Millisecond,
		}
		if entry.expired(now) {
			continue
		}
		if _, exists := c.entries[pair.Key]; !exists && len(c.entries) >= c.maxSize {
			c.evictOldest()
		}
		c.entries[pair.Key] = entry
	}
	metrics.CacheSize.Set(float64(len(c.entries)))
	return nil
}
