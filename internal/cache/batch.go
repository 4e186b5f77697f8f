package cache

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// batchConcurrency bounds how many batch operations run at once.
const batchConcurrency = 8

// BatchItem is one (key, operation, fallback) triple of a batch lookup.
type BatchItem struct {
	Op      Operation
	Options Options
}

// BatchResult is the per-item outcome of a batch lookup.
type BatchResult struct {
	Key   string
	Value any
	Stale bool
	Err   error
}

// GetBatch resolves the items concurrently. Each item independently follows
// the GetWithFallback rules; one item failing never affects the others. The
// results are returned in input order.
func (c *Cache) GetBatch(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			value, stale, err := c.GetWithFallback(gctx, item.Op, item.Options)
			results[i] = BatchResult{
				Key:   item.Options.Key,
				Value: value,
				Stale: stale,
				Err:   err,
			}
			// Item errors are reported per-result, never collectively.
			return nil
		})
	}

	_ = g.Wait()
	return results
}
