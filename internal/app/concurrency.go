package app

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// mapLimit applies fn to every item with at most limit calls running at once
// and returns the results in input order. fn reports failure in its result,
// so the group never cancels; fn observes ctx itself.
//
// Example:
//
//	outcomes := mapLimit(ctx, 4, reqs, svc.Send)
func mapLimit[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) R) []R {
	results := make([]R, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		g.Go(func() error {
			results[i] = fn(ctx, item)
			return nil
		})
	}

	_ = g.Wait()

	return results
}
