package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach runs action for every item with at most limit goroutines at a time
// (no limit when limit <= 0). The first error cancels ctx for the others and
// is returned once all goroutines finish.
func ForEach[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	group, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	for _, item := range items {
		group.Go(func() error {
			return action(ctx, item)
		})
	}
	return group.Wait()
}

// Map applies mapFn to every item concurrently, preserving order.
func Map[T any, R any](ctx context.Context, items []T, limit int, mapFn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	group, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	for i, item := range items {
		group.Go(func() error {
			r, err := mapFn(ctx, item)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Range calls action for 0..n-1 concurrently.
func Range(ctx context.Context, n, limit int, action func(context.Context, int) error) error {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return ForEach(ctx, idx, limit, action)
}
