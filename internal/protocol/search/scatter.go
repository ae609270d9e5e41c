package search

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// scatter runs fn for every index in [0, n) on at most workers goroutines and
// returns the results in index order. Each task owns its slot.
func scatter[T any](ctx context.Context, workers, n int, fn func(i int) T) ([]T, error) {
	out := make([]T, n)
	if n == 0 {
		return out, nil
	}
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			_ = g.Wait()
			return nil, err
		}
		g.Go(func() error {
			out[i] = fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
