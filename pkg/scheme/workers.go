package scheme

import (
	"context"
	"encoding/hex"
	"errors"
	"runtime"
	"sync"
)

type workers struct {
	limit int
}

func newWorkers(limit int) workers {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	return workers{limit: limit}
}

// mapBlocks runs fn for every index in [0, n) with at most w.limit calls in
// flight and returns the results in index order. The first error wins and
// cancels the remaining work.
func mapBlocks[T any](ctx context.Context, w workers, n int, fn func(i int) (T, error)) ([]T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]T, n)
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	sem := make(chan struct{}, w.limit)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			r, err := fn(i)
			if err != nil {
				errCh <- err
				cancel()
				return
			}
			results[i] = r
		}()
	}

	wg.Wait()
	close(errCh)
	// prefer a real failure over the cancellations it caused
	var first error
	for err := range errCh {
		if first == nil || errors.Is(first, context.Canceled) {
			first = err
		}
	}
	if first != nil {
		return nil, first
	}
	return results, nil
}

func hexString(b []byte) string {
	return hex.EncodeToString(b)
}
