package agent

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// mapLimit caps the goroutines ConcurrentMap runs at once.
const mapLimit = 8

// ConcurrentMap runs fn concurrently on each item and collects non-nil
// results. Result order is unspecified; callers sort.
func ConcurrentMap[T, R any](items []T, fn func(T) *R) []R {
	var mu sync.Mutex
	var results []R
	var g errgroup.Group
	g.SetLimit(mapLimit)

	for _, item := range items {
		g.Go(func() error {
			if r := fn(item); r != nil {
				mu.Lock()
				results = append(results, *r)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}
