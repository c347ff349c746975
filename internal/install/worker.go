package install

import (
	"context"
	"sync"
)

// runPool drains queue with n workers. Once ctx is done, workers stop
// running items and hand every remaining one to skip instead. Returns when
// queue is closed and drained.
func runPool[T any](ctx context.Context, n int, queue <-chan T, run func(T), skip func(T)) {
	if n < 1 {
		n = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				// Check for cancellation
				select {
				case <-ctx.Done():
					skip(item)
					continue
				default:
				}
				run(item)
			}
		}()
	}
	wg.Wait()
}

// forEach runs fn for every item through a bounded pool and returns the
// items that were never dispatched because ctx ended.
func forEach(ctx context.Context, n int, items []string, fn func(string)) []string {
	queue := make(chan string, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	var mu sync.Mutex
	var skipped []string
	runPool(ctx, n, queue, fn, func(item string) {
		mu.Lock()
		skipped = append(skipped, item)
		mu.Unlock()
	})
	return skipped
}

// dedupe keeps the first occurrence of every non-empty alias.
func dedupe(aliases []string) []string {
	seen := make(map[string]bool, len(aliases))
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
