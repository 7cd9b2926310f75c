package util

import (
	"context"
	"sync"
)

// ConcurrentTask represents a task that can be executed concurrently
type ConcurrentTask func(ctx context.Context) error

// RunAll executes every task with at most maxConcurrency running at once and
// returns the error of each task at its index. Tasks not started before ctx
// is done report ctx.Err().
func RunAll(ctx context.Context, tasks []ConcurrentTask, maxConcurrency int) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	semaphore := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, t ConcurrentTask) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-semaphore }()

			errs[i] = t(ctx)
		}(i, task)
	}
	wg.Wait()
	return errs
}
