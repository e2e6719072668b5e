package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	dErrors "tradax/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes       int32
	Errors          int32
	StorageFailures int32
	SessionFailures int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.StorageFailures + r.SessionFailures
}

// RunConcurrent executes fn in parallel goroutines and collects results.
// Errors are bucketed as storage, session, or generic failures.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, errs, storage, session atomic.Int32

	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, dErrors.ErrStorage):
				storage.Add(1)
			case errors.Is(err, dErrors.ErrSession):
				session.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:       successes.Load(),
		Errors:          errs.Load(),
		StorageFailures: storage.Load(),
		SessionFailures: session.Load(),
	}
}
