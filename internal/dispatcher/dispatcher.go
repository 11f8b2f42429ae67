// Package dispatcher runs several single-job workers in one process.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Runner is a blocking job loop, satisfied by *worker.Worker.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher fans out to a fixed set of workers. Each worker still holds at
// most one job; the store's claim keeps them from colliding.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher.
func New(workers ...Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Len reports how many workers the dispatcher runs.
func (d *Dispatcher) Len() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every one has returned. The
// returned error joins each worker's failure.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.workers) == 0 {
		return fmt.Errorf("no workers configured")
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, w := range d.workers {
		wg.Add(1)
		go func(idx int, wk Runner) {
			defer wg.Done()
			if err := wk.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("worker %d: %w", idx, err))
				mu.Unlock()
			}
		}(i, w)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// InstanceID derives the identity of the i-th worker from the process
// identity. A single worker keeps the base identity unchanged.
func InstanceID(base string, i, total int) string {
	if total <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, i+1)
}
