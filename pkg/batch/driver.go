// Package batch implements the parallel fan-out query driver shared by
// vptree and bktree batch search: one task per query, pre-sized result
// slots, positional alignment regardless of completion order.
package batch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/nnindex/pkg/observability"
)

// Driver fans a batch of queries out across a worker pool sized to
// available hardware parallelism.
type Driver struct {
	// Workers bounds pool size; zero or negative selects
	// runtime.GOMAXPROCS(0).
	Workers int
	// Limiter throttles per-task dispatch. Nil disables throttling.
	Limiter *rate.Limiter
	// Metrics, when non-nil, records per-query dispatch counts and the
	// delay each query spent waiting on the limiter.
	Metrics *observability.Metrics
}

// New returns a Driver sized to GOMAXPROCS with no rate limiting.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) workers(n int) int {
	w := d.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if w > n {
		w = n
	}
	return w
}

// Run dispatches fn over every element of queries, one task per query.
// Results are written into a pre-sized slice at the task's own index, so no
// task ever observes another task's output. If any task returns an error,
// the first one encountered (by completion order, not index order) is
// returned and the result slice is discarded — matching the driver's
// "partial results may be discarded" contract.
func Run[Q, R any](d *Driver, queries []Q, fn func(Q) (R, error)) ([]R, error) {
	n := len(queries)
	results := make([]R, n)
	if n == 0 {
		return results, nil
	}
	if d == nil {
		d = New()
	}

	type job struct {
		index int
		item  Q
	}
	jobs := make(chan job, n)
	for i, q := range queries {
		jobs <- job{index: i, item: q}
	}
	close(jobs)

	workers := d.workers(n)
	if d.Metrics != nil {
		d.Metrics.SetWorkerPoolSize(workers)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				var delay time.Duration
				if d.Limiter != nil {
					waitStart := time.Now()
					if err := d.Limiter.Wait(context.Background()); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						continue
					}
					delay = time.Since(waitStart)
				}
				if d.Metrics != nil {
					d.Metrics.RecordBatchQuery(delay)
				}
				r, err := fn(j.item)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				results[j.index] = r
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
