// Package parallel provides generic parallel processing utilities.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// ============================================================================
// Worker Pool Configuration
// ============================================================================

// PoolConfig configures the worker pool behavior.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent workers.
	// Default: min(runtime.NumCPU(), 8)
	MaxWorkers int

	// Timeout is the maximum time for the entire operation.
	// Default: 0 (no timeout)
	Timeout time.Duration

	// CollectMetrics enables collection of execution metrics.
	CollectMetrics bool
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{MaxWorkers: workers}
}

// WithWorkers returns a new config with the specified number of workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

// WithTimeout returns a new config with the specified timeout.
func (c PoolConfig) WithTimeout(d time.Duration) PoolConfig {
	c.Timeout = d
	return c
}

// WithMetrics returns a new config with metrics collection enabled.
func (c PoolConfig) WithMetrics() PoolConfig {
	c.CollectMetrics = true
	return c
}

// ============================================================================
// Execution Metrics
// ============================================================================

// PoolMetrics holds execution statistics.
type PoolMetrics struct {
	TotalTasks     int64
	CompletedTasks int64
	FailedTasks    int64
	SkippedTasks   int64
	TotalDuration  time.Duration
	MaxTaskTime    time.Duration
}

// ============================================================================
// Task Result
// ============================================================================

// TaskResult holds the result of a task execution.
type TaskResult[T any, R any] struct {
	Index    int
	Input    T
	Result   R
	Error    error
	Duration time.Duration
	// Done is false when the task never ran because the context ended first.
	Done bool
}

// ============================================================================
// Worker Pool
// ============================================================================

// WorkerPool runs a function over a slice of inputs on a bounded number of
// goroutines.
type WorkerPool[T any, R any] struct {
	config  PoolConfig
	metrics PoolMetrics
	mu      sync.Mutex
}

// NewWorkerPool creates a new worker pool with the given configuration.
func NewWorkerPool[T any, R any](config PoolConfig) *WorkerPool[T, R] {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	return &WorkerPool[T, R]{config: config}
}

// ExecuteFunc runs fn for every input and returns results in input order.
// Inputs not started before ctx ends are returned with Done=false.
func (p *WorkerPool[T, R]) ExecuteFunc(ctx context.Context, inputs []T, fn func(ctx context.Context, input T) (R, error)) []TaskResult[T, R] {
	results := make([]TaskResult[T, R], len(inputs))
	for i, in := range inputs {
		results[i] = TaskResult[T, R]{Index: i, Input: in}
	}
	p.ExecuteOrdered(ctx, inputs, fn, func(r TaskResult[T, R]) {
		results[r.Index] = r
	})
	return results
}

// ExecuteOrdered runs fn for every input and hands each finished result to
// commit in input order, as soon as it and all earlier results are available.
// commit is only ever called from one goroutine at a time. Results for tasks
// that never ran (context ended) are not committed, and nothing after the
// first missing index is committed either.
func (p *WorkerPool[T, R]) ExecuteOrdered(
	ctx context.Context,
	inputs []T,
	fn func(ctx context.Context, input T) (R, error),
	commit func(TaskResult[T, R]),
) {
	if len(inputs) == 0 {
		return
	}

	startTime := time.Now()
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	taskCh := make(chan int)
	doneCh := make(chan TaskResult[T, R], len(inputs))

	var wg sync.WaitGroup
	numWorkers := min(p.config.MaxWorkers, len(inputs))
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskCh {
				taskStart := time.Now()
				result, err := fn(ctx, inputs[idx])
				duration := time.Since(taskStart)
				if p.config.CollectMetrics {
					p.updateMetrics(duration, err)
				}
				doneCh <- TaskResult[T, R]{
					Index:    idx,
					Input:    inputs[idx],
					Result:   result,
					Error:    err,
					Duration: duration,
					Done:     true,
				}
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for i := range inputs {
			select {
			case <-ctx.Done():
				return
			case taskCh <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(doneCh)
	}()

	// Reorder buffer: results arrive in completion order, commits happen in
	// input order.
	pending := make(map[int]TaskResult[T, R])
	next := 0
	for r := range doneCh {
		pending[r.Index] = r
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			commit(ready)
			next++
		}
	}

	p.mu.Lock()
	p.metrics.SkippedTasks += int64(len(inputs) - next - len(pending))
	p.metrics.TotalDuration = time.Since(startTime)
	p.mu.Unlock()
}

// updateMetrics updates the pool metrics (thread-safe).
func (p *WorkerPool[T, R]) updateMetrics(duration time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.TotalTasks++
	if err != nil {
		p.metrics.FailedTasks++
	} else {
		p.metrics.CompletedTasks++
	}
	if duration > p.metrics.MaxTaskTime {
		p.metrics.MaxTaskTime = duration
	}
}

// Metrics returns the current execution metrics.
func (p *WorkerPool[T, R]) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}
