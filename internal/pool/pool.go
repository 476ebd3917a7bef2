// Package pool provides a fixed-size worker pool whose workers each hold
// private state built once at start-up.
//
// Workers never share mutable state: the initializer runs once per
// worker and its result stays with that worker until Close. Map fans a
// slice of arguments out over the workers and returns results in input
// order regardless of completion order.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when work is submitted to a closed pool.
var ErrClosed = errors.New("pool is closed")

// live counts worker goroutines alive across all pools in the process.
var live atomic.Int64

// LiveWorkers reports the number of worker goroutines currently running.
func LiveWorkers() int {
	return int(live.Load())
}

// DefaultSize returns max(1, NumCPU-1), leaving one core for the
// coordinating goroutine.
func DefaultSize() int {
	return max(1, runtime.NumCPU()-1)
}

// TaskError reports the failure of a single mapped argument.
type TaskError struct {
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Index, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Pool runs tasks on a fixed set of workers with per-worker state W.
type Pool[W any] struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan func(W)
	wg     sync.WaitGroup
	size   int
}

// New starts size workers. Every initializer runs once, in id order,
// before any worker goroutine starts; each worker keeps its state for its
// lifetime. If an initializer fails no goroutine is started and the error
// is returned.
func New[W any](size int, init func(id int) (W, error)) (*Pool[W], error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	p := &Pool[W]{
		tasks: make(chan func(W)),
		size:  size,
	}

	states := make([]W, size)
	for i := range states {
		st, err := init(i)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize worker %d: %w", i, err)
		}
		states[i] = st
	}

	p.wg.Add(size)
	for i := range states {
		live.Add(1)
		go p.worker(states[i])
	}

	slog.Debug("Worker pool started", "workers", size)
	return p, nil
}

func (p *Pool[W]) worker(state W) {
	defer p.wg.Done()
	defer live.Add(-1)

	for task := range p.tasks {
		task(state)
	}
}

// Size returns the number of workers.
func (p *Pool[W]) Size() int {
	return p.size
}

// Close stops accepting work and waits for every worker to exit.
// It is safe to call more than once.
func (p *Pool[W]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	slog.Debug("Worker pool stopped", "workers", p.size)
}

// Map applies fn to every argument on the pool's workers and returns the
// results in the order of args. Map waits for every submitted task before
// returning; when tasks fail, the error of the lowest failing index is
// returned as a *TaskError. Worker panics are converted to errors.
func Map[W, A, R any](ctx context.Context, p *Pool[W], fn func(W, A) (R, error), args []A) ([]R, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	results := make([]R, len(args))
	errs := make([]error, len(args))

	var wg sync.WaitGroup
	var submitErr error

submit:
	for i := range args {
		task := func(state W) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("worker panic: %v", r)
				}
			}()
			results[i], errs[i] = fn(state, args[i])
		}

		wg.Add(1)
		select {
		case p.tasks <- task:
		case <-ctx.Done():
			wg.Done()
			submitErr = ctx.Err()
			break submit
		}
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, &TaskError{Index: i, Err: err}
		}
	}
	if submitErr != nil {
		return nil, submitErr
	}
	return results, nil
}
