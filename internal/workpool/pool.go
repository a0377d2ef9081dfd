// Package workpool provides the bounded worker pool that keeps CPU-bound
// packing runs off the request-handling path. Tasks carry self-contained
// payloads; the pool never shares mutable state with its callers.
package workpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// DefaultTaskTimeout bounds a single packing task.
const DefaultTaskTimeout = 30 * time.Second

// Task is a unit of CPU-bound work. The context carries cancellation and the
// per-task deadline; tasks are expected to check it cooperatively.
type Task func(ctx context.Context) (interface{}, error)

// Handle tracks one submitted task.
type Handle struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	result interface{}
	err    error
}

// Wait blocks until the task finishes and returns its result. A cancelled
// task returns context.Canceled; a timed-out task context.DeadlineExceeded.
func (h *Handle) Wait() (interface{}, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Cancel requests cooperative cancellation of a pending or running task.
func (h *Handle) Cancel() {
	h.cancel()
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Pool is a bounded CPU worker pool. Concurrency is capped by a semaphore;
// each task gets its own timeout context.
type Pool struct {
	sem     chan struct{}
	timeout time.Duration
	log     zerolog.Logger

	workers   int
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a pool with the given worker count and per-task timeout.
// A non-positive size defaults to the logical core count.
func New(size int, timeout time.Duration, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = logicalCores()
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Pool{
		sem:     make(chan struct{}, size),
		timeout: timeout,
		workers: size,
		log:     log.With().Str("component", "workpool").Logger(),
	}
}

// logicalCores asks the OS for the logical CPU count, falling back to the
// runtime's view when the probe fails.
func logicalCores() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Submit schedules a task and returns its handle. The task starts as soon as
// a worker slot frees up; its timeout starts at execution, not at submission.
func (p *Pool) Submit(ctx context.Context, task Task) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	taskCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer p.wg.Done()
		defer close(h.done)
		defer cancel()

		select {
		case p.sem <- struct{}{}:
		case <-taskCtx.Done():
			h.finish(nil, taskCtx.Err())
			p.cancelled.Add(1)
			return
		}
		defer func() { <-p.sem }()

		runCtx, timeoutCancel := context.WithTimeout(taskCtx, p.timeout)
		defer timeoutCancel()

		p.active.Add(1)
		defer p.active.Add(-1)

		result, err := runTask(runCtx, task)
		// Timeouts and cancellations surface as the context error so the
		// engine can translate them uniformly.
		if runCtx.Err() != nil {
			err = runCtx.Err()
		}
		h.finish(result, err)

		switch {
		case err == nil:
			p.completed.Add(1)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			p.cancelled.Add(1)
		default:
			p.failed.Add(1)
		}
	}()

	return h, nil
}

// runTask executes the task, converting a panic into an error so a bad
// payload cannot take down a worker.
func runTask(ctx context.Context, task Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("task panicked")
		}
	}()
	return task(ctx)
}

func (h *Handle) finish(result interface{}, err error) {
	h.mu.Lock()
	h.result = result
	h.err = err
	h.mu.Unlock()
}

// Ready reports whether the pool accepts new work.
func (p *Pool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// Stats returns a snapshot for saturation monitoring.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Cancelled: p.cancelled.Load(),
	}
}

// Close stops accepting work and waits for running tasks to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Debug().Msg("Worker pool drained")
}
