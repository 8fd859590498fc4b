package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PoolMetrics is a snapshot of worker pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool bounds how many triggered runs execute at once.
type WorkerPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	active, completed, failed, panics atomic.Int64

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		sem:    make(chan struct{}, size),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Submit runs fn on the pool. It blocks while the pool is at capacity and
// gives up when ctx is cancelled or the pool shuts down. task names the
// work in panic logs.
func (p *WorkerPool) Submit(ctx context.Context, task string, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	go p.run(ctx, task, fn)
	return nil
}

// acquire takes a slot and registers the work with the wait group.
func (p *WorkerPool) acquire(ctx context.Context) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Shutdown may have closed the pool while we waited for the slot; the
	// wg.Add has to be ordered against its Wait.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, task string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
			p.logger.ErrorContext(ctx, "worker panic",
				slog.String("task", task),
				slog.String("panic", fmt.Sprint(r)))
		}
		p.active.Add(-1)
		<-p.sem
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new submissions and waits for active work.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
