// Package dispatch feeds queued jobs to a fixed pool of workers. The
// queue is a bounded channel; admission control happens at enqueue
// time so callers learn about saturation immediately instead of
// blocking the HTTP path.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/awlabs/trellis/internal/engine"
	"github.com/awlabs/trellis/pkg/api"
	"github.com/awlabs/trellis/pkg/log"
)

type (
	// Dispatcher owns the job queue and worker pool. Start it once;
	// Enqueue is safe from any goroutine until Stop returns.
	Dispatcher struct {
		engine  *engine.Engine
		logger  *slog.Logger
		queue   chan api.JobID
		workers int

		mu     sync.RWMutex
		closed bool
		wg     sync.WaitGroup
	}
)

var (
	ErrQueueFull        = errors.New("job queue full")
	ErrDispatcherClosed = errors.New("dispatcher stopped")
)

// New creates a Dispatcher with the given pool size and queue depth
func New(e *engine.Engine, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		engine:  e,
		logger:  logger,
		queue:   make(chan api.JobID, queueSize),
		workers: workers,
	}
}

// Start launches the worker pool. Workers drain the queue until Stop
// closes it; ctx bounds each job's execution, not the pool's lifetime.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher starting",
		slog.Int("workers", d.workers),
		slog.Int("queue_size", cap(d.queue)))

	for i := range d.workers {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Enqueue admits a job for execution. Returns ErrQueueFull when the
// queue is at capacity and ErrDispatcherClosed after Stop.
func (d *Dispatcher) Enqueue(id api.JobID) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth returns the number of jobs waiting in the queue
func (d *Dispatcher) Depth() int {
	return len(d.queue)
}

// Stop closes the queue and waits for in-flight jobs to finish or ctx
// to expire, whichever comes first
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()

	for id := range d.queue {
		if err := d.engine.Run(ctx, id); err != nil {
			// the engine records job-level outcomes itself; anything
			// surfacing here is an infrastructure failure
			d.logger.Error("job execution error",
				slog.Int("worker", n), log.JobID(id), log.Error(err))
		}
	}
}
