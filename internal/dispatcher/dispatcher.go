// Package dispatcher runs the shared worker pool behind the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/bmsevents/event-ingestor/internal/event"
)

// Runner is one pool member; it consumes the queue until ctx ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans queue items out to a fixed set of runners.
type Dispatcher struct {
	queue   event.Queue
	runners []Runner

	mu      sync.Mutex
	stopped chan struct{}
}

// New creates a Dispatcher.
func New(queue event.Queue, runners []Runner) *Dispatcher {
	return &Dispatcher{queue: queue, runners: runners, stopped: make(chan struct{})}
}

// Run starts every runner and blocks until ctx is done and all have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Go(func() { r.Run(ctx) })
	}
	<-ctx.Done()
	wg.Wait()

	d.mu.Lock()
	close(d.stopped)
	d.stopped = make(chan struct{})
	d.mu.Unlock()
}

// Stopped returns a channel that is closed when the current run, or the next
// one if none is in progress, returns. Items still queued at that point are
// never answered.
func (d *Dispatcher) Stopped() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Size reports the number of runners.
func (d *Dispatcher) Size() int {
	return len(d.runners)
}

// Enqueue submits one task.
func (d *Dispatcher) Enqueue(ctx context.Context, item event.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
