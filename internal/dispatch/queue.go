package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/swaytab/swaytab/internal/layout"
)

// DefaultCapacity is the number of commands that may wait for submission
// before producers block.
const DefaultCapacity = 10

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("command queue closed")

// Queue is a bounded FIFO of commands with a single consumer. Push blocks
// while the queue is full; nothing is ever dropped.
type Queue struct {
	ch chan layout.Command

	mu     sync.RWMutex
	closed bool
}

// NewQueue returns a queue holding up to capacity commands. Non-positive
// capacities fall back to DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan layout.Command, capacity)}
}

// Push enqueues cmd, waiting for room. It only gives up when ctx ends.
func (q *Queue) Push(ctx context.Context, cmd layout.Command) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of production. Queued commands remain available to the
// consumer. Close must not race with a blocked Push from the same producer;
// the producer calls it once it has stopped pushing.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Commands exposes the receive side for the consumer.
func (q *Queue) Commands() <-chan layout.Command {
	return q.ch
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
