// Package queue provides the unbounded FIFO hand-off used between the audio
// producer and the recognizer feeder.
package queue

import (
	"context"
	"sync"
)

// Unbounded is a goroutine-safe FIFO queue. Push never blocks; Pop blocks
// until an item is available, the queue is closed and drained, or ctx ends.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

// New creates an empty queue.
func New[T any]() *Unbounded[T] {
	return &Unbounded[T]{ready: make(chan struct{}, 1)}
}

// Push appends item. It returns false once the queue is closed.
func (q *Unbounded[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
	return true
}

// Pop removes the front item. ok is false when the queue is closed and empty.
func (q *Unbounded[T]) Pop(ctx context.Context) (item T, ok bool, err error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return item, false, nil
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return item, false, ctx.Err()
		}
	}
}

// Close marks end of input. Items already queued are still delivered.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of queued items.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Unbounded[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
