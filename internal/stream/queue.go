// Package stream provides the producer/consumer plumbing between a
// generation worker and whoever watches it: an unbounded FIFO event queue and
// a single-slot control latch used for cooperative cancellation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrClosed is returned when pushing to a queue that no longer accepts items.
var ErrClosed = errors.New("stream: queue closed")

// Queue is a growable FIFO with blocking reads. It is safe for one producer
// and one consumer; extra goroutines are also safe but ordering between
// producers is not defined.
//
// CloseWrite lets the consumer drain what is left and then see io.EOF.
// CloseWithError drops pending items and fails both ends immediately.
type Queue[T any] struct {
	writeNotify chan struct{}

	mu         sync.Mutex
	closeWrite bool
	closeErr   error
	items      []T
}

// NewQueue creates a queue with room for n items before it grows.
func NewQueue[T any](n int) *Queue[T] {
	if n < 0 {
		n = 0
	}
	return &Queue[T]{
		writeNotify: make(chan struct{}, 1),
		items:       make([]T, 0, n),
	}
}

// Push appends one item and wakes a waiting reader.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeErr != nil {
		return fmt.Errorf("stream: push: %w", q.closeErr)
	}
	if q.closeWrite {
		return ErrClosed
	}

	q.items = append(q.items, item)
	select {
	case q.writeNotify <- struct{}{}:
	default:
	}
	return nil
}

// Next removes and returns the oldest item, blocking until one is available,
// the queue is drained after CloseWrite (io.EOF), or ctx is done.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	q.mu.Lock()
	for {
		if q.closeErr != nil {
			err := q.closeErr
			q.mu.Unlock()
			return zero, err
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		if q.closeWrite {
			q.mu.Unlock()
			return zero, io.EOF
		}

		q.mu.Unlock()
		select {
		case <-q.writeNotify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		q.mu.Lock()
	}
}

// Top returns the oldest item without removing it.
func (q *Queue[T]) Top() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[0], true
}

// Len reports how many items are waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// CloseWrite stops further pushes; readers drain the remainder then get io.EOF.
func (q *Queue[T]) CloseWrite() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeWrite || q.closeErr != nil {
		return nil
	}
	q.closeWrite = true
	close(q.writeNotify)
	return nil
}

// CloseWithError fails both ends with err (io.ErrClosedPipe when nil).
func (q *Queue[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeErr != nil {
		return nil
	}
	q.closeErr = err
	q.items = nil
	if !q.closeWrite {
		q.closeWrite = true
		close(q.writeNotify)
	}
	return nil
}
