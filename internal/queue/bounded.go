package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrFull is returned by Offer when the queue holds limit items.
	ErrFull = errors.New("queue is full")
	// ErrClosed is returned by Offer after Close.
	ErrClosed = errors.New("queue is closed")
)

// Bounded is a FIFO ring buffer with a hard item limit.
//
// Offer never blocks the producer: it either stores the item or fails fast.
// Take blocks the consumer until an item arrives, the queue is closed and
// drained, or ctx is cancelled. Any number of producers may call Offer
// concurrently; the buffer carries its own lock so callers take none.
//
// The backing slice starts at the initial capacity and doubles on demand up
// to limit, so idle workers do not pin a full-size buffer.
type Bounded[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int
	size   int
	limit  int
	closed bool

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
	done  chan struct{}
}

// NewBounded returns an empty queue. initial is clamped to [1, limit].
func NewBounded[T any](initial, limit int) *Bounded[T] {
	if limit < 1 {
		limit = 1
	}
	if initial < 1 {
		initial = 1
	}
	if initial > limit {
		initial = limit
	}
	return &Bounded[T]{
		buf:   make([]T, initial),
		limit: limit,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Offer appends v to the tail of the queue.
func (q *Bounded[T]) Offer(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.size >= q.limit {
		q.mu.Unlock()
		return ErrFull
	}
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Take removes and returns the head of the queue, blocking while it is empty.
// It returns false once the queue is closed and empty, or when ctx is done;
// a cancelled ctx wins over resident items.
func (q *Bounded[T]) Take(ctx context.Context) (T, bool) {
	var zero T
	for {
		if ctx.Err() != nil {
			return zero, false
		}
		q.mu.Lock()
		if q.size > 0 {
			v := q.pop()
			q.mu.Unlock()
			return v, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, false
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// Len returns the number of resident items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the hard item limit.
func (q *Bounded[T]) Cap() int {
	return q.limit
}

// Close rejects further offers. Items already queued remain available to Take.
func (q *Bounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Drop discards every resident item and returns how many were removed.
func (q *Bounded[T]) Drop() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	var zero T
	for i := 0; i < q.size; i++ {
		q.buf[(q.head+i)%len(q.buf)] = zero
	}
	q.head, q.size = 0, 0
	return n
}

// pop must be called with mu held and size > 0.
func (q *Bounded[T]) pop() T {
	var zero T
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v
}

// grow must be called with mu held.
func (q *Bounded[T]) grow() {
	n := len(q.buf) * 2
	if n > q.limit {
		n = q.limit
	}
	next := make([]T, n)
	for i := 0; i < q.size; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
