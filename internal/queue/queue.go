// Package queue provides an in-memory FIFO that decouples the frame loop
// from slow consumers (database, redis).
package queue

import "sync"

// Queue is a ring buffer that doubles its capacity once it is 70% full. A
// positive limit caps growth; past it, Push evicts the oldest item so the
// producer never blocks.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	size   int
	limit  int
	closed bool

	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Len     int
	Cap     int
	Pushed  int64
	Popped  int64
	Dropped int64
	Resizes int
}

// New creates a queue with the given initial capacity. limit <= 0 means
// unbounded.
func New[T any](capacity, limit int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	if limit > 0 && capacity > limit {
		capacity = limit
	}

	q := &Queue[T]{
		ring:  make([]T, capacity),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := len(q.ring) * 7 / 10
	if threshold < 1 {
		threshold = 1
	}
	if q.size+1 >= threshold {
		q.grow()
	}

	if q.size == len(q.ring) {
		// At limit: evict the oldest.
		q.ring[q.head] = item
		q.head = (q.head + 1) % len(q.ring)
		q.dropped++
	} else {
		q.ring[(q.head+q.size)%len(q.ring)] = item
		q.size++
	}
	q.pushed++

	q.cond.Signal()
	return true
}

// Pop blocks until an item is available. It returns false when the queue
// is closed and drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// TryPop returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.take(), true
}

// PopBatch removes up to max items (all of them if max <= 0) without
// blocking. It returns nil when the queue is empty.
func (q *Queue[T]) PopBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}

	n := q.size
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.take()
	}
	return out
}

// Close stops accepting items and wakes blocked consumers. Items already
// queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Len:     q.size,
		Cap:     len(q.ring),
		Pushed:  q.pushed,
		Popped:  q.popped,
		Dropped: q.dropped,
		Resizes: q.resizes,
	}
}

// take removes the head item. Must be called with lock held and size > 0.
func (q *Queue[T]) take() T {
	var zero T
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.popped++
	return item
}

// grow doubles the ring up to limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	capacity := len(q.ring) * 2
	if q.limit > 0 && capacity > q.limit {
		capacity = q.limit
	}
	if capacity <= len(q.ring) {
		return
	}

	ring := make([]T, capacity)
	for i := 0; i < q.size; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}

	q.ring = ring
	q.head = 0
	q.resizes++
}
