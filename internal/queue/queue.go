package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO of work items shared by a pool of workers.
// Once stopped it hands out nothing more, whatever is left.
type Queue[T any] struct {
	items   []T
	taken   int
	stopped bool
	mu      sync.Mutex
}

// New creates a Queue holding items in order
func New[T any](items []T) *Queue[T] {
	return &Queue[T]{items: items}
}

// Range creates a Queue of the integers [0, n)
func Range(n int) *Queue[int] {
	items := make([]int, 0, max(n, 0))
	for i := 0; i < n; i++ {
		items = append(items, i)
	}
	return New(items)
}

// Next returns the next item to process
func (q *Queue[T]) Next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.stopped || q.taken >= len(q.items) {
		return zero, false
	}

	item := q.items[q.taken]
	q.items[q.taken] = zero
	q.taken++

	return item, true
}

// Stop prevents any further item from being handed out
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
}

// Len returns the number of items not handed out yet
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.taken
}
