package workers

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO with a single consumer.
type Queue[T any] struct {
	mu           sync.Mutex
	items        []T
	updateSignal chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{updateSignal: make(chan struct{}, 1)}
}

func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signalUpdate()
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, true
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-q.updateSignal:
		}
	}
}

func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Drain removes and returns everything that is queued.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *Queue[T]) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
