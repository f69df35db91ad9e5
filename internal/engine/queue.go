package engine

import "sync"

// transition is a connectivity change observed by Run.
type transition struct {
	online bool
}

// transitionQueue is a thread-safe unbounded FIFO. The monitor's listener
// enqueues from whatever goroutine signalled the change; Run dequeues.
//
// A buffered signal channel of size 1 coalesces wakeups and lets Run wait
// with select alongside ctx.Done().
type transitionQueue struct {
	mu     sync.Mutex
	items  []transition
	closed bool
	signal chan struct{}
}

func newTransitionQueue() *transitionQueue {
	return &transitionQueue{signal: make(chan struct{}, 1)}
}

// Enqueue appends a transition. Returns false once the queue is closed.
func (q *transitionQueue) Enqueue(t transition) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, t)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
func (q *transitionQueue) TryDequeue() (transition, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return transition{}, false
	}
	t := q.items[0]
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return t, true
}

// Wait returns a channel that fires when items may be available.
func (q *transitionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending transitions.
func (q *transitionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further Enqueue calls and wakes waiters.
func (q *transitionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
