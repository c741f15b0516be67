package scheduler

import (
	"sync"
)

// State is the lifecycle position of a URL inside the scheduler
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Queue implements a thread-safe FIFO of pending URLs with per-URL state.
// A URL is accepted once; every later Push of it is rejected whatever its state.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	states  map[string]State
	order   []string
	stopped bool
}

// NewQueue creates a new queue
func NewQueue() *Queue {
	q := &Queue{
		items:  make([]string, 0),
		states: make(map[string]State),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds a URL as Pending if it has never been seen
// Returns true if added, false if duplicate or stopped
func (q *Queue) Push(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}

	if _, seen := q.states[url]; seen {
		return false
	}

	q.states[url] = StatePending
	q.order = append(q.order, url)
	q.items = append(q.items, url)

	q.cond.Signal()

	return true
}

// Pop removes the next Pending URL and marks it InFlight in the same step.
// Blocks while the queue is empty and not stopped.
// Returns ("", false) once stopped and drained.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for len(q.items) > 0 {
			url := q.items[0]
			q.items = q.items[1:]

			// Entries cancelled while queued are skipped
			if q.states[url] != StatePending {
				continue
			}

			q.states[url] = StateInFlight
			return url, true
		}

		if q.stopped {
			return "", false
		}

		q.cond.Wait()
	}
}

// Finish records the terminal state of an InFlight URL.
// Returns false if the URL was not InFlight.
func (q *Queue) Finish(url string, state State) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.states[url] != StateInFlight || !state.IsTerminal() {
		return false
	}
	q.states[url] = state
	return true
}

// Stop stops accepting new entries
// Workers blocked on Pop() will drain remaining items, then receive false
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true
	q.cond.Broadcast()
}

// CancelPending stops the queue and moves every Pending URL to Cancelled.
// Returns the URLs it cancelled, in insertion order.
func (q *Queue) CancelPending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopped = true

	var cancelled []string
	for _, url := range q.order {
		if q.states[url] == StatePending {
			q.states[url] = StateCancelled
			cancelled = append(cancelled, url)
		}
	}
	q.items = q.items[:0]

	q.cond.Broadcast()
	return cancelled
}

// States returns a snapshot of every URL's state
func (q *Queue) States() map[string]State {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make(map[string]State, len(q.states))
	for url, state := range q.states {
		snapshot[url] = state
	}
	return snapshot
}

// Order returns the accepted URLs in insertion order
func (q *Queue) Order() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	order := make([]string, len(q.order))
	copy(order, q.order)
	return order
}

// Size returns the number of queued entries
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
