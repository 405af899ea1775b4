package stream

import (
	"sync"
	"time"
)

// Queue is an ordered, unbounded line buffer fed by exactly one listener and
// drained by exactly one consumer. Every pushed line is also kept in an
// append-only history so the full output can be assembled once the program
// has finished.
//
// When a byte cap is set, lines past the cap are dropped and Truncated
// reports true. The producer never blocks.
type Queue struct {
	mu        sync.Mutex
	history   []string
	cursor    int
	size      int
	limit     int
	truncated bool
	closed    bool

	notify chan struct{}
	done   chan struct{}
}

// NewQueue creates a queue that keeps at most limit bytes of output
// (newlines included). A limit <= 0 disables the cap.
func NewQueue(limit int) *Queue {
	return &Queue{
		limit:  limit,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends a line. Pushing to a closed queue is a no-op.
func (q *Queue) Push(line string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	cost := len(line) + 1
	if q.limit > 0 && q.size+cost > q.limit {
		q.truncated = true
		q.mu.Unlock()
		return
	}
	q.history = append(q.history, line)
	q.size += cost
	q.mu.Unlock()

	q.signal()
}

// Close marks the end of the stream. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.signal()
}

func (q *Queue) markTruncated() {
	q.mu.Lock()
	q.truncated = true
	q.mu.Unlock()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain returns the lines pushed since the previous Drain, in order.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cursor >= len(q.history) {
		return nil
	}
	out := make([]string, len(q.history)-q.cursor)
	copy(out, q.history[q.cursor:])
	q.cursor = len(q.history)
	return out
}

// Pending reports whether undrained lines are available.
func (q *Queue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor < len(q.history)
}

// Lines returns a copy of every line pushed so far, drained or not.
func (q *Queue) Lines() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.history))
	copy(out, q.history)
	return out
}

// Ready is signalled after a push or close. It carries no data; consumers
// should Drain after receiving from it.
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}

// Done is closed once the stream has ended.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *Queue) Truncated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.truncated
}

// WaitClosed blocks until the queue is closed or timeout elapses, and
// reports whether it closed.
func (q *Queue) WaitClosed(timeout time.Duration) bool {
	if q.Closed() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.done:
		return true
	case <-timer.C:
		return false
	}
}
