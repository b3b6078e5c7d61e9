package ws

import "sync"

// Queue is the per-connection outbound queue drained by the write pump.
// Enqueue never blocks and the queue is unbounded: a stalled reader can
// therefore grow memory without limit. That trade-off is accepted here;
// bounding the queue would drop or disconnect on overflow, which changes
// observable delivery behavior.
type Queue struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool
	wake   chan struct{}
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends a frame. It reports false once the queue is closed.
func (q *Queue) Enqueue(frame []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, frame)
	q.mu.Unlock()

	q.signal()
	return true
}

// TryNext pops the oldest queued frame without blocking.
func (q *Queue) TryNext() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	frame := q.items[0]
	q.items = q.items[1:]
	return frame, true
}

// Ready signals whenever frames were enqueued or the queue was closed. The
// channel carries at most one pending wakeup; consumers drain with TryNext
// after each receive.
func (q *Queue) Ready() <-chan struct{} {
	return q.wake
}

// Close marks the producer side dropped. Frames already queued are still
// handed out by TryNext.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Closed reports whether the queue is closed and fully drained.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
