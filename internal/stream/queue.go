package stream

import "sync"

// outQueue buffers outbound frames while the connection is down. Bounded:
// when full, the oldest frame is dropped first so a prolonged outage cannot
// grow memory without limit.
type outQueue struct {
	mu      sync.Mutex
	items   [][]byte
	cap     int
	dropped int
}

func newOutQueue(capacity int) *outQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &outQueue{cap: capacity}
}

// Push enqueues a frame, evicting the oldest when at capacity.
func (q *outQueue) Push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, frame)
}

// Drain removes and returns all queued frames in FIFO order.
func (q *outQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Clear discards everything, used on explicit disconnect.
func (q *outQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Len returns the number of queued frames.
func (q *outQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many frames were evicted since creation.
func (q *outQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
