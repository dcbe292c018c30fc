package realtime

import "sync"

// Queue is the unbounded FIFO between producers (the capture path) and the
// single send loop of one connection generation.
//
// Push never blocks on I/O: it appends under a short mutex and posts a
// coalescing wake-up on Ready. The consumer waits on Ready and then drains
// everything queued, so a single pending signal always covers every item.
type Queue struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends msg. Safe for concurrent use.
func (q *Queue) Push(msg []byte) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after Push. A receive means "at least one item may be
// waiting".
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Drain appends every queued message to dst in FIFO order, empties the
// queue, and returns the extended slice.
func (q *Queue) Drain(dst [][]byte) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	dst = append(dst, q.items...)
	clear(q.items)
	q.items = q.items[:0]
	return dst
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
