package runtime

import (
	"sync"

	"github.com/wilhg/sigil/pkg/errmodel"
)

// DefaultMaxQueueSize bounds a server's signal queue unless overridden.
const DefaultMaxQueueSize = 10000

// signalQueue is the bounded FIFO between signal intake and the drain
// loop. Overflow is rejected at the boundary: the new item is not
// admitted and the queue is left untouched.
type signalQueue struct {
	mu    sync.Mutex
	items []envelope
	max   int
}

func newSignalQueue(max int) *signalQueue {
	if max <= 0 {
		max = DefaultMaxQueueSize
	}
	return &signalQueue{max: max}
}

func (q *signalQueue) enqueue(env envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		return errmodel.Queue("queue_overflow", "signal queue is full", map[string]any{
			"queue_size": len(q.items),
			"max_size":   q.max,
		})
	}
	q.items = append(q.items, env)
	return nil
}

func (q *signalQueue) dequeue() (envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return envelope{}, errmodel.Queue("empty_queue", "signal queue is empty", nil)
	}
	env := q.items[0]
	q.items = q.items[1:]
	return env, nil
}

func (q *signalQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// clear drops all queued items and returns how many were dropped.
func (q *signalQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
