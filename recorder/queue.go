package recorder

import "sync"

type item struct {
	event    Event
	chunk    string
	err      error
	info     SessionInfo // start only
	terminal bool
}

// queue is an unbounded FIFO feeding the dispatcher. push never blocks, so
// backend callbacks and listeners can enqueue from any goroutine.
type queue struct {
	mu     sync.Mutex
	items  []item
	notify chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(it item) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, it)
	if it.terminal {
		q.closed = true
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) pop() item {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = item{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return it
		}
		q.mu.Unlock()
		<-q.notify
	}
}
