package bus

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO in front of a Handler. When full, Push drops the
// oldest pending message to make room. One goroutine delivers messages to the
// handler in order, so handler calls never overlap.
type Queue struct {
	handler Handler
	ch      chan []byte
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool

	received  atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewQueue starts a queue of the given depth (DefaultQueueSize if <= 0).
func NewQueue(size int, handler Handler) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		handler: handler,
		ch:      make(chan []byte, size),
		done:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Push enqueues payload. It never blocks on the handler. The return value
// reports whether an older message was discarded.
func (q *Queue) Push(payload []byte) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.received.Add(1)

	select {
	case q.ch <- payload:
		return false
	default:
	}

	// Full: evict the oldest. The dispatcher may race us to it, either way
	// there is room afterwards since only Push sends and we hold mu.
	select {
	case <-q.ch:
		q.dropped.Add(1)
		dropped = true
	default:
	}
	q.ch <- payload
	return dropped
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops delivery and waits for an in-flight handler call to return.
// Pending messages are discarded. It must not be called from the handler.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) dispatch() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case payload := <-q.ch:
			// Close may have raced the receive.
			select {
			case <-q.done:
				return
			default:
			}
			q.handler(payload)
			q.delivered.Add(1)
		}
	}
}

// Stats returns queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Received:  q.received.Load(),
		Delivered: q.delivered.Load(),
		Dropped:   q.dropped.Load(),
		Pending:   len(q.ch),
	}
}

// QueueStats contains subscription queue counters.
type QueueStats struct {
	Received  int64 `json:"received"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}
