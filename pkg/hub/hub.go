package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscriber receives messages from a Hub.
type Subscriber interface {
	// ID identifies the subscriber in logs and stats.
	ID() string
	// Deliver hands over one message without blocking. Returning false
	// means the subscriber cannot keep up and is removed from the hub.
	Deliver(msg Message) bool
	// Close is called once when the hub removes the subscriber.
	Close()
}

// Hub maintains the subscribers of one topic and broadcasts to them.
type Hub struct {
	topic  string
	logger *slog.Logger

	subscribers map[Subscriber]bool

	broadcast  chan Message
	register   chan Subscriber
	unregister chan Subscriber
	done       chan struct{}
	stopOnce   sync.Once

	// Guards subscribers for readers outside the run loop.
	mu sync.RWMutex

	published   atomic.Int64
	delivered   atomic.Int64
	droppedMsgs atomic.Int64
	droppedSubs atomic.Int64
}

// New creates a hub for topic. Call Run to start it.
func New(topic string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topic:       topic,
		logger:      logger.With("topic", topic),
		subscribers: make(map[Subscriber]bool),
		broadcast:   make(chan Message, 64),
		register:    make(chan Subscriber),
		unregister:  make(chan Subscriber),
		done:        make(chan struct{}),
	}
}

// Topic returns the hub's topic.
func (h *Hub) Topic() string {
	return h.topic
}

// Run is the hub's main loop. It returns when ctx is cancelled or Stop is
// called, closing every remaining subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return

		case <-h.done:
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = true
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Debug("subscriber joined", "subscriber", s.ID(), "subscribers", count)

		case s := <-h.unregister:
			h.mu.Lock()
			if h.subscribers[s] {
				delete(h.subscribers, s)
				s.Close()
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Debug("subscriber left", "subscriber", s.ID(), "subscribers", count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for s := range h.subscribers {
				if s.Deliver(msg) {
					h.delivered.Add(1)
					continue
				}
				delete(h.subscribers, s)
				s.Close()
				h.droppedSubs.Add(1)
				h.logger.Warn("dropped slow subscriber", "subscriber", s.ID())
			}
			h.mu.Unlock()
		}
	}
}

// Register adds s. It returns false if the hub has stopped.
func (h *Hub) Register(s Subscriber) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes s and closes it. Unknown subscribers are ignored.
func (h *Hub) Unregister(s Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Broadcast queues msg for every subscriber. It does not block; when the
// broadcast buffer is full the message is dropped.
func (h *Hub) Broadcast(msg Message) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	h.published.Add(1)
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.droppedMsgs.Add(1)
		h.logger.Warn("broadcast buffer full, dropping message")
		return false
	}
}

// Stop terminates Run. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Done is closed when the hub stops.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subscribers {
		s.Close()
	}
	h.subscribers = make(map[Subscriber]bool)
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Stats returns hub statistics.
func (h *Hub) Stats() Stats {
	return Stats{
		Topic:              h.topic,
		Subscribers:        h.SubscriberCount(),
		Published:          h.published.Load(),
		Delivered:          h.delivered.Load(),
		DroppedMessages:    h.droppedMsgs.Load(),
		DroppedSubscribers: h.droppedSubs.Load(),
	}
}

// Stats contains per-topic hub statistics.
type Stats struct {
	Topic              string `json:"topic"`
	Subscribers        int    `json:"subscribers"`
	Published          int64  `json:"published"`
	Delivered          int64  `json:"delivered"`
	DroppedMessages    int64  `json:"dropped_messages"`
	DroppedSubscribers int64  `json:"dropped_subscribers"`
}
