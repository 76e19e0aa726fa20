package broker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/teslashibe/go-yolobridge/pkg/bus"
	"github.com/teslashibe/go-yolobridge/pkg/hub"
)

var _ bus.Bus = (*Broker)(nil)

// Publisher implements bus.Bus. Payloads go straight into the topic hub.
func (b *Broker) Publisher(topic string) (bus.Publisher, error) {
	if err := bus.ValidateTopic(topic); err != nil {
		return nil, err
	}
	h, err := b.hubFor(topic)
	if err != nil {
		return nil, err
	}
	return &publisher{hub: h}, nil
}

// Subscribe implements bus.Bus. The handler runs on the subscription's own
// dispatch goroutine behind a drop-oldest queue.
func (b *Broker) Subscribe(topic string, opts bus.SubscribeOptions, handler bus.Handler) (bus.Subscription, error) {
	if err := bus.ValidateTopic(topic); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("broker: nil handler for %s", topic)
	}
	h, err := b.hubFor(topic)
	if err != nil {
		return nil, err
	}

	size := opts.QueueSize
	if size <= 0 {
		size = bus.DefaultQueueSize
	}
	qs := &queueSubscriber{
		id:    "local-" + uuid.NewString(),
		queue: bus.NewQueue(size, handler),
	}
	if !h.Register(qs) {
		qs.queue.Close()
		return nil, bus.ErrClosed
	}
	return &subscription{hub: h, sub: qs}, nil
}

type publisher struct {
	hub    *hub.Hub
	closed atomic.Bool
}

func (p *publisher) Topic() string { return p.hub.Topic() }

func (p *publisher) Publish(payload []byte) error {
	if p.closed.Load() {
		return bus.ErrClosed
	}
	data := append([]byte(nil), payload...)
	if p.hub.Broadcast(hub.NewBinaryMessage(data)) {
		return nil
	}
	select {
	case <-p.hub.Done():
		return bus.ErrClosed
	default:
		return fmt.Errorf("%w: %s", ErrDropped, p.hub.Topic())
	}
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

// queueSubscriber adapts a bus.Queue to hub.Subscriber. A queue is never
// slow: it drops its own oldest entry instead.
type queueSubscriber struct {
	id    string
	queue *bus.Queue
}

func (q *queueSubscriber) ID() string { return q.id }

func (q *queueSubscriber) Deliver(msg hub.Message) bool {
	q.queue.Push(msg.Data)
	return true
}

// Close is called from the hub's run loop, which must not wait on the
// handler.
func (q *queueSubscriber) Close() {
	go q.queue.Close()
}

type subscription struct {
	hub  *hub.Hub
	sub  *queueSubscriber
	once sync.Once
}

func (s *subscription) Topic() string { return s.hub.Topic() }

func (s *subscription) Stats() bus.QueueStats { return s.sub.queue.Stats() }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.hub.Unregister(s.sub)
		s.sub.queue.Close()
	})
	return nil
}
