package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Local is an in-process Bus. Published payloads are copied once and shared
// by every subscriber of the topic.
type Local struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*localSubscription]struct{}
	closed bool

	published atomic.Int64
}

// NewLocal creates an empty in-process bus.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		logger: logger,
		subs:   make(map[string]map[*localSubscription]struct{}),
	}
}

// Publisher returns a publisher for topic.
func (b *Local) Publisher(topic string) (Publisher, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return &localPublisher{bus: b, topic: topic}, nil
}

// Subscribe registers handler on topic.
func (b *Local) Subscribe(topic string, opts SubscribeOptions, handler Handler) (Subscription, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("bus: nil handler for %s", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &localSubscription{
		bus:   b,
		topic: topic,
		queue: NewQueue(opts.queueSize(), handler),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*localSubscription]struct{})
	}
	b.subs[topic][s] = struct{}{}

	b.logger.Debug("local subscription added", "topic", topic, "queue_size", opts.queueSize())
	return s, nil
}

func (b *Local) publish(topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	subs := b.subs[topic]
	if len(subs) > 0 {
		data := append([]byte(nil), payload...)
		for s := range subs {
			s.queue.Push(data)
		}
	}
	b.published.Add(1)
	return nil
}

func (b *Local) remove(s *localSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.subs[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

// Close closes every subscription. Further calls fail with ErrClosed.
func (b *Local) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*localSubscription
	for _, subs := range b.subs {
		for s := range subs {
			all = append(all, s)
		}
	}
	b.subs = nil
	b.mu.Unlock()

	for _, s := range all {
		s.queue.Close()
	}
	return nil
}

// Stats returns bus statistics.
func (b *Local) Stats() LocalStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return LocalStats{
		Topics:            len(b.subs),
		Subscriptions:     n,
		MessagesPublished: b.published.Load(),
	}
}

// LocalStats contains in-process bus statistics.
type LocalStats struct {
	Topics            int   `json:"topics"`
	Subscriptions     int   `json:"subscriptions"`
	MessagesPublished int64 `json:"messages_published"`
}

type localPublisher struct {
	bus    *Local
	topic  string
	closed atomic.Bool
}

func (p *localPublisher) Topic() string { return p.topic }

func (p *localPublisher) Publish(payload []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.bus.publish(p.topic, payload)
}

func (p *localPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

type localSubscription struct {
	bus   *Local
	topic string
	queue *Queue
	once  sync.Once
}

func (s *localSubscription) Topic() string { return s.topic }

func (s *localSubscription) Stats() QueueStats { return s.queue.Stats() }

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
		s.queue.Close()
	})
	return nil
}
