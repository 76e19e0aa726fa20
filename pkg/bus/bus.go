// Package bus is the topic transport between nodes.
//
// A Bus hands out per-topic publishers and subscriptions. Every subscription
// owns a bounded drop-oldest Queue and a single dispatch goroutine, so a slow
// handler sheds stale messages instead of building a backlog.
//
// Implementations:
//   - Local: in-process, for single-binary deployments and tests
//   - wsbus.Client: websocket client of a broker.Broker
//   - broker.Broker: the broker itself, for nodes that embed it
package bus

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultQueueSize is the subscription depth when none is requested.
const DefaultQueueSize = 1

var (
	// ErrClosed is returned by operations on a closed bus, publisher or
	// subscription.
	ErrClosed = errors.New("bus: closed")

	// ErrInvalidTopic is returned for empty or malformed topic names.
	ErrInvalidTopic = errors.New("bus: invalid topic")
)

// Handler receives one message payload. The payload must not be modified.
type Handler func(payload []byte)

// Publisher sends payloads on one topic.
type Publisher interface {
	Topic() string
	Publish(payload []byte) error
	Close() error
}

// Subscription is a live registration of a Handler on one topic.
type Subscription interface {
	Topic() string
	Stats() QueueStats
	Close() error
}

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	// QueueSize is the number of undelivered messages kept before the oldest
	// is dropped. Zero means DefaultQueueSize.
	QueueSize int
}

func (o SubscribeOptions) queueSize() int {
	if o.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return o.QueueSize
}

// Bus is a topic-addressed publish/subscribe transport.
type Bus interface {
	Publisher(topic string) (Publisher, error)
	Subscribe(topic string, opts SubscribeOptions, handler Handler) (Subscription, error)
	Close() error
}

// ValidateTopic checks that topic is usable as a key. Topics are slash
// separated paths such as "camera/image_raw".
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.HasPrefix(topic, "/") || strings.HasSuffix(topic, "/") || strings.Contains(topic, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if strings.ContainsAny(topic, " \t\r\n?#*") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return nil
}
