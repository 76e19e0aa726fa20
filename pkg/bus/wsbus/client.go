package wsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-yolobridge/internal/httpc"
	"github.com/teslashibe/go-yolobridge/pkg/bus"
)

var _ bus.Bus = (*Client)(nil)

// Client is a websocket bus client.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	pubs   map[*publisher]struct{}
	subs   map[*subscription]struct{}

	// Stats
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	reconnectCount   atomic.Int64
}

// New creates a client. Call ConnectWithRetry to wait for the broker.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: httpc.NewDialer(cfg.HandshakeTimeout),
		ctx:    ctx,
		cancel: cancel,
		pubs:   make(map[*publisher]struct{}),
		subs:   make(map[*subscription]struct{}),
	}, nil
}

// Connect checks that the broker is reachable.
func (c *Client) Connect(ctx context.Context) error {
	var health struct {
		Status string `json:"status"`
	}
	if err := httpc.GetJSON(ctx, c.cfg.healthURL(), &health); err != nil {
		return fmt.Errorf("broker health: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("broker health: status %q", health.Status)
	}
	return nil
}

// ConnectWithRetry calls Connect until it succeeds, ctx ends or
// MaxReconnectAttempts is reached.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	attempts := 0

	for {
		err := c.Connect(ctx)
		if err == nil {
			c.logger.Info("connected to broker", "url", c.cfg.URL)
			return nil
		}

		attempts++
		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("max reconnect attempts (%d) reached: %w", c.cfg.MaxReconnectAttempts, err)
		}

		c.logger.Warn("broker connection failed, retrying",
			"error", err,
			"attempt", attempts,
			"retry_in", c.cfg.ReconnectInterval,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) dial(ctx context.Context, path, topic string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.endpoint(path, topic), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s %s: %w (status %d)", path, topic, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s %s: %w", path, topic, err)
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	return conn, nil
}

// Publisher returns a publisher for topic. The connection is opened on the
// first Publish.
func (c *Client) Publisher(topic string) (bus.Publisher, error) {
	if err := bus.ValidateTopic(topic); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, bus.ErrClosed
	}

	p := &publisher{client: c, topic: topic}
	c.pubs[p] = struct{}{}
	return p, nil
}

// Subscribe registers handler on topic. The subscription connects and
// reconnects in the background until it or the client is closed.
func (c *Client) Subscribe(topic string, opts bus.SubscribeOptions, handler bus.Handler) (bus.Subscription, error) {
	if err := bus.ValidateTopic(topic); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("wsbus: nil handler for %s", topic)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, bus.ErrClosed
	}

	size := opts.QueueSize
	if size <= 0 {
		size = bus.DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(c.ctx)
	s := &subscription{
		client: c,
		topic:  topic,
		queue:  bus.NewQueue(size, handler),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.subs[s] = struct{}{}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.run(ctx)
	}()

	c.logger.Debug("subscribed to topic", "topic", topic, "queue_size", size)
	return s, nil
}

// Close closes every publisher and subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pubs := c.pubs
	subs := c.subs
	c.pubs = nil
	c.subs = nil
	c.mu.Unlock()

	c.cancel()
	for p := range pubs {
		p.shutdown()
	}
	for s := range subs {
		s.shutdown()
	}
	c.wg.Wait()

	c.logger.Info("bus client closed")
	return nil
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	pubs, subs := len(c.pubs), len(c.subs)
	connected := !c.closed
	c.mu.Unlock()

	return ClientStats{
		Connected:        connected,
		Publishers:       pubs,
		Subscriptions:    subs,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ReconnectCount:   c.reconnectCount.Load(),
	}
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool  `json:"connected"`
	Publishers       int   `json:"publishers"`
	Subscriptions    int   `json:"subscriptions"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	ReconnectCount   int64 `json:"reconnect_count"`
}

type publisher struct {
	client *Client
	topic  string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (p *publisher) Topic() string { return p.topic }

// Publish writes one binary frame. After a failed write the connection is
// dropped and the next Publish redials; there is no retry.
func (p *publisher) Publish(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return bus.ErrClosed
	}

	if p.conn == nil {
		conn, err := p.client.dial(p.client.ctx, "/ws/pub", p.topic)
		if err != nil {
			return err
		}
		p.conn = conn
		go p.drain(conn)
	}

	p.conn.SetWriteDeadline(time.Now().Add(p.client.cfg.WriteTimeout))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		p.conn.Close()
		p.conn = nil
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}

	p.client.messagesSent.Add(1)
	return nil
}

// drain reads from a publish connection so control frames are handled.
func (p *publisher) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *publisher) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.conn != nil {
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		p.conn.Close()
		p.conn = nil
	}
}

func (p *publisher) Close() error {
	p.shutdown()
	p.client.mu.Lock()
	delete(p.client.pubs, p)
	p.client.mu.Unlock()
	return nil
}

type subscription struct {
	client *Client
	topic  string
	queue  *bus.Queue
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn

	once sync.Once
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Stats() bus.QueueStats { return s.queue.Stats() }

// run connects, reads until the connection drops and reconnects after
// ReconnectInterval, until ctx ends.
func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	logger := s.client.logger.With("topic", s.topic)

	for first := true; ; first = false {
		if !first {
			s.client.reconnectCount.Add(1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.client.cfg.ReconnectInterval):
			}
		}

		conn, err := s.client.dial(ctx, "/ws/sub", s.topic)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("subscribe failed, retrying", "error", err, "retry_in", s.client.cfg.ReconnectInterval)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		if ctx.Err() != nil {
			conn.Close()
			return
		}
		logger.Info("subscription connected")

		err = s.read(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		logger.Warn("subscription dropped, reconnecting", "error", err)
	}
}

func (s *subscription) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("broker closed the connection")
			}
			return err
		}
		s.client.messagesReceived.Add(1)
		s.queue.Push(data)
	}
}

func (s *subscription) shutdown() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
		<-s.done
		s.queue.Close()
	})
}

func (s *subscription) Close() error {
	s.shutdown()
	s.client.mu.Lock()
	delete(s.client.subs, s)
	s.client.mu.Unlock()
	return nil
}
