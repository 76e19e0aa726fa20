package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/teslashibe/go-yolobridge/pkg/bus"
	"github.com/teslashibe/go-yolobridge/pkg/hub"
)

// shutdownTimeout bounds Close.
const shutdownTimeout = 5 * time.Second

// ErrDropped is returned when a topic's broadcast buffer is full.
var ErrDropped = errors.New("broker: message dropped")

// Broker relays payloads between publishers and subscribers per topic.
type Broker struct {
	cfg    Config
	logger *slog.Logger
	app    *fiber.App

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	hubs   map[string]*hub.Hub
	status map[string]func() any
	closed bool

	serving     atomic.Bool
	connections atomic.Int64
	connTotal   atomic.Int64
}

// New creates a broker and its HTTP routes. It does not listen until Listen
// or Serve is called.
func New(cfg Config, logger *slog.Logger) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		hubs:   make(map[string]*hub.Hub),
		status: make(map[string]func() any),
	}

	app := fiber.New(fiber.Config{
		AppName:               "yolobridge broker",
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxMessageSize,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", b.handleHealth)
	api.Get("/topics", b.handleTopics)
	api.Get("/status/:name", b.handleStatus)

	// WebSocket upgrade middleware; the topic is validated before upgrading.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		topic := c.Query("topic")
		if err := bus.ValidateTopic(topic); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		c.Locals("topic", topic)
		return c.Next()
	})

	wsCfg := websocket.Config{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
	app.Get("/ws/pub", websocket.New(b.handlePublish, wsCfg))
	app.Get("/ws/sub", websocket.New(b.handleSubscribe, wsCfg))

	b.app = app
	return b, nil
}

// App returns the underlying fiber app.
func (b *Broker) App() *fiber.App {
	return b.app
}

// Listen serves on the configured address. It blocks until Shutdown.
func (b *Broker) Listen() error {
	b.serving.Store(true)
	b.logger.Info("broker listening", "addr", b.cfg.Listen)
	return b.app.Listen(b.cfg.Listen)
}

// Serve serves on an existing listener. It blocks until Shutdown.
func (b *Broker) Serve(ln net.Listener) error {
	b.serving.Store(true)
	b.logger.Info("broker listening", "addr", ln.Addr().String())
	return b.app.Listener(ln)
}

// SetStatus exposes fn's result as JSON at /api/status/<name>.
func (b *Broker) SetStatus(name string, fn func() any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status[name] = fn
}

// hubFor returns the hub of topic, starting it on first use.
func (b *Broker) hubFor(topic string) (*hub.Hub, error) {
	b.mu.RLock()
	h, ok := b.hubs[topic]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, bus.ErrClosed
	}
	if ok {
		return h, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}
	if h, ok := b.hubs[topic]; ok {
		return h, nil
	}
	h = hub.New(topic, b.logger)
	b.hubs[topic] = h
	go h.Run(b.ctx)
	b.logger.Debug("topic created", "topic", topic)
	return h, nil
}

func (b *Broker) handlePublish(c *websocket.Conn) {
	topic, _ := c.Locals("topic").(string)
	h, err := b.hubFor(topic)
	if err != nil {
		c.Close()
		return
	}

	id := uuid.NewString()
	b.connections.Add(1)
	b.connTotal.Add(1)
	b.logger.Info("publisher connected", "topic", topic, "conn", id)
	defer func() {
		b.connections.Add(-1)
		b.logger.Info("publisher disconnected", "topic", topic, "conn", id)
	}()

	c.SetReadLimit(int64(b.cfg.MaxMessageSize))
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("publisher read error", "topic", topic, "conn", id, "error", err)
			}
			return
		}

		msg := hub.NewBinaryMessage(data)
		if mt == websocket.TextMessage {
			msg = hub.NewTextMessage(data)
		}
		h.Broadcast(msg)
	}
}

func (b *Broker) handleSubscribe(c *websocket.Conn) {
	topic, _ := c.Locals("topic").(string)
	h, err := b.hubFor(topic)
	if err != nil {
		c.Close()
		return
	}

	id := uuid.NewString()
	b.connections.Add(1)
	b.connTotal.Add(1)
	b.logger.Info("subscriber connected", "topic", topic, "conn", id)
	defer func() {
		b.connections.Add(-1)
		b.logger.Info("subscriber disconnected", "topic", topic, "conn", id)
	}()

	hub.NewClient(id, h, c, b.cfg.ClientBuffer).Run()
}

func (b *Broker) handleHealth(c *fiber.Ctx) error {
	b.mu.RLock()
	topics := len(b.hubs)
	b.mu.RUnlock()

	return c.JSON(fiber.Map{
		"status":      "ok",
		"topics":      topics,
		"connections": b.connections.Load(),
	})
}

func (b *Broker) handleTopics(c *fiber.Ctx) error {
	return c.JSON(b.Topics())
}

func (b *Broker) handleStatus(c *fiber.Ctx) error {
	b.mu.RLock()
	fn, ok := b.status[c.Params("name")]
	b.mu.RUnlock()
	if !ok {
		return fiber.ErrNotFound
	}
	return c.JSON(fn())
}

// Topics returns per-topic statistics sorted by topic.
func (b *Broker) Topics() []hub.Stats {
	b.mu.RLock()
	out := make([]hub.Stats, 0, len(b.hubs))
	for _, h := range b.hubs {
		out = append(out, h.Stats())
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Stats returns broker statistics.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	topics := len(b.hubs)
	b.mu.RUnlock()

	return Stats{
		Topics:           topics,
		Connections:      b.connections.Load(),
		ConnectionsTotal: b.connTotal.Load(),
	}
}

// Stats contains broker statistics.
type Stats struct {
	Topics           int   `json:"topics"`
	Connections      int64 `json:"connections"`
	ConnectionsTotal int64 `json:"connections_total"`
}

// Shutdown stops every hub, which disconnects all subscribers, and then
// stops the HTTP server.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, h := range b.hubs {
		h.Stop()
	}
	b.mu.Unlock()

	b.cancel()

	if !b.serving.Load() {
		return nil
	}
	if err := b.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutdown broker: %w", err)
	}
	b.logger.Info("broker stopped")
	return nil
}

// Close implements bus.Bus.
func (b *Broker) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return b.Shutdown(ctx)
}
