package hub

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

// Client is a websocket subscriber. Only its write pump writes to the
// connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	closeOnce sync.Once
}

// NewClient creates a websocket subscriber with room for buffer pending
// messages. It is not registered until Run is called.
func NewClient(id string, h *Hub, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		id:   id,
		hub:  h,
		conn: conn,
		send: make(chan Message, buffer),
	}
}

// ID implements Subscriber.
func (c *Client) ID() string {
	return c.id
}

// Deliver implements Subscriber. A full send buffer marks the client slow.
func (c *Client) Deliver(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close implements Subscriber. It ends the write pump with a close frame.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Run registers the client and pumps messages until the connection or the
// hub goes away. It blocks, so call it from the websocket handler.
func (c *Client) Run() {
	if !c.hub.Register(c) {
		c.conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	<-done
}

// readPump drains inbound frames so pongs are processed and disconnects are
// noticed. Subscribers are not expected to send data.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			wsType := websocket.BinaryMessage
			if msg.Type == TextMessage {
				wsType = websocket.TextMessage
			}
			if err := c.conn.WriteMessage(wsType, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
