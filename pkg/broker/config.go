// Package broker is the topic broker: a websocket server that relays every
// payload published on a topic to the topic's current subscribers.
//
// Endpoints:
//   - GET /ws/pub?topic=<topic>   websocket, client sends payloads
//   - GET /ws/sub?topic=<topic>   websocket, client receives payloads
//   - GET /api/health             liveness and counts
//   - GET /api/topics             per-topic hub statistics
//   - GET /api/status/<name>      status documents registered with SetStatus
//
// A Broker also implements bus.Bus, so a node can embed it and publish
// without a network hop.
package broker

import (
	"fmt"
)

// Config holds broker configuration.
type Config struct {
	// Listen is the address Listen binds, e.g. ":7450".
	Listen string `yaml:"listen" json:"listen"`

	// MaxMessageSize bounds a single published payload in bytes.
	MaxMessageSize int `yaml:"max_message_size" json:"max_message_size"`

	// ClientBuffer is the number of pending messages a websocket subscriber
	// may fall behind by before it is dropped.
	ClientBuffer int `yaml:"client_buffer" json:"client_buffer"`

	// AccessLog enables per-request logging.
	AccessLog bool `yaml:"access_log" json:"access_log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:         ":7450",
		MaxMessageSize: 32 << 20, // 32MiB, fits uncompressed 4K frames
		ClientBuffer:   8,
		AccessLog:      false,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be > 0, got %d", c.MaxMessageSize)
	}
	if c.ClientBuffer <= 0 {
		return fmt.Errorf("client_buffer must be > 0, got %d", c.ClientBuffer)
	}
	return nil
}
