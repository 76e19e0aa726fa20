// Package wsbus is a bus.Bus backed by a remote broker over websockets.
//
// Each publisher and each subscription holds its own connection to the
// broker. Subscriptions reconnect on their own after a drop; publishers
// redial on the next Publish after a failed write.
package wsbus

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds websocket bus client configuration.
type Config struct {
	// URL is the broker base URL. Examples: "ws://localhost:7450",
	// "wss://broker.lan:7450".
	URL string `yaml:"url" json:"url"`

	// ReconnectInterval is how long to wait between connection attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`

	// MaxReconnectAttempts bounds ConnectWithRetry. 0 means unlimited.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`

	// HandshakeTimeout bounds each websocket dial.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// WriteTimeout bounds each published frame.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// MaxMessageSize bounds a received payload in bytes.
	MaxMessageSize int64 `yaml:"max_message_size" json:"max_message_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                  "ws://localhost:7450",
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 0, // Unlimited
		HandshakeTimeout:     5 * time.Second,
		WriteTimeout:         5 * time.Second,
		MaxMessageSize:       32 << 20,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be 'ws' or 'wss', got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect_interval must be > 0")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be > 0")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be > 0")
	}
	return nil
}

// endpoint returns the websocket URL for a pub/sub path and topic.
func (c *Config) endpoint(path, topic string) string {
	u, _ := url.Parse(c.URL)
	u.Path = path
	u.RawQuery = url.Values{"topic": {topic}}.Encode()
	return u.String()
}

// healthURL returns the broker's HTTP health endpoint.
func (c *Config) healthURL() string {
	u, _ := url.Parse(c.URL)
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Path = "/api/health"
	u.RawQuery = ""
	return u.String()
}
