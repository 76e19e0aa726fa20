// Package cli holds helpers shared by the command binaries.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-yolobridge/pkg/bus"
	"github.com/teslashibe/go-yolobridge/pkg/bus/wsbus"
)

// LocalBus selects the in-process bus.
const LocalBus = "local"

// OpenBus returns the bus named by target: "local" for an in-process bus,
// or a ws:// or wss:// broker URL. Remote buses are connected with retry
// before OpenBus returns.
func OpenBus(ctx context.Context, target string, logger *slog.Logger) (bus.Bus, error) {
	if strings.EqualFold(target, LocalBus) {
		return bus.NewLocal(logger), nil
	}

	cfg := wsbus.DefaultConfig()
	cfg.URL = target
	c, err := wsbus.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("bus %q: %w", target, err)
	}
	if err := c.ConnectWithRetry(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("bus %q: %w", target, err)
	}
	return c, nil
}
