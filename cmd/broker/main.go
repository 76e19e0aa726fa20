// broker runs a standalone topic broker that camera publishers and
// detection nodes connect to over websockets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"

	"github.com/teslashibe/go-yolobridge/internal/log"
	"github.com/teslashibe/go-yolobridge/pkg/broker"
)

func main() {
	defaults := broker.DefaultConfig()

	parser := argparse.NewParser("broker", "Websocket topic broker")
	listen := parser.String("l", "listen", &argparse.Options{Help: "Listen address", Default: defaults.Listen})
	maxMsg := parser.Int("", "max-message-size", &argparse.Options{Help: "Largest accepted payload in bytes", Default: defaults.MaxMessageSize})
	buffer := parser.Int("", "client-buffer", &argparse.Options{Help: "Messages a subscriber may lag before it is dropped", Default: defaults.ClientBuffer})
	accessLog := parser.Flag("", "access-log", &argparse.Options{Help: "Log every HTTP request"})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "debug, info, warn or error", Default: "info"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}

	log.Init(*logLevel)

	cfg := broker.Config{
		Listen:         *listen,
		MaxMessageSize: *maxMsg,
		ClientBuffer:   *buffer,
		AccessLog:      *accessLog,
	}
	b, err := broker.New(cfg, log.Component("broker"))
	if err != nil {
		log.Error("broker setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- b.Listen() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if err := b.Close(); err != nil {
			log.Error("shutdown failed", "error", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			log.Error("broker failed", "error", err)
			os.Exit(1)
		}
	}
}
