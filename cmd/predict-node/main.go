// predict-node runs a YOLO detector on a camera image topic and publishes
// the detections, plus an annotated debug image when enabled.
//
// Usage:
//
//	predict-node --bus ws://broker:7450 --set conf_thres=0.4 --set classes=[0,2]
//	predict-node --listen :7450 --params node.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"

	"github.com/teslashibe/go-yolobridge/internal/cli"
	"github.com/teslashibe/go-yolobridge/internal/config"
	"github.com/teslashibe/go-yolobridge/internal/log"
	"github.com/teslashibe/go-yolobridge/pkg/bridge"
	"github.com/teslashibe/go-yolobridge/pkg/broker"
	"github.com/teslashibe/go-yolobridge/pkg/bus"
	"github.com/teslashibe/go-yolobridge/pkg/detect"
	"github.com/teslashibe/go-yolobridge/pkg/detect/onnx"
	"github.com/teslashibe/go-yolobridge/pkg/detect/opencv"
	"github.com/teslashibe/go-yolobridge/pkg/plot"
)

const (
	backendOpenCV = "opencv"
	backendORT    = "onnxruntime"
)

type options struct {
	params    string
	overrides []string
	bus       string
	listen    string
	backend   string
	ortLib    string
}

func main() {
	parser := argparse.NewParser("predict-node", "YOLO object detection bridge")
	params := parser.String("p", "params", &argparse.Options{Help: "YAML parameter file"})
	overrides := parser.StringList("s", "set", &argparse.Options{Help: "Parameter override name=value (repeatable)"})
	busTarget := parser.String("b", "bus", &argparse.Options{Help: "Bus: 'local' or a broker URL such as ws://localhost:7450", Default: "ws://localhost:7450"})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Embed a broker listening on this address instead of connecting to one"})
	backend := parser.Selector("", "backend", []string{backendOpenCV, backendORT}, &argparse.Options{Help: "Detector backend", Default: backendOpenCV})
	ortLib := parser.String("", "ort-lib", &argparse.Options{Help: "onnxruntime shared library (onnxruntime backend)"})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "debug, info, warn or error", Default: "info"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}

	log.Init(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		params:    *params,
		overrides: *overrides,
		bus:       *busTarget,
		listen:    *listen,
		backend:   *backend,
		ortLib:    *ortLib,
	})
	if err != nil {
		log.Error("predict-node failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	logger := log.Component("predict-node")

	params, err := config.Load(opts.params, opts.overrides)
	if err != nil {
		return err
	}

	pkgDir, err := config.PackageDir()
	if err != nil {
		return err
	}
	modelPath, substituted, err := config.ModelPath(pkgDir, params.ModelFile)
	if err != nil {
		return err
	}
	if substituted {
		logger.Info("using ONNX export for PyTorch weights", "model_file", params.ModelFile, "path", modelPath)
	}

	renderer := plot.NewRenderer(log.Component("plot"), filepath.Join(pkgDir, "fonts"), pkgDir)
	model, err := loader(opts, renderer).Load(modelPath)
	if err != nil {
		return err
	}
	defer model.Close()

	var (
		b   bus.Bus
		brk *broker.Broker
	)
	if opts.listen != "" {
		cfg := broker.DefaultConfig()
		cfg.Listen = opts.listen
		brk, err = broker.New(cfg, log.Component("broker"))
		if err != nil {
			return err
		}
		b = brk
	} else {
		b, err = cli.OpenBus(ctx, opts.bus, log.Component("bus"))
		if err != nil {
			return err
		}
		if opts.bus == cli.LocalBus {
			logger.Warn("local bus has no other publishers; use --listen to accept remote frames")
		}
	}
	defer b.Close()

	br, err := bridge.New(params, model, b, log.Component("bridge"))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	if brk != nil {
		brk.SetStatus("bridge", func() any { return br.Stats() })
		go func() { errCh <- brk.Listen() }()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- br.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-errCh:
		cancel()
		<-runErr
		if err == nil {
			err = errors.New("stopped unexpectedly")
		}
		return fmt.Errorf("broker: %w", err)
	}
}

func loader(opts options, renderer *plot.Renderer) detect.Loader {
	if opts.backend == backendORT {
		cfg := onnx.DefaultConfig()
		cfg.LibraryPath = opts.ortLib
		cfg.Renderer = renderer
		cfg.Logger = log.Component("onnx")
		return onnx.NewLoader(cfg)
	}
	cfg := opencv.DefaultConfig()
	cfg.Renderer = renderer
	cfg.Logger = log.Component("opencv")
	return opencv.NewLoader(cfg)
}
