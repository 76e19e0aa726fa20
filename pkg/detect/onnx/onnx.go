// Package onnx runs YOLOv8 ONNX exports through ONNX Runtime.
//
// The runtime is loaded from a shared library at first use; see
// SharedLibPath for how it is located.
package onnx

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
	"github.com/teslashibe/go-yolobridge/pkg/detect/yolo"
	"github.com/teslashibe/go-yolobridge/pkg/plot"
)

// Config holds backend settings.
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty uses SharedLibPath.
	LibraryPath string

	// InputSize replaces dynamic input dimensions. Zero means
	// yolo.DefaultInputSize.
	InputSize int

	// Threads bounds intra-op parallelism. Zero lets the runtime decide.
	Threads int

	// Renderer draws debug images. Nil uses a renderer without font dirs.
	Renderer *plot.Renderer

	Logger *slog.Logger
}

// DefaultConfig returns defaults for stock YOLOv8 exports.
func DefaultConfig() Config {
	return Config{InputSize: yolo.DefaultInputSize}
}

// Model is a YOLOv8 network loaded into an ONNX Runtime session.
type Model struct {
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	outShape []int
	inW, inH int
	names    []string
	renderer *plot.Renderer
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Load opens the ONNX weights at path. Class names come from a sibling
// .yaml file when present.
func Load(path string, cfg Config) (*Model, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = yolo.DefaultInputSize
	}
	if cfg.LibraryPath == "" {
		cfg.LibraryPath = SharedLibPath()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = plot.NewRenderer(cfg.Logger)
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", detect.ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", detect.ErrModelLoad, err)
	}

	names, fromFile, err := detect.LoadClassNames(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", detect.ErrModelLoad, err)
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("%w: %v", detect.ErrModelLoad, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", detect.ErrModelLoad, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("%w: model has %d inputs and %d outputs", detect.ErrUnsupportedModel, len(inputs), len(outputs))
	}

	inShape, err := inputShape(inputs[0].Dimensions, cfg.InputSize)
	if err != nil {
		return nil, err
	}
	inH, inW := inShape[2], inShape[3]
	outShape, err := outputShape(outputs[0].Dimensions, inW, inH, len(names))
	if err != nil {
		return nil, err
	}

	m := &Model{
		outShape: outShape,
		inW:      inW,
		inH:      inH,
		names:    names,
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
	}
	if err := m.open(path, inputs[0].Name, outputs[0].Name, inShape, cfg.Threads); err != nil {
		m.release()
		return nil, err
	}

	cfg.Logger.Info("model loaded",
		"backend", "onnx",
		"path", path,
		"input", inShape,
		"output", outShape,
		"classes", len(names),
		"names_file", fromFile,
	)
	return m, nil
}

func (m *Model) open(path, inName, outName string, inShape []int, threads int) error {
	var err error
	m.input, err = ort.NewEmptyTensor[float32](toShape(inShape))
	if err != nil {
		return fmt.Errorf("%w: input tensor: %v", detect.ErrModelLoad, err)
	}
	m.output, err = ort.NewEmptyTensor[float32](toShape(m.outShape))
	if err != nil {
		return fmt.Errorf("%w: output tensor: %v", detect.ErrModelLoad, err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("%w: session options: %v", detect.ErrModelLoad, err)
	}
	defer options.Destroy()
	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return fmt.Errorf("%w: threads: %v", detect.ErrModelLoad, err)
		}
	}

	m.session, err = ort.NewAdvancedSession(path,
		[]string{inName}, []string{outName},
		[]ort.ArbitraryTensor{m.input}, []ort.ArbitraryTensor{m.output},
		options,
	)
	if err != nil {
		return fmt.Errorf("%w: session: %v", detect.ErrModelLoad, err)
	}
	return nil
}

// NewLoader returns a detect.Loader that loads models with cfg.
func NewLoader(cfg Config) detect.Loader {
	return detect.LoaderFunc(func(path string) (detect.Model, error) {
		return Load(path, cfg)
	})
}

// Predict letterboxes img into the input tensor, runs the session and
// decodes its output.
func (m *Model) Predict(img image.Image, opts detect.Options) (*detect.Result, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, detect.ErrEmptyImage
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, detect.ErrClosed
	}

	lb := yolo.NewLetterbox(b.Dx(), b.Dy(), m.inW, m.inH)
	Preprocess(img, lb, m.input.GetData())

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	out, err := yolo.OutputFromShape(m.output.GetData(), m.outShape)
	if err != nil {
		return nil, err
	}

	return &detect.Result{
		Detections: yolo.Decode(out, opts, lb),
		Names:      m.names,
		Image:      img,
	}, nil
}

// Plot renders res with the model's renderer.
func (m *Model) Plot(res *detect.Result, opts detect.PlotOptions) (image.Image, error) {
	return m.renderer.Render(res, opts)
}

// Names returns the class names.
func (m *Model) Names() []string {
	return m.names
}

// Close destroys the session and its tensors.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.release()
}

func (m *Model) release() error {
	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	if m.input != nil {
		errs = append(errs, m.input.Destroy())
		m.input = nil
	}
	if m.output != nil {
		errs = append(errs, m.output.Destroy())
		m.output = nil
	}
	return errors.Join(errs...)
}
