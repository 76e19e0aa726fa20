// Package opencv runs YOLOv8 ONNX exports through the OpenCV DNN module.
package opencv

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
	"github.com/teslashibe/go-yolobridge/pkg/detect/yolo"
	"github.com/teslashibe/go-yolobridge/pkg/plot"
)

// Config holds backend settings.
type Config struct {
	// InputSize is the square network input. Zero means yolo.DefaultInputSize.
	InputSize int

	// Renderer draws debug images. Nil uses a renderer without font dirs.
	Renderer *plot.Renderer

	Logger *slog.Logger
}

// DefaultConfig returns defaults for stock YOLOv8 exports.
func DefaultConfig() Config {
	return Config{InputSize: yolo.DefaultInputSize}
}

// Model is a YOLOv8 network loaded into OpenCV DNN.
type Model struct {
	net       gocv.Net
	names     []string
	inputSize image.Point
	renderer  *plot.Renderer
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Load reads the ONNX weights at path. Class names come from a sibling
// .yaml file when present.
func Load(path string, cfg Config) (*Model, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = yolo.DefaultInputSize
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

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("%w: opencv could not read %s", detect.ErrModelLoad, path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	cfg.Logger.Info("model loaded",
		"backend", "opencv",
		"path", path,
		"input", cfg.InputSize,
		"classes", len(names),
		"names_file", fromFile,
	)

	return &Model{
		net:       net,
		names:     names,
		inputSize: image.Pt(cfg.InputSize, cfg.InputSize),
		renderer:  cfg.Renderer,
		logger:    cfg.Logger,
	}, nil
}

// NewLoader returns a detect.Loader that loads models with cfg.
func NewLoader(cfg Config) detect.Loader {
	return detect.LoaderFunc(func(path string) (detect.Model, error) {
		return Load(path, cfg)
	})
}

// Predict letterboxes img, runs the network and decodes its output.
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

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer src.Close()

	lb := yolo.NewLetterbox(b.Dx(), b.Dy(), m.inputSize.X, m.inputSize.Y)
	padded := letterbox(src, lb)
	defer padded.Close()

	blob := gocv.BlobFromImage(padded, 1.0/255.0, m.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	out, err := yolo.OutputFromShape(data, output.Size())
	if err != nil {
		return nil, err
	}

	return &detect.Result{
		Detections: yolo.Decode(out, opts, lb),
		Names:      m.names,
		Image:      img,
	}, nil
}

// letterbox resizes src into the scaled frame and pads it to the input size.
func letterbox(src gocv.Mat, lb yolo.Letterbox) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(lb.NewW, lb.NewH), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	pad := color.RGBA{R: yolo.PadValue, G: yolo.PadValue, B: yolo.PadValue, A: 0xff}
	gocv.CopyMakeBorder(resized, &padded, lb.Top, lb.Bottom(), lb.Left, lb.Right(), gocv.BorderConstant, pad)
	return padded
}

// Plot renders res with the model's renderer.
func (m *Model) Plot(res *detect.Result, opts detect.PlotOptions) (image.Image, error) {
	return m.renderer.Render(res, opts)
}

// Names returns the class names.
func (m *Model) Names() []string {
	return m.names
}

// Close releases the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.net.Close()
}
