// Package detect defines the object detector capability used by the bridge:
// a Model that predicts boxes on a frame and renders them back onto it.
//
// Backends live in subpackages:
//   - opencv: OpenCV DNN (gocv) running an ONNX export
//   - onnx: ONNX Runtime running an ONNX export
//   - mock: scripted results for tests
package detect

import (
	"errors"
	"image"
)

// Sentinel errors for common conditions.
var (
	// ErrModelNotFound is returned when the weights file does not exist.
	ErrModelNotFound = errors.New("detect: model not found")

	// ErrModelLoad is returned when the weights cannot be loaded.
	ErrModelLoad = errors.New("detect: model load failed")

	// ErrUnsupportedModel is returned for output layouts the decoder does not
	// understand.
	ErrUnsupportedModel = errors.New("detect: unsupported model output")

	// ErrClosed is returned by a closed model.
	ErrClosed = errors.New("detect: model closed")

	// ErrEmptyImage is returned for zero-sized input frames.
	ErrEmptyImage = errors.New("detect: empty image")
)

// Box is a center-form axis-aligned box in source-frame pixels.
type Box struct {
	CX, CY float64 // center
	W, H   float64 // size
}

// Corners returns the top-left and bottom-right corners.
func (b Box) Corners() (x1, y1, x2, y2 float64) {
	return b.CX - b.W/2, b.CY - b.H/2, b.CX + b.W/2, b.CY + b.H/2
}

// BoxFromCorners builds a Box from corner coordinates.
func BoxFromCorners(x1, y1, x2, y2 float64) Box {
	return Box{CX: (x1 + x2) / 2, CY: (y1 + y2) / 2, W: x2 - x1, H: y2 - y1}
}

// Detection is one detected object.
type Detection struct {
	Box     Box
	ClassID int
	Score   float64
}

// Result is the output of one Predict call. It is never modified after
// Predict returns.
type Result struct {
	// Detections in decreasing score order.
	Detections []Detection

	// Names maps class ids to display names.
	Names []string

	// Image is the frame the detections refer to.
	Image image.Image
}

// Name returns the display name of a class id.
func (r *Result) Name(classID int) string {
	return ClassName(r.Names, classID)
}

// Options are the per-call detection parameters. Values are used as given;
// thresholds outside [0, 1] simply keep everything or nothing.
type Options struct {
	Conf    float64
	IoU     float64
	MaxDet  int
	Classes map[int]bool // nil keeps every class
}

// PlotOptions select what Plot draws. Nil pointers mean "derive from the
// image size".
type PlotOptions struct {
	Conf      bool // append the score to labels
	LineWidth *int
	FontSize  *float64
	Font      string // font file name or path
	Labels    bool
	Boxes     bool
}

// Model is a loaded detector.
type Model interface {
	// Predict detects objects in img.
	Predict(img image.Image, opts Options) (*Result, error)

	// Plot renders res onto a copy of its source frame.
	Plot(res *Result, opts PlotOptions) (image.Image, error)

	// Names returns the class names, indexed by class id.
	Names() []string

	// Close releases the model.
	Close() error
}

// Loader opens a model from a weights file.
type Loader interface {
	Load(path string) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (Model, error)

// Load calls f.
func (f LoaderFunc) Load(path string) (Model, error) {
	return f(path)
}
