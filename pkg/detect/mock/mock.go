// Package mock provides a scripted detect.Model for tests.
package mock

import (
	"image"
	"sync"
	"time"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
)

// Model implements detect.Model for testing.
type Model struct {
	// PredictFunc is called when Predict is invoked.
	PredictFunc func(img image.Image, opts detect.Options) (*detect.Result, error)

	// PlotFunc is called when Plot is invoked.
	PlotFunc func(res *detect.Result, opts detect.PlotOptions) (image.Image, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	// ClassNames is returned by Names and attached to default results.
	ClassNames []string

	mu    sync.Mutex
	calls []Call
}

// Call records a method invocation.
type Call struct {
	Method      string
	Time        time.Time
	Image       image.Image
	Options     detect.Options
	PlotOptions detect.PlotOptions
}

// New creates a mock that detects nothing and plots the source frame
// unchanged.
func New() *Model {
	m := &Model{ClassNames: detect.COCOClasses}
	m.PredictFunc = func(img image.Image, _ detect.Options) (*detect.Result, error) {
		return &detect.Result{Names: m.ClassNames, Image: img}, nil
	}
	m.PlotFunc = func(res *detect.Result, _ detect.PlotOptions) (image.Image, error) {
		return res.Image, nil
	}
	return m
}

// WithDetections returns a mock that reports dets for every frame.
func WithDetections(dets ...detect.Detection) *Model {
	m := New()
	m.PredictFunc = func(img image.Image, _ detect.Options) (*detect.Result, error) {
		out := make([]detect.Detection, len(dets))
		copy(out, dets)
		return &detect.Result{Detections: out, Names: m.ClassNames, Image: img}, nil
	}
	return m
}

// WithError returns a mock whose Predict and Plot always fail with err.
func WithError(err error) *Model {
	m := New()
	m.PredictFunc = func(image.Image, detect.Options) (*detect.Result, error) {
		return nil, err
	}
	m.PlotFunc = func(*detect.Result, detect.PlotOptions) (image.Image, error) {
		return nil, err
	}
	return m
}

// Predict calls PredictFunc and records the call.
func (m *Model) Predict(img image.Image, opts detect.Options) (*detect.Result, error) {
	m.record(Call{Method: "Predict", Image: img, Options: opts})
	if m.PredictFunc != nil {
		return m.PredictFunc(img, opts)
	}
	return &detect.Result{Names: m.ClassNames, Image: img}, nil
}

// Plot calls PlotFunc and records the call.
func (m *Model) Plot(res *detect.Result, opts detect.PlotOptions) (image.Image, error) {
	m.record(Call{Method: "Plot", PlotOptions: opts})
	if m.PlotFunc != nil {
		return m.PlotFunc(res, opts)
	}
	return res.Image, nil
}

// Names returns ClassNames.
func (m *Model) Names() []string {
	return m.ClassNames
}

// Close calls CloseFunc and records the call.
func (m *Model) Close() error {
	m.record(Call{Method: "Close"})
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Model) record(c Call) {
	c.Time = time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls returns all recorded method calls.
func (m *Model) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Model) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call of method, or nil if none.
func (m *Model) LastCall(method string) *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Method == method {
			c := m.calls[i]
			return &c
		}
	}
	return nil
}

// Reset clears all recorded calls.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Loader hands out Model for any path and records the paths it was asked
// for.
type Loader struct {
	Model *Model
	Err   error

	mu    sync.Mutex
	paths []string
}

// Load returns l.Model, or l.Err when set.
func (l *Loader) Load(path string) (detect.Model, error) {
	l.mu.Lock()
	l.paths = append(l.paths, path)
	l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Model, nil
}

// Paths returns the paths passed to Load.
func (l *Loader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

var (
	_ detect.Model  = (*Model)(nil)
	_ detect.Loader = (*Loader)(nil)
)
