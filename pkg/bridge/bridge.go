// Package bridge connects a camera image stream to a detector and
// republishes what it finds.
//
// One subscription runs inference on every frame it is handed and replaces
// the latest Snapshot. Two timers read that snapshot independently: one
// publishes detections every 1/publish_rate seconds, the other publishes an
// annotated debug image every 100 ms when debug is enabled. The two may
// publish results of different frames.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-yolobridge/internal/config"
	"github.com/teslashibe/go-yolobridge/pkg/bus"
	"github.com/teslashibe/go-yolobridge/pkg/detect"
	"github.com/teslashibe/go-yolobridge/pkg/msgs"
)

// StatsInterval is how often Run logs counters at debug level.
const StatsInterval = 10 * time.Second

// ErrNilModel is returned by New without a model.
var ErrNilModel = errors.New("bridge: nil model")

// Snapshot is the latest frame header with the detections made on it.
// Snapshots are never modified after they are stored.
type Snapshot struct {
	Header msgs.Header
	Result *detect.Result
}

// Bridge holds the node state shared by the image handler and the two
// publishers.
type Bridge struct {
	params   config.Params
	model    detect.Model
	bus      bus.Bus
	logger   *slog.Logger
	opts     detect.Options
	plotOpts detect.PlotOptions

	detections bus.Publisher
	debugImage bus.Publisher

	latest atomic.Pointer[Snapshot]

	framesReceived       atomic.Int64
	framesProcessed      atomic.Int64
	frameErrors          atomic.Int64
	detectionsPublished  atomic.Int64
	debugImagesPublished atomic.Int64
	publishErrors        atomic.Int64
	lastInferenceNanos   atomic.Int64
}

// New creates a bridge and its publishers. It does not subscribe; see Run.
func New(params config.Params, model detect.Model, b bus.Bus, logger *slog.Logger) (*Bridge, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	det, err := b.Publisher(params.DetectionTopic)
	if err != nil {
		return nil, fmt.Errorf("detection publisher: %w", err)
	}
	dbg, err := b.Publisher(config.DebugImageTopic)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("debug image publisher: %w", err)
	}

	return &Bridge{
		params: params,
		model:  model,
		bus:    b,
		logger: logger,
		opts: detect.Options{
			Conf:    params.ConfThres,
			IoU:     params.IoUThres,
			MaxDet:  params.MaxDet,
			Classes: params.ClassFilter(),
		},
		plotOpts: detect.PlotOptions{
			Conf:      params.DebugConf,
			LineWidth: params.DebugLineWidth,
			FontSize:  params.DebugFontSize,
			Font:      params.DebugFont,
			Labels:    params.DebugLabels,
			Boxes:     params.DebugBoxes,
		},
		detections: det,
		debugImage: dbg,
	}, nil
}

// Latest returns the current snapshot, or nil before the first frame.
func (b *Bridge) Latest() *Snapshot {
	return b.latest.Load()
}

// HandleImage decodes one image message, runs inference and replaces the
// snapshot. Failures are logged and counted; the previous snapshot stays.
func (b *Bridge) HandleImage(payload []byte) {
	b.framesReceived.Add(1)

	msg, err := msgs.DecodeImage(payload)
	if err != nil {
		b.frameError("decode image", err, 0)
		return
	}
	img, err := msg.ToImage()
	if err != nil {
		b.frameError("convert image", err, msg.Header.Seq)
		return
	}

	start := time.Now()
	res, err := b.model.Predict(img, b.opts)
	if err != nil {
		b.frameError("inference", err, msg.Header.Seq)
		return
	}
	b.lastInferenceNanos.Store(int64(time.Since(start)))

	b.latest.Store(&Snapshot{Header: msg.Header, Result: res})
	b.framesProcessed.Add(1)
}

func (b *Bridge) frameError(stage string, err error, seq uint32) {
	b.frameErrors.Add(1)
	b.logger.Warn("frame dropped", "stage", stage, "seq", seq, "error", err)
}

// DetectionMessage builds the detection message for a snapshot, preserving
// the result's detection order.
func DetectionMessage(s *Snapshot) *msgs.Detection2DArray {
	out := &msgs.Detection2DArray{
		Header:     s.Header,
		Detections: make([]msgs.Detection2D, 0, len(s.Result.Detections)),
	}
	for _, d := range s.Result.Detections {
		out.Detections = append(out.Detections, msgs.Detection2D{
			BBox: msgs.BoundingBox2D{
				Center: msgs.Point2D{X: d.Box.CX, Y: d.Box.CY},
				SizeX:  d.Box.W,
				SizeY:  d.Box.H,
			},
			Results: []msgs.ObjectHypothesis{{ID: d.ClassID, Score: d.Score}},
		})
	}
	return out
}

// PublishDetections publishes the current snapshot's detections. It does
// nothing before the first frame.
func (b *Bridge) PublishDetections() error {
	snap := b.latest.Load()
	if snap == nil {
		return nil
	}

	data, err := DetectionMessage(snap).Encode()
	if err != nil {
		return b.publishError(b.detections, err)
	}
	if err := b.detections.Publish(data); err != nil {
		return b.publishError(b.detections, err)
	}
	b.detectionsPublished.Add(1)
	return nil
}

// PublishDebugImage renders the current snapshot and publishes it as a bgr8
// image. It does nothing unless debug is enabled and a frame has been
// processed.
func (b *Bridge) PublishDebugImage() error {
	if !b.params.Debug {
		return nil
	}
	snap := b.latest.Load()
	if snap == nil {
		return nil
	}

	plotted, err := b.model.Plot(snap.Result, b.plotOpts)
	if err != nil {
		return b.publishError(b.debugImage, fmt.Errorf("plot: %w", err))
	}
	msg, err := msgs.FromImage(plotted, msgs.EncodingBGR8, snap.Header)
	if err != nil {
		return b.publishError(b.debugImage, err)
	}
	if err := b.debugImage.Publish(msg.Encode()); err != nil {
		return b.publishError(b.debugImage, err)
	}
	b.debugImagesPublished.Add(1)
	return nil
}

func (b *Bridge) publishError(p bus.Publisher, err error) error {
	b.publishErrors.Add(1)
	b.logger.Debug("publish failed", "topic", p.Topic(), "error", err)
	return err
}

// Run subscribes to the input topic and runs both publishers until ctx is
// cancelled. It closes the subscription and publishers before returning,
// including when the subscription fails.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.bus.Subscribe(b.params.InputTopic, bus.SubscribeOptions{QueueSize: 1}, b.HandleImage)
	if err != nil {
		err = fmt.Errorf("subscribe %s: %w", b.params.InputTopic, err)
		return errors.Join(err, b.detections.Close(), b.debugImage.Close())
	}

	b.logger.Info("bridge running",
		"input", b.params.InputTopic,
		"detections", b.params.DetectionTopic,
		"publish_period", b.params.PublishPeriod(),
		"debug", b.params.Debug,
	)

	var wg sync.WaitGroup
	every := func(period time.Duration, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(period)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fn()
				}
			}
		}()
	}

	every(b.params.PublishPeriod(), func() { _ = b.PublishDetections() })
	if b.params.Debug {
		every(config.DebugImagePeriod, func() { _ = b.PublishDebugImage() })
	}
	every(StatsInterval, func() { b.logger.Debug("bridge stats", "stats", b.Stats()) })

	<-ctx.Done()
	wg.Wait()

	return errors.Join(sub.Close(), b.detections.Close(), b.debugImage.Close())
}

// Stats returns bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesReceived:       b.framesReceived.Load(),
		FramesProcessed:      b.framesProcessed.Load(),
		FrameErrors:          b.frameErrors.Load(),
		DetectionsPublished:  b.detectionsPublished.Load(),
		DebugImagesPublished: b.debugImagesPublished.Load(),
		PublishErrors:        b.publishErrors.Load(),
		LastInference:        time.Duration(b.lastInferenceNanos.Load()),
	}
}

// Stats contains bridge counters.
type Stats struct {
	FramesReceived       int64         `json:"frames_received"`
	FramesProcessed      int64         `json:"frames_processed"`
	FrameErrors          int64         `json:"frame_errors"`
	DetectionsPublished  int64         `json:"detections_published"`
	DebugImagesPublished int64         `json:"debug_images_published"`
	PublishErrors        int64         `json:"publish_errors"`
	LastInference        time.Duration `json:"last_inference_ns"`
}
