// image-pub reads frames from a camera or video file and publishes them as
// bgr8 images, the input a predict-node subscribes to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-yolobridge/internal/cli"
	"github.com/teslashibe/go-yolobridge/internal/log"
	"github.com/teslashibe/go-yolobridge/pkg/bus"
	"github.com/teslashibe/go-yolobridge/pkg/msgs"
)

func main() {
	parser := argparse.NewParser("image-pub", "Publish camera or video frames to a topic")
	busTarget := parser.String("b", "bus", &argparse.Options{Help: "Broker URL", Default: "ws://localhost:7450"})
	topic := parser.String("t", "topic", &argparse.Options{Help: "Image topic", Default: "image_raw"})
	device := parser.Int("d", "device", &argparse.Options{Help: "Camera index", Default: 0})
	video := parser.String("v", "video", &argparse.Options{Help: "Video file or stream URL (overrides --device)"})
	rate := parser.Float("r", "rate", &argparse.Options{Help: "Frames per second", Default: 15.0})
	frameID := parser.String("f", "frame-id", &argparse.Options{Help: "Header frame id", Default: "camera"})
	loop := parser.Flag("", "loop", &argparse.Options{Help: "Restart video files at the end"})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "debug, info, warn or error", Default: "info"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}
	if *rate <= 0 {
		fmt.Fprint(os.Stderr, parser.Usage(errors.New("--rate must be > 0")))
		os.Exit(2)
	}

	log.Init(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var source any = *device
	if *video != "" {
		source = *video
	}

	if err := run(ctx, *busTarget, *topic, source, *rate, *frameID, *loop); err != nil {
		log.Error("image-pub failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, target, topic string, source any, rate float64, frameID string, loop bool) error {
	logger := log.Component("image-pub")

	capture, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return fmt.Errorf("open %v: %w", source, err)
	}
	defer capture.Close()

	b, err := cli.OpenBus(ctx, target, log.Component("bus"))
	if err != nil {
		return err
	}
	defer b.Close()

	pub, err := b.Publisher(topic)
	if err != nil {
		return err
	}
	defer pub.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	logger.Info("publishing", "source", source, "topic", topic, "rate", rate)

	var seq uint32
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopped", "frames", seq)
			return nil
		case <-ticker.C:
		}

		if ok := capture.Read(&frame); !ok || frame.Empty() {
			if _, isFile := source.(string); isFile && loop {
				capture.Set(gocv.VideoCapturePosFrames, 0)
				continue
			}
			logger.Info("end of stream", "frames", seq)
			return nil
		}

		seq++
		msg, err := imageMessage(frame, msgs.Header{Seq: seq, Stamp: time.Now(), FrameID: frameID})
		if err != nil {
			return err
		}
		if err := pub.Publish(msg.Encode()); err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return err
			}
			logger.Debug("publish failed", "seq", seq, "error", err)
		}
	}
}

// imageMessage wraps an 8-bit BGR frame without converting it.
func imageMessage(frame gocv.Mat, header msgs.Header) (*msgs.Image, error) {
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("unsupported frame type %v", frame.Type())
	}
	data := frame.ToBytes()
	rows := frame.Rows()
	return &msgs.Image{
		Header:   header,
		Height:   rows,
		Width:    frame.Cols(),
		Encoding: msgs.EncodingBGR8,
		Step:     len(data) / rows,
		Data:     data,
	}, nil
}
