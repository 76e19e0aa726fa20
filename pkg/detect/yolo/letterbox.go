// Package yolo turns raw YOLOv8 detection heads into detect.Detections. It is
// shared by every backend: backends only differ in how they letterbox the
// frame and run the network.
package yolo

import (
	"image"

	"github.com/chewxy/math32"
)

// DefaultInputSize is the square input of the stock YOLOv8 exports.
const DefaultInputSize = 640

// PadValue is the grey used for letterbox borders.
const PadValue = 114

// Letterbox describes how a source frame is scaled, preserving aspect ratio,
// and padded to the network input.
type Letterbox struct {
	SrcW, SrcH int     // source frame
	InW, InH   int     // network input
	Gain       float32 // source to input scale
	Left, Top  int     // padding before the scaled frame
	NewW, NewH int     // scaled frame before padding
}

// NewLetterbox fits a srcW x srcH frame into inW x inH with centered padding.
func NewLetterbox(srcW, srcH, inW, inH int) Letterbox {
	gain := math32.Min(float32(inW)/float32(srcW), float32(inH)/float32(srcH))
	newW := int(round(float32(srcW) * gain))
	newH := int(round(float32(srcH) * gain))

	dw := float32(inW-newW) / 2
	dh := float32(inH-newH) / 2

	return Letterbox{
		SrcW: srcW,
		SrcH: srcH,
		InW:  inW,
		InH:  inH,
		Gain: gain,
		Left: int(round(dw - 0.1)),
		Top:  int(round(dh - 0.1)),
		NewW: newW,
		NewH: newH,
	}
}

// Bottom and Right return the padding after the scaled frame.
func (l Letterbox) Bottom() int { return l.InH - l.NewH - l.Top }
func (l Letterbox) Right() int  { return l.InW - l.NewW - l.Left }

// Placement returns where the scaled frame sits inside the input.
func (l Letterbox) Placement() image.Rectangle {
	return image.Rect(l.Left, l.Top, l.Left+l.NewW, l.Top+l.NewH)
}

// Unscale maps a corner-form box from input space back to the source frame,
// clipped to its bounds.
func (l Letterbox) Unscale(x1, y1, x2, y2 float32) (float32, float32, float32, float32) {
	w, h := float32(l.SrcW), float32(l.SrcH)
	x1 = clamp((x1-float32(l.Left))/l.Gain, 0, w)
	x2 = clamp((x2-float32(l.Left))/l.Gain, 0, w)
	y1 = clamp((y1-float32(l.Top))/l.Gain, 0, h)
	y2 = clamp((y2-float32(l.Top))/l.Gain, 0, h)
	return x1, y1, x2, y2
}

func round(v float32) float32 {
	return math32.Floor(v + 0.5)
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
