package onnx

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/teslashibe/go-yolobridge/pkg/detect/yolo"
)

// Preprocess letterboxes img and writes it into dst as a planar RGB tensor
// scaled to [0, 1]. dst must hold 3*lb.InW*lb.InH values.
func Preprocess(img image.Image, lb yolo.Letterbox, dst []float32) {
	resized := imaging.Resize(img, lb.NewW, lb.NewH, imaging.Linear)
	canvas := imaging.New(lb.InW, lb.InH, color.NRGBA{R: yolo.PadValue, G: yolo.PadValue, B: yolo.PadValue, A: 0xff})
	canvas = imaging.Paste(canvas, resized, image.Pt(lb.Left, lb.Top))

	plane := lb.InW * lb.InH
	for y := 0; y < lb.InH; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < lb.InW; x++ {
			i := y*lb.InW + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255
			dst[plane+i] = float32(p[1]) / 255
			dst[2*plane+i] = float32(p[2]) / 255
		}
	}
}
