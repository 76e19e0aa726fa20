package onnx

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
)

// strides are the YOLOv8 detection head strides.
var strides = []int{8, 16, 32}

// inputShape resolves an NCHW image input, replacing dynamic dimensions
// with batch 1, 3 channels and size x size.
func inputShape(dims ort.Shape, size int) ([]int, error) {
	if len(dims) != 4 {
		return nil, fmt.Errorf("%w: input shape %v, want [1, 3, H, W]", detect.ErrUnsupportedModel, dims)
	}
	fallback := []int{1, 3, size, size}
	shape := make([]int, 4)
	for i, d := range dims {
		shape[i] = int(d)
		if d <= 0 {
			shape[i] = fallback[i]
		}
	}
	if shape[0] != 1 || shape[1] != 3 {
		return nil, fmt.Errorf("%w: input shape %v, want [1, 3, H, W]", detect.ErrUnsupportedModel, shape)
	}
	return shape, nil
}

// outputShape resolves a [1, 4+classes, anchors] head. Dynamic channel and
// anchor dimensions are derived from the class count and the input size.
func outputShape(dims ort.Shape, inW, inH, classes int) ([]int, error) {
	if len(dims) != 3 {
		return nil, fmt.Errorf("%w: output shape %v, want [1, 4+classes, anchors]", detect.ErrUnsupportedModel, dims)
	}
	shape := []int{1, int(dims[1]), int(dims[2])}
	if shape[1] <= 0 {
		shape[1] = 4 + classes
	}
	if shape[2] <= 0 {
		shape[2] = Anchors(inW, inH)
	}
	return shape, nil
}

// Anchors returns the number of YOLOv8 anchor points for an input size.
func Anchors(inW, inH int) int {
	n := 0
	for _, s := range strides {
		n += (inW / s) * (inH / s)
	}
	return n
}

func toShape(dims []int) ort.Shape {
	s := make(ort.Shape, len(dims))
	for i, d := range dims {
		s[i] = int64(d)
	}
	return s
}
