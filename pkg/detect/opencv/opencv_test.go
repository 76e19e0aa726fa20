package opencv

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
	"github.com/teslashibe/go-yolobridge/pkg/detect/yolo"
)

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, yolo.DefaultInputSize, DefaultConfig().InputSize)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.onnx"), DefaultConfig())
	assert.ErrorIs(t, err, detect.ErrModelNotFound)
}

func TestLoader_NotFound(t *testing.T) {
	_, err := NewLoader(Config{}).Load(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.ErrorIs(t, err, detect.ErrModelNotFound)
}

func TestPredict_EmptyImage(t *testing.T) {
	_, err := (&Model{}).Predict(image.NewRGBA(image.Rect(0, 0, 0, 0)), detect.Options{})
	assert.ErrorIs(t, err, detect.ErrEmptyImage)
}

func TestLetterbox(t *testing.T) {
	// 16x8 frame scaled by 0.5 into an 8x8 input: 8x4 image, 2 rows of
	// padding above and below.
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 8, 16, gocv.MatTypeCV8UC3)
	defer src.Close()

	lb := yolo.NewLetterbox(16, 8, 8, 8)
	require.Equal(t, 2, lb.Top)
	require.Equal(t, 2, lb.Bottom())
	require.Equal(t, 0, lb.Left)

	padded := letterbox(src, lb)
	defer padded.Close()

	assert.Equal(t, 8, padded.Rows())
	assert.Equal(t, 8, padded.Cols())
	assert.Equal(t, gocv.MatTypeCV8UC3, padded.Type())

	pad := gocv.Vecb{yolo.PadValue, yolo.PadValue, yolo.PadValue}
	frame := gocv.Vecb{10, 20, 30}
	assert.Equal(t, pad, padded.GetVecbAt(0, 0))
	assert.Equal(t, pad, padded.GetVecbAt(1, 7))
	assert.Equal(t, frame, padded.GetVecbAt(2, 0))
	assert.Equal(t, frame, padded.GetVecbAt(5, 7))
	assert.Equal(t, pad, padded.GetVecbAt(6, 3))
	assert.Equal(t, pad, padded.GetVecbAt(7, 7))
}
