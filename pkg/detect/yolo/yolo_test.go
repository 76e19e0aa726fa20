package yolo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
)

type anchor struct {
	cx, cy, w, h float32
	scores       []float32
}

// head builds a channel-major [1, 4+nc, n] output.
func head(nc int, anchors ...anchor) Output {
	n := len(anchors)
	ch := 4 + nc
	data := make([]float32, ch*n)
	for i, a := range anchors {
		data[0*n+i] = a.cx
		data[1*n+i] = a.cy
		data[2*n+i] = a.w
		data[3*n+i] = a.h
		for c, s := range a.scores {
			data[(4+c)*n+i] = s
		}
	}
	return Output{Data: data, Channels: ch, Anchors: n}
}

// identity maps input space 1:1 onto a 640x640 source.
var identity = NewLetterbox(640, 640, 640, 640)

func opts(conf float64) detect.Options {
	return detect.Options{Conf: conf, IoU: 0.45, MaxDet: 300}
}

func TestDecode_ConfidenceThreshold(t *testing.T) {
	out := head(1,
		anchor{100, 100, 20, 20, []float32{0.9}},
		anchor{300, 300, 20, 20, []float32{0.4}},
		anchor{500, 500, 20, 20, []float32{0.6}},
	)

	dets := Decode(out, opts(0.5), identity)

	require.Len(t, dets, 2)
	assert.InDelta(t, 0.9, dets[0].Score, 1e-6)
	assert.InDelta(t, 0.6, dets[1].Score, 1e-6)
	assert.InDelta(t, 100, dets[0].Box.CX, 1e-3)
	assert.InDelta(t, 500, dets[1].Box.CX, 1e-3)
}

func TestDecode_ThresholdIsInclusive(t *testing.T) {
	out := head(1, anchor{100, 100, 20, 20, []float32{0.5}})
	assert.Len(t, Decode(out, opts(0.5), identity), 1)
}

func TestDecode_ClassFilter(t *testing.T) {
	out := head(3,
		anchor{100, 100, 20, 20, []float32{0.9, 0, 0}},
		anchor{200, 200, 20, 20, []float32{0, 0.8, 0}},
		anchor{300, 300, 20, 20, []float32{0, 0, 0.7}},
		anchor{400, 400, 20, 20, []float32{0.1, 0.95, 0.2}},
	)
	o := opts(0.25)
	o.Classes = map[int]bool{0: true, 2: true}

	dets := Decode(out, o, identity)

	require.Len(t, dets, 2)
	for _, d := range dets {
		assert.Contains(t, []int{0, 2}, d.ClassID)
	}
}

func TestDecode_EmptyClassList(t *testing.T) {
	out := head(1, anchor{100, 100, 20, 20, []float32{0.9}})
	o := opts(0.25)
	o.Classes = map[int]bool{}
	assert.Empty(t, Decode(out, o, identity))
}

func TestDecode_ArgmaxClass(t *testing.T) {
	out := head(3, anchor{100, 100, 20, 20, []float32{0.3, 0.1, 0.7}})
	dets := Decode(out, opts(0.25), identity)
	require.Len(t, dets, 1)
	assert.Equal(t, 2, dets[0].ClassID)
	assert.InDelta(t, 0.7, dets[0].Score, 1e-6)
}

func TestDecode_NMSIsClassAware(t *testing.T) {
	out := head(2,
		anchor{100, 100, 40, 40, []float32{0.9, 0}},
		anchor{102, 102, 40, 40, []float32{0.8, 0}}, // overlaps #0, same class
		anchor{101, 101, 40, 40, []float32{0, 0.7}}, // overlaps #0, other class
		anchor{400, 400, 40, 40, []float32{0.6, 0}}, // far away
	)

	dets := Decode(out, opts(0.25), identity)

	require.Len(t, dets, 3)
	assert.Equal(t, []int{0, 1, 0}, []int{dets[0].ClassID, dets[1].ClassID, dets[2].ClassID})
	assert.InDelta(t, 0.9, dets[0].Score, 1e-6)
	assert.InDelta(t, 0.7, dets[1].Score, 1e-6)
}

func TestDecode_IoUThreshold(t *testing.T) {
	out := head(1,
		anchor{100, 100, 40, 40, []float32{0.9}},
		anchor{110, 100, 40, 40, []float32{0.8}}, // IoU 0.6
	)

	o := opts(0.25)
	o.IoU = 0.7
	assert.Len(t, Decode(out, o, identity), 2)

	o.IoU = 0.5
	assert.Len(t, Decode(out, o, identity), 1)
}

func TestDecode_MaxDet(t *testing.T) {
	var anchors []anchor
	for i := 0; i < 10; i++ {
		anchors = append(anchors, anchor{float32(30 + 60*i), 100, 20, 20, []float32{0.5 + float32(i)*0.01}})
	}
	out := head(1, anchors...)

	o := opts(0.25)
	o.MaxDet = 3
	dets := Decode(out, o, identity)
	require.Len(t, dets, 3)
	assert.InDelta(t, 0.59, dets[0].Score, 1e-6)

	o.MaxDet = 0
	assert.Len(t, Decode(out, o, identity), 10)
}

func TestDecode_Transposed(t *testing.T) {
	// [1, 2 anchors, 5 channels]
	data := []float32{
		100, 100, 20, 20, 0.9,
		300, 300, 20, 20, 0.1,
	}
	out, err := OutputFromShape(data, []int{1, 2, 5})
	require.Error(t, err, "2 anchors < 5 channels reads as channel-major with too few channels")

	out = Output{Data: data, Channels: 5, Anchors: 2, Transposed: true}
	dets := Decode(out, opts(0.5), identity)
	require.Len(t, dets, 1)
	assert.InDelta(t, 100, dets[0].Box.CX, 1e-3)
}

func TestOutputFromShape(t *testing.T) {
	data := make([]float32, 84*8400)

	out, err := OutputFromShape(data, []int{1, 84, 8400})
	require.NoError(t, err)
	assert.Equal(t, 80, out.Classes())
	assert.False(t, out.Transposed)

	out, err = OutputFromShape(data, []int{1, 8400, 84})
	require.NoError(t, err)
	assert.True(t, out.Transposed)
	assert.Equal(t, 8400, out.Anchors)

	_, err = OutputFromShape(data, []int{84, 8400})
	assert.ErrorIs(t, err, detect.ErrUnsupportedModel)

	_, err = OutputFromShape(data[:10], []int{1, 84, 8400})
	assert.ErrorIs(t, err, detect.ErrUnsupportedModel)
}

func TestLetterbox(t *testing.T) {
	lb := NewLetterbox(1280, 720, 640, 640)

	assert.InDelta(t, 0.5, lb.Gain, 1e-6)
	assert.Equal(t, 640, lb.NewW)
	assert.Equal(t, 360, lb.NewH)
	assert.Equal(t, 0, lb.Left)
	assert.Equal(t, 140, lb.Top)
	assert.Equal(t, 140, lb.Bottom())
	assert.Equal(t, 0, lb.Right())

	x1, y1, x2, y2 := lb.Unscale(100, 140, 200, 240)
	assert.InDelta(t, 200, x1, 1e-3)
	assert.InDelta(t, 0, y1, 1e-3)
	assert.InDelta(t, 400, x2, 1e-3)
	assert.InDelta(t, 200, y2, 1e-3)

	// Boxes reaching into the padding are clipped to the frame.
	_, y1, _, y2 = lb.Unscale(0, 100, 10, 600)
	assert.Equal(t, float32(0), y1)
	assert.Equal(t, float32(720), y2)
}

func TestDecode_UnscalesToSource(t *testing.T) {
	lb := NewLetterbox(1280, 720, 640, 640)
	out := head(1, anchor{320, 320, 64, 36, []float32{0.9}})

	dets := Decode(out, opts(0.25), lb)
	require.Len(t, dets, 1)
	assert.InDelta(t, 640, dets[0].Box.CX, 1e-3)
	assert.InDelta(t, 360, dets[0].Box.CY, 1e-3)
	assert.InDelta(t, 128, dets[0].Box.W, 1e-3)
	assert.InDelta(t, 72, dets[0].Box.H, 1e-3)
}
