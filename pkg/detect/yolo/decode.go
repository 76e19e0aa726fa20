package yolo

import (
	"fmt"
	"sort"

	"github.com/teslashibe/go-yolobridge/pkg/detect"
)

// maxCandidates bounds the boxes handed to NMS.
const maxCandidates = 30000

// Output is a raw YOLOv8 head: 4 box channels (cx, cy, w, h in input pixels)
// followed by one score channel per class, for every anchor.
type Output struct {
	Data       []float32
	Channels   int  // 4 + number of classes
	Anchors    int  // e.g. 8400 for a 640x640 input
	Transposed bool // anchor-major [1, anchors, channels] instead of [1, channels, anchors]
}

// OutputFromShape wraps data with a [1, C, N] or [1, N, C] shape. The
// smaller of the two trailing dimensions is taken as the channel axis.
func OutputFromShape(data []float32, shape []int) (Output, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return Output{}, fmt.Errorf("%w: shape %v, want [1, 4+classes, anchors]", detect.ErrUnsupportedModel, shape)
	}
	out := Output{Data: data, Channels: shape[1], Anchors: shape[2]}
	if shape[1] > shape[2] {
		out = Output{Data: data, Channels: shape[2], Anchors: shape[1], Transposed: true}
	}
	if out.Channels < 5 {
		return Output{}, fmt.Errorf("%w: %d channels, want at least 5", detect.ErrUnsupportedModel, out.Channels)
	}
	if len(data) < out.Channels*out.Anchors {
		return Output{}, fmt.Errorf("%w: %d values for shape %v", detect.ErrUnsupportedModel, len(data), shape)
	}
	return out, nil
}

// Classes returns the number of class score channels.
func (o Output) Classes() int {
	return o.Channels - 4
}

func (o Output) at(channel, anchor int) float32 {
	if o.Transposed {
		return o.Data[anchor*o.Channels+channel]
	}
	return o.Data[channel*o.Anchors+anchor]
}

type candidate struct {
	box     [4]float32 // x1, y1, x2, y2 in input space
	score   float32
	classID int
}

// Decode applies the confidence threshold, the class filter, class-aware
// NMS and the max_det cap to out, and maps the surviving boxes back to the
// source frame. Detections come out in decreasing score order.
func Decode(out Output, opts detect.Options, lb Letterbox) []detect.Detection {
	conf := float32(opts.Conf)
	nc := out.Classes()

	var cands []candidate
	for i := 0; i < out.Anchors; i++ {
		best, cls := out.at(4, i), 0
		for c := 1; c < nc; c++ {
			if s := out.at(4+c, i); s > best {
				best, cls = s, c
			}
		}
		if best < conf {
			continue
		}
		if opts.Classes != nil && !opts.Classes[cls] {
			continue
		}

		cx, cy := out.at(0, i), out.at(1, i)
		w, h := out.at(2, i), out.at(3, i)
		cands = append(cands, candidate{
			box:     [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			score:   best,
			classID: cls,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}

	kept := nms(cands, float32(opts.IoU), opts.MaxDet)

	dets := make([]detect.Detection, 0, len(kept))
	for _, c := range kept {
		x1, y1, x2, y2 := lb.Unscale(c.box[0], c.box[1], c.box[2], c.box[3])
		dets = append(dets, detect.Detection{
			Box:     detect.BoxFromCorners(float64(x1), float64(y1), float64(x2), float64(y2)),
			ClassID: c.classID,
			Score:   float64(c.score),
		})
	}
	return dets
}
