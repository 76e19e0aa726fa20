package yolo

import "github.com/chewxy/math32"

// nms runs greedy per-class non-maximum suppression over cands, which must
// be sorted by decreasing score. A box is suppressed when its IoU with a
// kept box of the same class exceeds iouThres. At most maxDet boxes are kept
// when maxDet > 0.
func nms(cands []candidate, iouThres float32, maxDet int) []candidate {
	kept := make([]candidate, 0, min(len(cands), 64))
	suppressed := make([]bool, len(cands))

	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		if maxDet > 0 && len(kept) == maxDet {
			break
		}
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].classID != cands[i].classID {
				continue
			}
			if iou(cands[i].box, cands[j].box) > iouThres {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// iou returns the intersection over union of two corner-form boxes.
func iou(a, b [4]float32) float32 {
	ix1 := math32.Max(a[0], b[0])
	iy1 := math32.Max(a[1], b[1])
	ix2 := math32.Min(a[2], b[2])
	iy2 := math32.Min(a[3], b[3])

	inter := math32.Max(0, ix2-ix1) * math32.Max(0, iy2-iy1)
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
