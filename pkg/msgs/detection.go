package msgs

import (
	"encoding/json"
	"fmt"
)

// Point2D is a pixel position.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox2D is a center-form axis-aligned box in pixels.
type BoundingBox2D struct {
	Center Point2D `json:"center"`
	SizeX  float64 `json:"size_x"`
	SizeY  float64 `json:"size_y"`
}

// ObjectHypothesis is one (class id, confidence) guess for a detection.
type ObjectHypothesis struct {
	ID    int     `json:"id"`
	Score float64 `json:"score"`
}

// Detection2D is one detected object.
type Detection2D struct {
	BBox    BoundingBox2D      `json:"bbox"`
	Results []ObjectHypothesis `json:"results"`
}

// Detection2DArray is the detections of one frame, stamped with that frame's
// header.
type Detection2DArray struct {
	Header     Header        `json:"header"`
	Detections []Detection2D `json:"detections"`
}

// Encode serializes the array as JSON. A nil detection list is written as [].
func (a *Detection2DArray) Encode() ([]byte, error) {
	out := *a
	if out.Detections == nil {
		out.Detections = []Detection2D{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("msgs: encode detections: %w", err)
	}
	return data, nil
}

// DecodeDetections parses a JSON detection array.
func DecodeDetections(data []byte) (*Detection2DArray, error) {
	var a Detection2DArray
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &DecodeError{Field: "detections", Err: err}
	}
	return &a, nil
}
