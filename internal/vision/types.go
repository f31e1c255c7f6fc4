// Package vision provides face observation types, quality gating, and
// image preprocessing for the recognition pipeline.
package vision

import (
	"image"
	"time"
)

// Rect is an axis-aligned bounding box in frame coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// CenterX returns the horizontal center of the box.
func (r Rect) CenterX() float64 {
	return float64(r.X) + float64(r.Width)/2
}

// CenterY returns the vertical center of the box.
func (r Rect) CenterY() float64 {
	return float64(r.Y) + float64(r.Height)/2
}

// MinSide returns the shorter side of the box.
func (r Rect) MinSide() int {
	if r.Width < r.Height {
		return r.Width
	}
	return r.Height
}

// FaceObservation is a single detected face crop with its position
// in the source frame.
type FaceObservation struct {
	Box      Rect
	Crop     *image.Gray
	FrameAt  time.Time
	FrameSeq uint64
}

// QualityScore is the result of assessing a face crop before it is
// allowed into the recognizer.
type QualityScore struct {
	BlurVariance float64 `json:"blur_variance"`
	FaceSize     int     `json:"face_size"`
	Brightness   float64 `json:"brightness"`
	Contrast     float64 `json:"contrast"`
	Composite    float64 `json:"composite"`

	// Accepted reports whether the observation passed the gate.
	// Reason is empty when Accepted is true.
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
