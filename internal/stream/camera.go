// Package stream runs the live capture loop: frames in, attendance
// marks and events out.
package stream

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/banshee-data/presence.report/internal/vision"
)

var (
	// ErrCameraUnavailable indicates the capture device cannot be
	// opened.
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrCameraBusy indicates another consumer holds the camera.
	ErrCameraBusy = errors.New("camera already in use")
)

// Frame is one captured image with its sequence number.
type Frame struct {
	Seq   uint64
	At    time.Time
	Image image.Image
}

// Camera is the capture device backend.
type Camera interface {
	// Open acquires the device. Returns ErrCameraUnavailable if no
	// device is present.
	Open() error

	// ReadFrame blocks until the next frame or context cancellation.
	ReadFrame(ctx context.Context) (Frame, error)

	// Close releases the device.
	Close() error
}

// Detector finds face bounding boxes in a frame.
type Detector interface {
	Detect(img image.Image) ([]vision.Rect, error)
}
