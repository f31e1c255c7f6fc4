package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/recognize"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/vision"
)

// Consecutive read failures tolerated before the runner gives up on
// the device.
const maxReadFailures = 30

// Runner owns the capture loop. Only one loop may hold the camera at
// a time; a second Run returns ErrCameraBusy.
type Runner struct {
	Camera   Camera
	Detector Detector
	Pipeline *Pipeline
	Clock    timeutil.Clock

	running atomic.Bool
}

// Run acquires the camera and processes frames until the context is
// cancelled or the device fails persistently.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrCameraBusy
	}
	defer r.running.Store(false)

	if !r.Pipeline.Recognizer.Ready() {
		return recognize.ErrModelUnavailable
	}

	if err := r.Camera.Open(); err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer r.Camera.Close()

	// In-memory positions and verification windows do not survive a
	// stop. The ledger keeps whatever was already written.
	defer r.Pipeline.Tracker.Reset()
	defer r.Pipeline.Verifier.Reset()

	monitoring.Logf("stream: capture loop started")
	defer monitoring.Logf("stream: capture loop stopped")

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := r.Camera.ReadFrame(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			failures++
			if failures >= maxReadFailures {
				return fmt.Errorf("camera failed %d consecutive reads: %w", failures, err)
			}
			monitoring.Logf("stream: frame read failed (%d/%d): %v", failures, maxReadFailures, err)
			r.Clock.Sleep(100 * time.Millisecond)
			continue
		}
		failures = 0

		r.processFrame(ctx, frame)
	}
}

// Running reports whether a capture loop currently holds the camera.
func (r *Runner) Running() bool {
	return r.running.Load()
}

func (r *Runner) processFrame(ctx context.Context, frame Frame) {
	detectStart := r.Clock.Now()
	boxes, err := r.Detector.Detect(frame.Image)
	if err != nil {
		monitoring.Logf("stream: detection failed on frame %d: %v", frame.Seq, err)
		return
	}
	if len(boxes) == 0 {
		return
	}

	observations := make([]vision.FaceObservation, 0, len(boxes))
	for _, box := range boxes {
		crop := vision.CropGray(frame.Image, box)
		if crop == nil {
			continue
		}
		observations = append(observations, vision.FaceObservation{
			Box:      box,
			Crop:     crop,
			FrameAt:  frame.At,
			FrameSeq: frame.Seq,
		})
	}

	r.Pipeline.ProcessFrame(ctx, observations)

	if elapsed := r.Clock.Since(detectStart); elapsed > 500*time.Millisecond {
		monitoring.Logf("stream: slow frame %d: %d faces in %s", frame.Seq, len(boxes), elapsed)
	}
}
