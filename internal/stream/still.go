package stream

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/vision"
)

// DirCamera replays still images from a directory as a frame stream.
// Used in dev mode and by tests; a deployment with a live camera
// provides its own Camera implementation.
type DirCamera struct {
	Dir      string
	Interval time.Duration
	Loop     bool
	Clock    timeutil.Clock

	paths []string
	idx   int
	seq   uint64
}

// Open scans the directory for image files.
func (c *DirCamera) Open() error {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	c.paths = c.paths[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".jpg", ".jpeg", ".png":
			c.paths = append(c.paths, filepath.Join(c.Dir, e.Name()))
		}
	}
	sort.Strings(c.paths)

	if len(c.paths) == 0 {
		return fmt.Errorf("%w: no images in %s", ErrCameraUnavailable, c.Dir)
	}

	c.idx = 0
	return nil
}

// ReadFrame decodes the next image, pacing frames by the configured
// interval. When the directory is exhausted and Loop is off, it blocks
// until the context is cancelled like a camera with nothing in view.
func (c *DirCamera) ReadFrame(ctx context.Context) (Frame, error) {
	if c.idx >= len(c.paths) {
		if !c.Loop {
			<-ctx.Done()
			return Frame{}, ctx.Err()
		}
		c.idx = 0
	}

	path := c.paths[c.idx]
	c.idx++

	f, err := os.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to open frame %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}

	if c.Interval > 0 {
		c.Clock.Sleep(c.Interval)
	}

	c.seq++
	return Frame{Seq: c.seq, At: c.Clock.Now(), Image: img}, nil
}

// Close releases nothing; directory replay holds no device.
func (c *DirCamera) Close() error { return nil }

// FullFrameDetector reports the whole frame as a single face box.
// Suitable for dev-mode replay of pre-cropped face images; a real
// deployment plugs in a cascade or DNN detector.
type FullFrameDetector struct{}

// Detect returns one box covering the frame.
func (FullFrameDetector) Detect(img image.Image) ([]vision.Rect, error) {
	b := img.Bounds()
	return []vision.Rect{{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()}}, nil
}
