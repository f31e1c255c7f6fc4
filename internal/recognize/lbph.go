package recognize

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"sync"
)

// LBP histogram layout. An 8x8 grid of 256-bin local binary pattern
// histograms is the classic face recognition configuration.
const (
	lbpGrid = 8
	lbpBins = 256
)

type lbphSample struct {
	Label string    `json:"label"`
	Hist  []float64 `json:"hist"`
}

// LBPH is a local-binary-pattern-histogram face classifier. Each
// enrolled sample is stored as a grid of normalised LBP histograms;
// prediction returns the nearest stored sample by chi-square distance.
// Safe for concurrent use.
type LBPH struct {
	mu      sync.RWMutex
	samples []lbphSample
}

// NewLBPH creates an empty classifier.
func NewLBPH() *LBPH {
	return &LBPH{}
}

// Train adds preprocessed samples for a label. Training is additive;
// call again to enroll more people or more samples.
func (l *LBPH) Train(label string, samples []*image.Gray) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range samples {
		l.samples = append(l.samples, lbphSample{Label: label, Hist: lbpHistogram(s)})
	}
}

// Ready reports whether any samples are enrolled.
func (l *LBPH) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples) > 0
}

// Labels returns the distinct enrolled labels.
func (l *LBPH) Labels() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]bool)
	var labels []string
	for _, s := range l.samples {
		if !seen[s.Label] {
			seen[s.Label] = true
			labels = append(labels, s.Label)
		}
	}
	return labels
}

// Predict returns the nearest enrolled sample by chi-square distance.
func (l *LBPH) Predict(sample *image.Gray) (Prediction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.samples) == 0 {
		return Prediction{}, ErrModelUnavailable
	}

	hist := lbpHistogram(sample)

	best := Prediction{Distance: math.MaxFloat64}
	for _, s := range l.samples {
		d := chiSquare(hist, s.Hist)
		if d < best.Distance {
			best = Prediction{Label: s.Label, Distance: d}
		}
	}
	return best, nil
}

// Save writes the model to path atomically.
func (l *LBPH) Save(path string) error {
	l.mu.RLock()
	data, err := json.Marshal(l.samples)
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace model: %w", err)
	}
	return nil
}

// LoadLBPH reads a model from path. A missing file returns an empty,
// not-ready classifier so the appliance can start unenrolled.
func LoadLBPH(path string) (*LBPH, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewLBPH(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	var samples []lbphSample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	for i, s := range samples {
		if len(s.Hist) != lbpGrid*lbpGrid*lbpBins {
			return nil, fmt.Errorf("model %s: sample %d (%q) has %d histogram bins, want %d",
				path, i, s.Label, len(s.Hist), lbpGrid*lbpGrid*lbpBins)
		}
	}
	return &LBPH{samples: samples}, nil
}

// lbpHistogram computes the grid-of-histograms feature vector.
func lbpHistogram(img *image.Gray) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	hist := make([]float64, lbpGrid*lbpGrid*lbpBins)
	if w < 3 || h < 3 {
		return hist
	}

	cellW := float64(w) / lbpGrid
	cellH := float64(h) / lbpGrid

	counts := make([]float64, lbpGrid*lbpGrid)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			code := lbpCode(img, b.Min.X+x, b.Min.Y+y)

			cx := int(float64(x) / cellW)
			cy := int(float64(y) / cellH)
			if cx >= lbpGrid {
				cx = lbpGrid - 1
			}
			if cy >= lbpGrid {
				cy = lbpGrid - 1
			}

			cell := cy*lbpGrid + cx
			hist[cell*lbpBins+int(code)]++
			counts[cell]++
		}
	}

	// Normalise each cell so face size does not dominate distance.
	for cell, n := range counts {
		if n == 0 {
			continue
		}
		for bin := 0; bin < lbpBins; bin++ {
			hist[cell*lbpBins+bin] /= n
		}
	}
	return hist
}

// lbpCode compares the 8 neighbours of a pixel to its centre,
// clockwise from the top-left, producing one byte.
func lbpCode(img *image.Gray, x, y int) uint8 {
	c := img.GrayAt(x, y).Y

	var code uint8
	neighbours := [8][2]int{
		{-1, -1}, {0, -1}, {1, -1},
		{1, 0},
		{1, 1}, {0, 1}, {-1, 1},
		{-1, 0},
	}
	for i, d := range neighbours {
		if img.GrayAt(x+d[0], y+d[1]).Y >= c {
			code |= 1 << uint(i)
		}
	}
	return code
}

// chiSquare is the chi-square distance between two histograms.
func chiSquare(a, b []float64) float64 {
	var sum float64
	for i := range a {
		s := a[i] + b[i]
		if s == 0 {
			continue
		}
		d := a[i] - b[i]
		sum += d * d / s
	}
	return sum
}
