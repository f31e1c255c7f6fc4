package vision

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/presence.report/internal/config"
)

// Gate rejection reasons surfaced to the operator feed.
const (
	ReasonTooBlurry    = "too blurry"
	ReasonFaceTooSmall = "face too small"
)

// QualityGate assesses face crops before they reach the recognizer.
// Rejecting bad crops early keeps the verification window from being
// polluted by unreliable predictions.
type QualityGate struct {
	minBlur          float64
	minFaceSize      int
	blurWeight       float64
	brightnessWeight float64
	contrastWeight   float64
}

// NewQualityGate builds a gate from pipeline configuration.
func NewQualityGate(cfg *config.PipelineConfig) *QualityGate {
	return &QualityGate{
		minBlur:          cfg.GetMinBlurVariance(),
		minFaceSize:      cfg.GetMinFaceSize(),
		blurWeight:       cfg.GetBlurWeight(),
		brightnessWeight: cfg.GetBrightnessWeight(),
		contrastWeight:   cfg.GetContrastWeight(),
	}
}

// Assess computes quality metrics for a face observation and decides
// whether it may proceed. Size is checked before sharpness so a distant
// face reports "face too small" rather than the blur that distance
// usually also causes.
func (g *QualityGate) Assess(obs FaceObservation) QualityScore {
	score := QualityScore{
		FaceSize: obs.Box.MinSide(),
	}

	if obs.Crop != nil {
		score.BlurVariance = LaplacianVariance(obs.Crop)
		score.Brightness = meanIntensity(obs.Crop)
		score.Contrast = contrastStdDev(obs.Crop)
	}

	// Brightness contributes most at mid-range intensity and falls off
	// toward pure black or pure white.
	score.Composite = g.blurWeight*clamp01(score.BlurVariance/(2*g.minBlur)) +
		g.brightnessWeight*(1-clamp01(math.Abs(score.Brightness-128)/128)) +
		g.contrastWeight*clamp01(score.Contrast/64)

	switch {
	case score.FaceSize < g.minFaceSize:
		score.Reason = ReasonFaceTooSmall
	case score.BlurVariance < g.minBlur:
		score.Reason = ReasonTooBlurry
	default:
		score.Accepted = true
	}

	return score
}

// LaplacianVariance returns the variance of the 4-neighbour Laplacian
// response over the interior of the image. Sharp images produce high
// variance; defocused or motion-blurred crops produce values near zero.
func LaplacianVariance(img *image.Gray) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	responses := make([]float64, 0, (w-2)*(h-2))
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			c := float64(img.GrayAt(x, y).Y)
			up := float64(img.GrayAt(x, y-1).Y)
			down := float64(img.GrayAt(x, y+1).Y)
			left := float64(img.GrayAt(x-1, y).Y)
			right := float64(img.GrayAt(x+1, y).Y)
			responses = append(responses, up+down+left+right-4*c)
		}
	}

	return stat.Variance(responses, nil)
}

// meanIntensity returns the average pixel value.
func meanIntensity(img *image.Gray) float64 {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return 0
	}

	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += float64(img.GrayAt(x, y).Y)
		}
	}
	return sum / float64(b.Dx()*b.Dy())
}

// contrastStdDev returns the standard deviation of pixel intensities.
func contrastStdDev(img *image.Gray) float64 {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return 0
	}

	pixels := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			pixels = append(pixels, float64(img.GrayAt(x, y).Y))
		}
	}

	return stat.StdDev(pixels, nil)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
