package vision

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/monitoring"
)

// Preprocessor normalises face crops into the fixed-size grayscale
// samples the recognizer was trained on.
type Preprocessor struct {
	outputSize int
	clipLimit  float64
	tileSize   int
	enhanced   bool
}

// NewPreprocessor builds a preprocessor from pipeline configuration.
func NewPreprocessor(cfg *config.PipelineConfig) *Preprocessor {
	return &Preprocessor{
		outputSize: cfg.GetOutputSize(),
		clipLimit:  cfg.GetCLAHEClipLimit(),
		tileSize:   cfg.GetCLAHETileSize(),
		enhanced:   cfg.GetEnhancedPipeline(),
	}
}

// Prepare converts a raw crop into a normalised sample: resize to the
// configured square, grayscale, CLAHE equalisation, then a light blur
// to suppress sensor noise. The enhanced variant adds sharpening and
// gamma correction for low-light rooms.
//
// If any enhancement stage fails the crop falls back to a plain
// resize-and-grayscale so a single bad frame never stalls the stream.
func (p *Preprocessor) Prepare(src image.Image) (out *image.Gray) {
	gray := grayscaleResize(src, p.outputSize)

	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("vision: preprocess enhancement failed, using plain resize: %v", r)
			out = gray
		}
	}()

	eq := claheEqualize(gray, p.clipLimit, p.tileSize)
	out = gaussianBlur3(eq)

	if p.enhanced {
		out = gammaCorrect(sharpen3(out), 1.2)
	}
	return out
}

// CropGray extracts a bounding box from a frame as 8-bit grayscale.
// The box is clamped to the frame; an empty intersection returns nil.
func CropGray(src image.Image, box Rect) *image.Gray {
	crop := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).Intersect(src.Bounds())
	if crop.Empty() {
		return nil
	}

	gray := image.NewGray(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	for y := 0; y < crop.Dy(); y++ {
		for x := 0; x < crop.Dx(); x++ {
			r, g, b, _ := src.At(crop.Min.X+x, crop.Min.Y+y).RGBA()
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray.SetGray(x, y, color.Gray{Y: uint8(luma + 0.5)})
		}
	}
	return gray
}

// grayscaleResize scales src to a size x size square and converts it
// to 8-bit grayscale using BT.601 luma weights.
func grayscaleResize(src image.Image, size int) *image.Gray {
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Over, nil)

	gray := image.NewGray(scaled.Bounds())
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := scaled.At(x, y).RGBA()
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray.SetGray(x, y, color.Gray{Y: uint8(luma + 0.5)})
		}
	}
	return gray
}

// claheEqualize applies contrast-limited adaptive histogram
// equalisation over a tiles x tiles grid. Each tile's histogram is
// clipped at clipLimit times the uniform bin height, the excess is
// redistributed, and pixel mappings are bilinearly interpolated
// between neighbouring tile centres to avoid visible tile seams.
func claheEqualize(img *image.Gray, clipLimit float64, tiles int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if tiles < 1 || w < tiles || h < tiles {
		panic("clahe: image smaller than tile grid")
	}

	tileW := w / tiles
	tileH := h / tiles

	// Per-tile equalisation lookup tables.
	luts := make([][][256]uint8, tiles)
	for ty := 0; ty < tiles; ty++ {
		luts[ty] = make([][256]uint8, tiles)
		for tx := 0; tx < tiles; tx++ {
			x0 := b.Min.X + tx*tileW
			y0 := b.Min.Y + ty*tileH
			x1, y1 := x0+tileW, y0+tileH
			if tx == tiles-1 {
				x1 = b.Max.X
			}
			if ty == tiles-1 {
				y1 = b.Max.Y
			}
			luts[ty][tx] = tileLUT(img, x0, y0, x1, y1, clipLimit)
		}
	}

	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := img.GrayAt(b.Min.X+x, b.Min.Y+y).Y

			// Position relative to tile centres.
			fx := (float64(x)+0.5)/float64(tileW) - 0.5
			fy := (float64(y)+0.5)/float64(tileH) - 0.5

			tx0 := int(math.Floor(fx))
			ty0 := int(math.Floor(fy))
			wx := fx - float64(tx0)
			wy := fy - float64(ty0)

			tx1 := clampInt(tx0+1, 0, tiles-1)
			ty1 := clampInt(ty0+1, 0, tiles-1)
			tx0 = clampInt(tx0, 0, tiles-1)
			ty0 = clampInt(ty0, 0, tiles-1)

			top := (1-wx)*float64(luts[ty0][tx0][v]) + wx*float64(luts[ty0][tx1][v])
			bottom := (1-wx)*float64(luts[ty1][tx0][v]) + wx*float64(luts[ty1][tx1][v])
			out.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: uint8((1-wy)*top + wy*bottom + 0.5)})
		}
	}
	return out
}

// tileLUT builds the clipped-histogram equalisation table for one tile.
func tileLUT(img *image.Gray, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[img.GrayAt(x, y).Y]++
		}
	}

	total := (x1 - x0) * (y1 - y0)
	clip := int(clipLimit * float64(total) / 256)
	if clip < 1 {
		clip = 1
	}

	excess := 0
	for i := range hist {
		if hist[i] > clip {
			excess += hist[i] - clip
			hist[i] = clip
		}
	}

	// Redistribute clipped mass uniformly.
	share := excess / 256
	remainder := excess % 256
	for i := range hist {
		hist[i] += share
		if i < remainder {
			hist[i]++
		}
	}

	var lut [256]uint8
	cum := 0
	for i := range hist {
		cum += hist[i]
		lut[i] = uint8(math.Round(255 * float64(cum) / float64(total)))
	}
	return lut
}

// gaussianBlur3 applies a 3x3 Gaussian kernel. Edge pixels are copied
// unchanged.
func gaussianBlur3(img *image.Gray) *image.Gray {
	return convolve3(img, [9]float64{
		1, 2, 1,
		2, 4, 2,
		1, 2, 1,
	}, 16)
}

// sharpen3 applies a 3x3 sharpening kernel.
func sharpen3(img *image.Gray) *image.Gray {
	return convolve3(img, [9]float64{
		0, -1, 0,
		-1, 5, -1,
		0, -1, 0,
	}, 1)
}

func convolve3(img *image.Gray, kernel [9]float64, divisor float64) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	copy(out.Pix, img.Pix)

	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			var sum float64
			k := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sum += kernel[k] * float64(img.GrayAt(x+dx, y+dy).Y)
					k++
				}
			}
			v := sum / divisor
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v + 0.5)})
		}
	}
	return out
}

// gammaCorrect brightens midtones with the given gamma via a lookup table.
func gammaCorrect(img *image.Gray, gamma float64) *image.Gray {
	var lut [256]uint8
	for i := range lut {
		lut[i] = uint8(255*math.Pow(float64(i)/255, 1/gamma) + 0.5)
	}

	out := image.NewGray(img.Bounds())
	for i, v := range img.Pix {
		out.Pix[i] = lut[v]
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
