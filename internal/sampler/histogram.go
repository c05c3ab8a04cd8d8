package sampler

import (
	"image"
	"math"
)

// Hue–saturation histogram layout. Hue uses the 0–180 half-degree scale
// common to video tooling, saturation 0–256.
const (
	HueBins = 50
	SatBins = 60

	hueRange = 180.0
	satRange = 256.0

	// DefaultSceneThreshold is the correlation below which two frames are
	// treated as different scenes.
	DefaultSceneThreshold = 0.90
)

// Histogram is a 2D hue–saturation histogram stored flat as
// index = hueBin*SatBins + satBin, min-max normalized to [0, 1].
type Histogram struct {
	Bins [HueBins * SatBins]float64
}

// ComputeHistogram builds the normalized hue–saturation histogram of img.
func ComputeHistogram(img image.Image) *Histogram {
	hist := &Histogram{}
	b := img.Bounds()

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			h, s := hueSat(uint8(r>>8), uint8(g>>8), uint8(bl>>8))

			hBin := int(h * HueBins / hueRange)
			sBin := int(s * SatBins / satRange)
			if hBin >= HueBins {
				hBin = HueBins - 1
			}
			if sBin >= SatBins {
				sBin = SatBins - 1
			}
			hist.Bins[hBin*SatBins+sBin]++
		}
	}

	hist.normalize()
	return hist
}

// normalize rescales the bins so the smallest is 0 and the largest 1.
func (h *Histogram) normalize() {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range h.Bins {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range h.Bins {
		if span == 0 {
			h.Bins[i] = 0
			continue
		}
		h.Bins[i] = (v - lo) / span
	}
}

// hueSat converts an 8-bit RGB pixel to hue in [0, 180) and saturation in
// [0, 255].
func hueSat(r, g, b uint8) (float64, float64) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	v := math.Max(rf, math.Max(gf, bf))
	mn := math.Min(rf, math.Min(gf, bf))
	delta := v - mn

	if v == 0 || delta == 0 {
		return 0, 0
	}
	s := 255 * delta / v

	var h float64
	switch v {
	case rf:
		h = 60 * (gf - bf) / delta
	case gf:
		h = 120 + 60*(bf-rf)/delta
	default:
		h = 240 + 60*(rf-gf)/delta
	}
	if h < 0 {
		h += 360
	}
	return h / 2, s
}

// Correlation computes the Pearson correlation coefficient between two
// histograms. Returns a value in [-1, 1] where 1 means identical
// distributions; histograms with no variance compare as identical.
func Correlation(a, b *Histogram) float64 {
	n := float64(len(a.Bins))

	var sumA, sumB float64
	for i := range a.Bins {
		sumA += a.Bins[i]
		sumB += b.Bins[i]
	}
	meanA := sumA / n
	meanB := sumB / n

	var num, denA, denB float64
	for i := range a.Bins {
		da := a.Bins[i] - meanA
		db := b.Bins[i] - meanB
		num += da * db
		denA += da * da
		denB += db * db
	}

	den := math.Sqrt(denA * denB)
	if den < 1e-10 {
		return 1.0
	}
	return num / den
}
