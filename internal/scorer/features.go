package scorer

import (
	"image"
	"math"

	"github.com/fpang/highlight-generator/internal/frames"
)

// features are the per-image statistics both heuristic variants combine.
// Every field is normalized to [0, 1].
type features struct {
	Sharpness    float64
	Exposure     float64
	Contrast     float64
	Colorfulness float64
}

// analyze computes image statistics in a single pass over the luminance
// plane plus a Laplacian pass. Large images are first reduced to the
// scoring resolution.
func analyze(img image.Image) features {
	b := img.Bounds()
	if b.Dx() > 2*frames.ScoreResolution || b.Dy() > 2*frames.ScoreResolution {
		img = frames.Resize(img, frames.ScoreResolution, frames.ScoreResolution)
		b = img.Bounds()
	}

	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return features{}
	}
	n := float64(w * h)
	lum := make([]float64, w*h)

	var lumSum, lumSq float64
	var rgSum, rgSq, ybSum, ybSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r16, g16, b16, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			r, g, bl := float64(r16>>8), float64(g16>>8), float64(b16>>8)

			l := 0.299*r + 0.587*g + 0.114*bl
			lum[y*w+x] = l
			lumSum += l
			lumSq += l * l

			// Hasler–Süsstrunk opponent channels.
			rg := r - g
			yb := 0.5*(r+g) - bl
			rgSum += rg
			rgSq += rg * rg
			ybSum += yb
			ybSq += yb * yb
		}
	}

	mean := lumSum / n
	std := math.Sqrt(math.Max(0, lumSq/n-mean*mean))

	rgMean, ybMean := rgSum/n, ybSum/n
	rgStd := math.Sqrt(math.Max(0, rgSq/n-rgMean*rgMean))
	ybStd := math.Sqrt(math.Max(0, ybSq/n-ybMean*ybMean))
	colorfulness := math.Hypot(rgStd, ybStd) + 0.3*math.Hypot(rgMean, ybMean)

	return features{
		Sharpness:    math.Min(1, laplacianVariance(lum, w, h)/500),
		Exposure:     1 - math.Min(1, math.Abs(mean-128)/128),
		Contrast:     math.Min(1, std/60),
		Colorfulness: math.Min(1, colorfulness/100),
	}
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over the
// interior pixels, a standard focus measure.
func laplacianVariance(lum []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sq float64
	count := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			v := lum[i-w] + lum[i+w] + lum[i-1] + lum[i+1] - 4*lum[i]
			sum += v
			sq += v * v
			count++
		}
	}
	m := sum / float64(count)
	return sq/float64(count) - m*m
}

// combine maps features onto the 1–10 scale for a variant.
func combine(f features, v Variant) float64 {
	var s float64
	switch v {
	case Technical:
		s = 0.5*f.Sharpness + 0.25*f.Exposure + 0.25*f.Contrast
	default:
		s = 0.4*f.Colorfulness + 0.3*f.Contrast + 0.3*f.Exposure
	}
	return clampScore(1 + 9*s)
}
