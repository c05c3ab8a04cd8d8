package frames

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"strings"

	"golang.org/x/image/draw"
)

// ScoreResolution is the square edge candidates are resized to before they
// are handed to a scorer.
const ScoreResolution = 224

// Supported still formats.
const (
	FormatJPG = "jpg"
	FormatPNG = "png"
)

// jpegQuality matches the near-lossless -qscale:v 2 used for ffmpeg stills.
const jpegQuality = 95

// NormalizeFormat maps a requested image format onto a supported one.
// Unknown values fall back to jpg and report false.
func NormalizeFormat(format string) (string, bool) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "jpg", "jpeg":
		return FormatJPG, true
	case "png":
		return FormatPNG, true
	default:
		return FormatJPG, false
	}
}

// ContentType returns the MIME type for a supported still format.
func ContentType(format string) string {
	if format == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Resize scales img to exactly w×h using bilinear interpolation.
func Resize(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// Save encodes img to path in the given format.
func Save(path string, img image.Image, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	switch format {
	case FormatPNG:
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// Load decodes a jpg or png still from disk.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
