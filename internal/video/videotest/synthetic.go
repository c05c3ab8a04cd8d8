// Package videotest provides an in-memory video.Source for tests.
package videotest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync/atomic"

	"github.com/fpang/highlight-generator/internal/video"
)

// Synthetic is a deterministic video whose frame i is filled with Color(i).
type Synthetic struct {
	Rate   float64
	Frames int64
	Width  int
	Height int
	Color  func(i int64) color.RGBA

	// FailFrom makes every read at or after this frame index fail with
	// video.ErrFrameUnreadable. Zero disables it.
	FailFrom int64

	opens atomic.Int64
}

// New returns a Synthetic of the given length with small 64×36 frames.
func New(fps float64, frames int64, c func(i int64) color.RGBA) *Synthetic {
	return &Synthetic{Rate: fps, Frames: frames, Width: 64, Height: 36, Color: c}
}

// Solid returns a color function that always yields c.
func Solid(c color.RGBA) func(int64) color.RGBA {
	return func(int64) color.RGBA { return c }
}

// Opener returns a video.Opener handing out independent readers over s.
func (s *Synthetic) Opener() video.Opener {
	return func(ctx context.Context, path string) (video.Source, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.opens.Add(1)
		return &reader{v: s}, nil
	}
}

// Opens reports how many readers were opened.
func (s *Synthetic) Opens() int64 { return s.opens.Load() }

// Unreadable is an Opener that always fails.
func Unreadable(ctx context.Context, path string) (video.Source, error) {
	return nil, fmt.Errorf("%w: %s", video.ErrUnreadable, path)
}

type reader struct {
	v        *Synthetic
	next     int64
	released bool
}

func (r *reader) FPS() float64      { return r.v.Rate }
func (r *reader) FrameCount() int64 { return r.v.Frames }

func (r *reader) DurationMs() int64 {
	if r.v.Rate <= 0 {
		return 0
	}
	return int64(float64(r.v.Frames) * 1000 / r.v.Rate)
}

func (r *reader) SeekTo(ms int64) error {
	if r.released {
		return fmt.Errorf("%w: source released", video.ErrFrameUnreadable)
	}
	r.next = video.FirstFrameAt(ms, r.v.Rate)
	return nil
}

func (r *reader) ReadNext() (video.Frame, error) {
	if r.released {
		return video.Frame{}, fmt.Errorf("%w: source released", video.ErrFrameUnreadable)
	}
	if r.next >= r.v.Frames {
		return video.Frame{}, io.EOF
	}
	if r.v.FailFrom > 0 && r.next >= r.v.FailFrom {
		return video.Frame{}, fmt.Errorf("%w: frame %d", video.ErrFrameUnreadable, r.next)
	}

	img := image.NewRGBA(image.Rect(0, 0, r.v.Width, r.v.Height))
	c := r.v.Color(r.next)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, 255
	}

	f := video.Frame{
		Index:       r.next,
		TimestampMs: video.TimestampAt(r.next, r.v.Rate),
		Image:       img,
	}
	r.next++
	return f, nil
}

func (r *reader) Release() error {
	r.released = true
	return nil
}
