// Package segment splits a video timeline into fixed-length time segments.
package segment

import (
	"errors"
	"fmt"

	"github.com/fpang/highlight-generator/internal/video"
)

// ErrInvalidDuration is returned for videos with no usable duration or
// frame rate.
var ErrInvalidDuration = errors.New("invalid video duration")

// MinLengthMinutes is the shortest allowed segment.
const MinLengthMinutes = 1

// Segment is a half-open time slice [StartMs, EndMs) of the video.
type Segment struct {
	Index   int
	StartMs int64
	EndMs   int64
}

// DurationMs returns the segment length in ms.
func (s Segment) DurationMs() int64 { return s.EndMs - s.StartMs }

func (s Segment) String() string {
	return fmt.Sprintf("segment %d [%d, %d)", s.Index, s.StartMs, s.EndMs)
}

// Split tiles [0, durationMs) into segments of lengthMinutes each; the last
// one is truncated to what remains. lengthMinutes below the minimum is
// raised to it.
func Split(durationMs int64, fps float64, lengthMinutes int) ([]Segment, error) {
	if durationMs <= 0 || fps <= 0 {
		return nil, fmt.Errorf("%w: duration=%dms fps=%v", ErrInvalidDuration, durationMs, fps)
	}
	if lengthMinutes < MinLengthMinutes {
		lengthMinutes = MinLengthMinutes
	}

	step := int64(lengthMinutes) * 60 * 1000
	segs := make([]Segment, 0, (durationMs+step-1)/step)
	for start := int64(0); start < durationMs; start += step {
		end := start + step
		if end > durationMs {
			end = durationMs
		}
		segs = append(segs, Segment{Index: len(segs), StartMs: start, EndMs: end})
	}
	return segs, nil
}

// FrameRange returns the half-open range of frame indices [first, last)
// whose timestamps fall inside seg. Adjacent segments never share a frame.
func FrameRange(seg Segment, fps float64) (first, last int64) {
	return video.FirstFrameAt(seg.StartMs, fps), video.FirstFrameAt(seg.EndMs, fps)
}

// FrameCount returns how many frames seg owns.
func FrameCount(seg Segment, fps float64) int64 {
	first, last := FrameRange(seg, fps)
	return last - first
}
