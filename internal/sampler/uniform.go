package sampler

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/segment"
	"github.com/fpang/highlight-generator/internal/video"
)

// DefaultSamplesPerSegment is how many stills a uniform sampler aims for
// per segment when no rate is configured: one per second of a one-minute
// segment.
const DefaultSamplesPerSegment = 60

// UniformSampler keeps every skip-th frame of a segment. Segments are
// independent, so any number can run concurrently.
type UniformSampler struct {
	// PerSegment is the target number of stills per segment.
	PerSegment int
	// Skip, when positive, overrides the skip derived from PerSegment.
	Skip int64
}

// NewUniform returns a uniform sampler targeting perSegment stills per
// segment, or a fixed frame skip when skip > 0.
func NewUniform(perSegment int, skip int64) *UniformSampler {
	if perSegment < 1 {
		perSegment = DefaultSamplesPerSegment
	}
	return &UniformSampler{PerSegment: perSegment, Skip: skip}
}

func (u *UniformSampler) Name() string     { return Uniform }
func (u *UniformSampler) Sequential() bool { return false }

// SkipFor returns ceil(segFrames / rate), at least 1.
func SkipFor(segFrames int64, rate int) int64 {
	if rate < 1 || segFrames < 1 {
		return 1
	}
	skip := (segFrames + int64(rate) - 1) / int64(rate)
	if skip < 1 {
		return 1
	}
	return skip
}

func (u *UniformSampler) Sample(ctx context.Context, job Job, state PipelineState) (Output, error) {
	segFrames := segment.FrameCount(job.Segment, job.Source.FPS())
	skip := u.Skip
	if skip < 1 {
		skip = SkipFor(segFrames, u.PerSegment)
	}

	var out Output
	var offset int64
	read, unreadable, err := readSegment(ctx, job, func(f video.Frame) error {
		defer func() { offset++ }()
		if offset%skip != 0 {
			return nil
		}
		c, err := saveStill(job, f.TimestampMs, f.Image)
		if err != nil {
			return err
		}
		out.Candidates = append(out.Candidates, c)
		return nil
	})
	out.Read, out.Unreadable = read, unreadable
	if err != nil {
		return out, err
	}

	log.Debug().
		Int("segment", job.Segment.Index).
		Int64("frames", segFrames).
		Int64("skip", skip).
		Int("candidates", len(out.Candidates)).
		Msg("Uniform sampling complete")
	return out, nil
}

var _ Strategy = (*UniformSampler)(nil)
