package sampler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/video"
)

// SceneCloser picks the frame to keep from a closed scene. It owns the
// scene's stills from then on: the winner is returned, the rest are
// disposed of.
type SceneCloser func(ctx context.Context, scene []frames.Candidate) (frames.Candidate, error)

// SceneChangeSampler keeps the best frame of every scene, where a scene
// ends when a frame's hue–saturation histogram stops correlating with the
// scene's first frame. Scenes may span segments, so segments must be fed
// in order with the PipelineState returned for the previous one.
type SceneChangeSampler struct {
	Threshold float64
	// Stride samples every Stride-th frame; 1 looks at every frame.
	Stride int64
	Close  SceneCloser
}

// NewSceneChange returns a scene-change sampler. threshold <= 0 uses
// DefaultSceneThreshold and stride < 1 uses 1.
func NewSceneChange(threshold float64, stride int64, closer SceneCloser) *SceneChangeSampler {
	if threshold <= 0 {
		threshold = DefaultSceneThreshold
	}
	if stride < 1 {
		stride = 1
	}
	return &SceneChangeSampler{Threshold: threshold, Stride: stride, Close: closer}
}

func (s *SceneChangeSampler) Name() string     { return SceneChange }
func (s *SceneChangeSampler) Sequential() bool { return true }

func (s *SceneChangeSampler) Sample(ctx context.Context, job Job, state PipelineState) (Output, error) {
	if s.Close == nil {
		return Output{State: state}, fmt.Errorf("scene sampler has no closer")
	}

	st := PipelineState{
		Baseline: state.Baseline,
		Pending:  append([]frames.Candidate(nil), state.Pending...),
	}
	var out Output
	boundaries := 0

	closeScene := func() error {
		if len(st.Pending) == 0 {
			return nil
		}
		best, err := s.Close(ctx, st.Pending)
		if err != nil {
			return fmt.Errorf("close scene at %d: %w", st.Pending[0].TimestampMs, err)
		}
		out.Candidates = append(out.Candidates, best)
		st.Pending = nil
		return nil
	}

	var offset int64
	read, unreadable, err := readSegment(ctx, job, func(f video.Frame) error {
		defer func() { offset++ }()
		if offset%s.Stride != 0 {
			return nil
		}

		small := f.Image
		if job.Resolution > 0 {
			small = frames.Resize(f.Image, job.Resolution, job.Resolution)
		}
		h := ComputeHistogram(small)
		c, err := saveStill(Job{Dir: job.Dir, Format: job.Format}, f.TimestampMs, small)
		if err != nil {
			return err
		}

		if st.Baseline == nil {
			st.Baseline = h
			st.Pending = append(st.Pending, c)
			return nil
		}

		corr := Correlation(st.Baseline, h)
		if corr < s.Threshold {
			log.Debug().
				Int("segment", job.Segment.Index).
				Int64("timestamp", f.TimestampMs).
				Float64("correlation", corr).
				Int("sceneFrames", len(st.Pending)).
				Msg("Scene boundary")
			boundaries++
			if err := closeScene(); err != nil {
				return err
			}
			st.Baseline = h
		}
		st.Pending = append(st.Pending, c)
		return nil
	})
	out.Read, out.Unreadable = read, unreadable
	if err != nil {
		out.State = st
		return out, err
	}

	// The end of the video closes whatever scene is still open.
	if job.Terminal {
		if err := closeScene(); err != nil {
			out.State = st
			return out, err
		}
		st = PipelineState{}
	}
	out.State = st

	log.Debug().
		Int("segment", job.Segment.Index).
		Int64("frames", read).
		Int("boundaries", boundaries).
		Int("scenesKept", len(out.Candidates)).
		Int("carriedOver", len(st.Pending)).
		Msg("Scene sampling complete")
	return out, nil
}

var _ Strategy = (*SceneChangeSampler)(nil)
