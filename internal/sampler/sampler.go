// Package sampler decides which decoded frames of a segment become
// candidate stills. Two strategies share the Strategy interface: uniform
// sampling at a fixed frame skip, and scene-change sampling that keeps the
// best frame of every detected scene.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/segment"
	"github.com/fpang/highlight-generator/internal/video"
)

// Strategy names accepted in requests.
const (
	Uniform     = "uniform"
	SceneChange = "scene_change"
)

// ParseStrategy maps a requested strategy name onto a known one. Unknown
// names fall back to uniform and report false.
func ParseStrategy(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Uniform:
		return Uniform, true
	case SceneChange, "scene", "scene-change":
		return SceneChange, true
	default:
		return Uniform, false
	}
}

// Job is one segment's sampling work.
type Job struct {
	Source  video.Source
	Segment segment.Segment

	// Dir receives the stills written for this segment.
	Dir    string
	Format string

	// Resolution is the square edge stills are resized to.
	Resolution int

	// Terminal marks the last segment of the video.
	Terminal bool
}

// PipelineState is the scene-change state handed from one segment to the
// next: the baseline histogram and the candidates of the still-open scene.
// The zero value means "no scene open".
type PipelineState struct {
	Baseline *Histogram
	Pending  []frames.Candidate
}

// Empty reports whether no scene is open.
func (s PipelineState) Empty() bool {
	return s.Baseline == nil && len(s.Pending) == 0
}

// Output is what sampling one segment produced.
type Output struct {
	Candidates []frames.Candidate
	State      PipelineState

	// Read and Unreadable count the segment's frames that were decoded and
	// that could not be.
	Read       int64
	Unreadable int64
}

// Strategy samples one segment. Sequential strategies carry PipelineState
// across segments and must see segments in index order.
type Strategy interface {
	Name() string
	Sequential() bool
	Sample(ctx context.Context, job Job, state PipelineState) (Output, error)
}

// readSegment decodes the frames owned by job.Segment in order and hands
// each to visit. A decode failure ends the segment early; the frames that
// could not be read are counted and logged, not returned as an error.
func readSegment(ctx context.Context, job Job, visit func(video.Frame) error) (read, unreadable int64, err error) {
	fps := job.Source.FPS()
	first, last := segment.FrameRange(job.Segment, fps)
	expected := last - first

	logger := log.With().Int("segment", job.Segment.Index).Logger()

	if err := job.Source.SeekTo(job.Segment.StartMs); err != nil {
		logger.Error().Err(err).Int64("frames", expected).Msg("Unable to seek to segment start")
		return 0, expected, nil
	}

	for read < expected {
		if err := ctx.Err(); err != nil {
			return read, 0, err
		}

		f, err := job.Source.ReadNext()
		if err != nil {
			if err != io.EOF && !errors.Is(err, video.ErrFrameUnreadable) {
				return read, 0, err
			}
			unreadable = expected - read
			evt := logger.Debug()
			if unreadable > 1 {
				evt = logger.Error().Err(err)
			}
			evt.Int64("unreadable", unreadable).Int64("read", read).Msg("Unable to read remaining frames of segment")
			return read, unreadable, nil
		}
		if f.TimestampMs >= job.Segment.EndMs {
			break
		}

		read++
		if err := visit(f); err != nil {
			return read, 0, err
		}
	}
	return read, 0, nil
}

// saveStill resizes img for scoring and writes it to job.Dir.
func saveStill(job Job, ts int64, img image.Image) (frames.Candidate, error) {
	if job.Resolution > 0 {
		img = frames.Resize(img, job.Resolution, job.Resolution)
	}
	path := filepath.Join(job.Dir, frames.FileName(ts, job.Format))
	if err := frames.Save(path, img, job.Format); err != nil {
		return frames.Candidate{}, fmt.Errorf("save still %d: %w", ts, err)
	}
	return frames.Candidate{TimestampMs: ts, Path: path}, nil
}
