package highlights

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/sampler"
	"github.com/fpang/highlight-generator/internal/segment"
)

// Request is one highlight extraction.
type Request struct {
	// ID keys the staging tree and image references. Generated when empty.
	ID        string
	VideoPath string
	// OutputDir receives the full-resolution highlights. Defaults to
	// Config.OutputDir/<ID>.
	OutputDir string

	SegmentLengthMinutes int
	ImagesPerSegment     int
	SummaryImageCount    int
	Strategy             string
	Format               string
}

// normalize clamps numeric parameters to their minimum and maps unknown
// strategy and format names onto the first allowed value, warning about
// each change.
func (r Request) normalize(logger zerolog.Logger) Request {
	clamp := func(name string, v *int, min int) {
		if *v < min {
			logger.Warn().Str("param", name).Int("value", *v).Int("clampedTo", min).Msg("Parameter below minimum")
			*v = min
		}
	}
	clamp("segment_length_minutes", &r.SegmentLengthMinutes, segment.MinLengthMinutes)
	clamp("images_per_segment", &r.ImagesPerSegment, 1)
	clamp("summary_image_count", &r.SummaryImageCount, 1)

	strategy, ok := sampler.ParseStrategy(r.Strategy)
	if !ok {
		logger.Warn().Str("param", "sampling_strategy").Str("value", r.Strategy).Str("using", strategy).Msg("Unknown sampling strategy")
	}
	r.Strategy = strategy

	format, ok := frames.NormalizeFormat(r.Format)
	if !ok {
		logger.Warn().Str("param", "image_format").Str("value", r.Format).Str("using", format).Msg("Unknown image format")
	}
	r.Format = format
	return r
}

// Phase is a step of the request state machine.
type Phase string

const (
	PhaseInit               Phase = "init"
	PhaseSegmenting         Phase = "segmenting"
	PhaseSamplingAndScoring Phase = "sampling_and_scoring"
	PhaseGlobalSelection    Phase = "global_selection"
	PhaseReExtraction       Phase = "re_extraction"
	PhaseDone               Phase = "done"
)

// metricName is the EMF latency metric recorded when a phase ends.
func (p Phase) metricName() string {
	switch p {
	case PhaseInit:
		return "InitLatencyMs"
	case PhaseSegmenting:
		return "SegmentingLatencyMs"
	case PhaseSamplingAndScoring:
		return "SamplingAndScoringLatencyMs"
	case PhaseGlobalSelection:
		return "GlobalSelectionLatencyMs"
	case PhaseReExtraction:
		return "ReExtractionLatencyMs"
	default:
		return ""
	}
}

// PhaseFunc is told about every phase a request enters.
type PhaseFunc func(ctx context.Context, requestID string, phase Phase)

// Highlight is one selected still.
type Highlight struct {
	// ImageRef is the API reference, /highlights/images/<id>/<file>.
	ImageRef    string  `json:"imageRef"`
	Path        string  `json:"-"`
	File        string  `json:"file"`
	Score       float64 `json:"score"`
	TimestampMs int64   `json:"timestampMs"`
}

// Result is a completed request. Highlights are ordered by timestamp.
type Result struct {
	RequestID  string      `json:"requestId"`
	Strategy   string      `json:"strategy"`
	OutputDir  string      `json:"outputDir"`
	Highlights []Highlight `json:"highlights"`

	Segments       int               `json:"segments"`
	FailedSegments []*SegmentFailure `json:"-"`
	Sampled        int               `json:"sampled"`
	// Dropped counts winners whose frame could not be re-read.
	Dropped int `json:"dropped"`
}

// SegmentFailure records a segment that contributed no winners because its
// worker failed.
type SegmentFailure struct {
	Index int
	Err   error
}

func (e *SegmentFailure) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentFailure) Unwrap() error { return e.Err }

// FailedIndexes returns the indexes of failed segments in order.
func (r *Result) FailedIndexes() []int {
	out := make([]int, 0, len(r.FailedSegments))
	for _, f := range r.FailedSegments {
		out = append(out, f.Index)
	}
	return out
}

// Paths returns the local paths of the highlights.
func (r *Result) Paths() []string {
	out := make([]string, len(r.Highlights))
	for i, h := range r.Highlights {
		out[i] = h.Path
	}
	return out
}
