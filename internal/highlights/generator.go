// Package highlights runs a highlight request end to end: it splits the
// video into segments, samples and scores each one, picks the best frames
// across the whole video and writes them out at full resolution.
package highlights

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/jobs"
	"github.com/fpang/highlight-generator/internal/metrics"
	"github.com/fpang/highlight-generator/internal/sampler"
	"github.com/fpang/highlight-generator/internal/scorer"
	"github.com/fpang/highlight-generator/internal/segment"
	"github.com/fpang/highlight-generator/internal/selection"
	"github.com/fpang/highlight-generator/internal/staging"
	"github.com/fpang/highlight-generator/internal/video"
)

// Generator turns videos into highlight stills. A Generator can serve
// concurrent requests; each request gets its own staging tree.
type Generator struct {
	cfg      Config
	open     video.Opener
	pipeline *selection.Pipeline

	rec     *metrics.Recorder
	onPhase PhaseFunc
}

// New returns a Generator reading videos through open and scoring with
// pipeline.
func New(cfg Config, open video.Opener, pipeline *selection.Pipeline) *Generator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = DefaultConfig().StagingDir
	}
	return &Generator{cfg: cfg, open: open, pipeline: pipeline}
}

// WithMetrics records request metrics on rec. The caller flushes it.
func (g *Generator) WithMetrics(rec *metrics.Recorder) *Generator {
	g.rec = rec
	return g
}

// OnPhase registers fn to be told about phase transitions.
func (g *Generator) OnPhase(fn PhaseFunc) *Generator {
	g.onPhase = fn
	return g
}

// run is the state of one request.
type run struct {
	req      Request
	logger   zerolog.Logger
	store    *staging.Store
	strategy sampler.Strategy
	segments []segment.Segment

	phase      Phase
	phaseStart time.Time
}

// segmentOutcome is what one segment worker hands back.
type segmentOutcome struct {
	index      int
	winners    []frames.Candidate
	state      sampler.PipelineState
	sampled    int
	unreadable int64
	err        error
}

// Generate runs req through every phase and returns the highlights ordered
// by timestamp. Failed segments are reported in the result; an unreadable
// video, an invalid duration, an unavailable scorer or cancellation fail the
// whole request and no partial list is returned.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.ID == "" {
		req.ID = jobs.NewRequestID()
	}
	r := &run{logger: log.With().Str("requestId", req.ID).Logger()}
	r.req = req.normalize(r.logger)
	r.logger = r.logger.With().Str("strategy", r.req.Strategy).Logger()

	g.enter(ctx, r, PhaseInit)
	if r.req.VideoPath == "" {
		return nil, fmt.Errorf("%w: no video path", video.ErrUnreadable)
	}
	if r.req.OutputDir == "" {
		r.req.OutputDir = filepath.Join(g.cfg.OutputDir, r.req.ID)
	}

	src, err := g.open(ctx, r.req.VideoPath)
	if err != nil {
		r.logger.Error().Err(err).Str("video", r.req.VideoPath).Msg("Unable to open video")
		return nil, err
	}
	defer src.Release()

	store, err := staging.New(g.cfg.StagingDir, r.req.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Cleanup(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to remove staging tree")
		}
	}()
	r.store = store

	if r.req.Strategy == sampler.SceneChange {
		r.strategy = sampler.NewSceneChange(g.cfg.SceneThreshold, int64(g.cfg.SceneStride), g.sceneCloser(store))
	} else {
		r.strategy = sampler.NewUniform(g.cfg.SamplesPerSegment, 0)
	}
	if g.rec != nil {
		g.rec.Dimension("Strategy", r.req.Strategy)
		g.rec.Property("requestId", r.req.ID)
	}

	g.enter(ctx, r, PhaseSegmenting)
	r.segments, err = segment.Split(src.DurationMs(), src.FPS(), r.req.SegmentLengthMinutes)
	if err != nil {
		r.logger.Error().Err(err).Int64("durationMs", src.DurationMs()).Float64("fps", src.FPS()).Msg("Cannot segment video")
		return nil, err
	}
	r.logger.Info().
		Int("segments", len(r.segments)).
		Int64("durationMs", src.DurationMs()).
		Float64("fps", src.FPS()).
		Msg("Video segmented")
	g.add("Segments", float64(len(r.segments)))

	g.enter(ctx, r, PhaseSamplingAndScoring)
	var outcomes []segmentOutcome
	if r.strategy.Sequential() {
		outcomes, err = g.sampleSequential(ctx, r, src)
	} else {
		outcomes, err = g.sampleParallel(ctx, r)
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("Sampling aborted")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		RequestID:  r.req.ID,
		Strategy:   r.req.Strategy,
		OutputDir:  r.req.OutputDir,
		Highlights: []Highlight{},
		Segments:   len(r.segments),
	}
	var winners []frames.Candidate
	var unreadable int64
	for _, o := range outcomes {
		res.Sampled += o.sampled
		unreadable += o.unreadable
		if o.err != nil {
			res.FailedSegments = append(res.FailedSegments, &SegmentFailure{Index: o.index, Err: o.err})
			r.logger.Warn().Err(o.err).Int("segment", o.index).Msg("Segment failed, contributing no highlights")
			continue
		}
		winners = append(winners, o.winners...)
	}
	g.add("SegmentsFailed", float64(len(res.FailedSegments)))
	g.add("CandidatesSampled", float64(res.Sampled))
	g.add("FramesUnreadable", float64(unreadable))

	g.enter(ctx, r, PhaseGlobalSelection)
	finalists, err := g.globalSelection(ctx, r, winners)
	if err != nil {
		r.logger.Error().Err(err).Int("candidates", len(winners)).Msg("Global selection failed")
		return nil, err
	}

	g.enter(ctx, r, PhaseReExtraction)
	res.Highlights, res.Dropped, err = g.reExtract(ctx, r, src, finalists)
	if err != nil {
		return nil, err
	}
	g.add("Highlights", float64(len(res.Highlights)))
	g.add("HighlightsDropped", float64(res.Dropped))

	g.enter(ctx, r, PhaseDone)
	r.logger.Info().
		Int("segments", res.Segments).
		Int("failedSegments", len(res.FailedSegments)).
		Int("sampled", res.Sampled).
		Int("highlights", len(res.Highlights)).
		Int("dropped", res.Dropped).
		Str("outputDir", res.OutputDir).
		Msg("Highlights generated")
	return res, nil
}

// enter moves r into phase p, recording how long the previous phase took.
func (g *Generator) enter(ctx context.Context, r *run, p Phase) {
	now := time.Now()
	if r.phase != "" && g.rec != nil {
		if name := r.phase.metricName(); name != "" {
			g.rec.Duration(name, now.Sub(r.phaseStart))
		}
	}
	r.phase, r.phaseStart = p, now
	r.logger.Debug().Str("phase", string(p)).Msg("Entering phase")
	if g.onPhase != nil {
		g.onPhase(ctx, r.req.ID, p)
	}
}

func (g *Generator) add(name string, v float64) {
	if g.rec != nil {
		g.rec.Add(name, v, metrics.UnitCount)
	}
}

// sceneCloser keeps the most appealing frame of each scene. Every scene is
// judged in its own area, named after its first frame.
func (g *Generator) sceneCloser(store *staging.Store) sampler.SceneCloser {
	return func(ctx context.Context, scene []frames.Candidate) (frames.Candidate, error) {
		area, err := store.Area(fmt.Sprintf("scenes/scene-%d", scene[0].TimestampMs), g.pipeline.Aesthetic.Capacity())
		if err != nil {
			return frames.Candidate{}, err
		}
		best, err := g.pipeline.Best(ctx, area, scene)
		if err != nil {
			return frames.Candidate{}, err
		}
		return best.Candidate, nil
	}
}

// processSegment samples one segment and keeps its technically best frames.
func (g *Generator) processSegment(ctx context.Context, r *run, src video.Source, seg segment.Segment, state sampler.PipelineState) segmentOutcome {
	out := segmentOutcome{index: seg.Index}
	logger := r.logger.With().Int("segment", seg.Index).Logger()

	dir, err := r.store.Dir(fmt.Sprintf("samples/segment-%03d", seg.Index))
	if err != nil {
		out.err = err
		return out
	}

	sampled, err := r.strategy.Sample(ctx, sampler.Job{
		Source:     src,
		Segment:    seg,
		Dir:        dir,
		Format:     r.req.Format,
		Resolution: g.cfg.Resolution,
		Terminal:   seg.Index == len(r.segments)-1,
	}, state)
	out.sampled = len(sampled.Candidates)
	out.unreadable = sampled.Unreadable
	if err != nil {
		out.err = fmt.Errorf("sample: %w", err)
		return out
	}
	out.state = sampled.State

	area, err := r.store.Area(fmt.Sprintf("segment-%03d", seg.Index), g.pipeline.Technical.Capacity())
	if err != nil {
		out.err = err
		return out
	}
	kept, err := g.pipeline.TechnicalPass(ctx, area, sampled.Candidates, r.req.ImagesPerSegment)
	if errors.Is(err, selection.ErrEmptyInput) {
		logger.Debug().Int64("unreadable", sampled.Unreadable).Msg("Segment produced no candidates")
		return out
	}
	if err != nil {
		out.err = fmt.Errorf("technical pass: %w", err)
		return out
	}

	out.winners = kept.Candidates()
	logger.Debug().
		Int("sampled", out.sampled).
		Ints64("winners", frames.Timestamps(out.winners)).
		Msg("Segment scored")
	return out
}

// sampleSequential feeds segments to one worker in index order, threading
// the scene state from each segment into the next. A failed segment drops
// whatever scene was open.
func (g *Generator) sampleSequential(ctx context.Context, r *run, src video.Source) ([]segmentOutcome, error) {
	outcomes := make([]segmentOutcome, 0, len(r.segments))
	var state sampler.PipelineState
	for _, seg := range r.segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o := g.processSegment(ctx, r, src, seg, state)
		if errors.Is(o.err, scorer.ErrUnavailable) {
			return nil, o.err
		}
		if o.err != nil && !state.Empty() && o.state.Empty() {
			r.logger.Warn().Int("segment", seg.Index).Int("pending", len(state.Pending)).Msg("Discarding open scene after segment failure")
		}
		state = o.state
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// globalSelection keeps the SummaryImageCount most appealing segment
// winners. No winners is not an error.
func (g *Generator) globalSelection(ctx context.Context, r *run, winners []frames.Candidate) ([]frames.Scored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	area, err := r.store.Area("final", g.pipeline.Aesthetic.Capacity())
	if err != nil {
		return nil, err
	}
	kept, err := g.pipeline.AestheticPass(ctx, area, winners, r.req.SummaryImageCount)
	if errors.Is(err, selection.ErrEmptyInput) {
		r.logger.Warn().Msg("No segment produced a candidate")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("aesthetic pass: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return kept.Kept, nil
}

// reExtract writes each finalist at full resolution into the output
// directory. A finalist whose frame cannot be read back is dropped.
func (g *Generator) reExtract(ctx context.Context, r *run, src video.Source, finalists []frames.Scored) ([]Highlight, int, error) {
	out := []Highlight{}
	if len(finalists) == 0 {
		return out, 0, nil
	}
	if err := os.MkdirAll(r.req.OutputDir, 0755); err != nil {
		return nil, 0, fmt.Errorf("create output dir: %w", err)
	}

	ordered := make([]frames.Scored, len(finalists))
	copy(ordered, finalists)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TimestampMs < ordered[j].TimestampMs })

	dropped := 0
	for _, f := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		img, err := frameAt(src, f.TimestampMs)
		if err != nil {
			r.logger.Error().Err(err).Int64("timestamp", f.TimestampMs).Msg("Unable to re-read highlight frame, dropping it")
			dropped++
			continue
		}

		name := frames.FileName(f.TimestampMs, r.req.Format)
		path := filepath.Join(r.req.OutputDir, name)
		if err := frames.Save(path, img, r.req.Format); err != nil {
			return nil, 0, err
		}
		out = append(out, Highlight{
			ImageRef:    jobs.ImageRef(r.req.ID, name),
			Path:        path,
			File:        name,
			Score:       f.Score,
			TimestampMs: f.TimestampMs,
		})
	}
	return out, dropped, nil
}

// frameAt seeks src to ts and decodes exactly that frame.
func frameAt(src video.Source, ts int64) (image.Image, error) {
	if err := src.SeekTo(ts); err != nil {
		return nil, fmt.Errorf("%w: seek to %d: %v", video.ErrFrameUnreadable, ts, err)
	}
	f, err := src.ReadNext()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %d is past the end", video.ErrFrameUnreadable, ts)
	}
	if err != nil {
		if errors.Is(err, video.ErrFrameUnreadable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", video.ErrFrameUnreadable, err)
	}
	if f.TimestampMs != ts {
		return nil, fmt.Errorf("%w: seek to %d landed on %d", video.ErrFrameUnreadable, ts, f.TimestampMs)
	}
	return f.Image, nil
}
