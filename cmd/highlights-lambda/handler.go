package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/bundle"
	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/highlights"
	"github.com/fpang/highlight-generator/internal/jobs"
	"github.com/fpang/highlight-generator/internal/metrics"
	"github.com/fpang/highlight-generator/internal/s3util"
	"github.com/fpang/highlight-generator/internal/selection"
	"github.com/fpang/highlight-generator/internal/store"
	"github.com/fpang/highlight-generator/internal/video"
)

const (
	defaultKeyPrefix = "highlights"
	bundleName       = "highlights.zip"
	urlExpiry        = time.Hour
)

// errBadEvent marks invocations rejected before any work starts.
var errBadEvent = errors.New("invalid event")

// server holds everything one invocation needs.
type server struct {
	s3      s3util.API
	bucket  string
	prefix  string
	presign func(ctx context.Context, bucket, key string) (string, error)

	// store is nil when request tracking is disabled.
	store store.RequestStore

	cfg      highlights.Config
	open     video.Opener
	pipeline func(ctx context.Context, rec *metrics.Recorder) (*selection.Pipeline, error)
	workDir  string

	metricsOut io.Writer
}

func (s *server) request(event HighlightEvent, id, videoPath string) highlights.Request {
	req := s.cfg.Request(videoPath)
	req.ID = id
	if event.SegmentLengthMinutes != 0 {
		req.SegmentLengthMinutes = event.SegmentLengthMinutes
	}
	if event.ImagesPerSegment != 0 {
		req.ImagesPerSegment = event.ImagesPerSegment
	}
	if event.SummaryImageCount != 0 {
		req.SummaryImageCount = event.SummaryImageCount
	}
	if event.SamplingStrategy != "" {
		req.Strategy = event.SamplingStrategy
	}
	if event.ImageFormat != "" {
		req.Format = event.ImageFormat
	}
	return req
}

func (s *server) handle(ctx context.Context, event HighlightEvent) (*HighlightResponse, error) {
	bucket := s.bucket
	if event.Bucket != "" {
		bucket = event.Bucket
	}

	id := event.RequestID
	if id == "" {
		id = jobs.NewRequestID()
	}
	logger := log.With().Str("requestId", id).Str("bucket", bucket).Str("key", event.Key).Logger()

	if event.Key == "" || !video.IsSupported(event.Key) {
		err := fmt.Errorf("%w: key %q is not a .mov or .mp4 video", errBadEvent, event.Key)
		logger.Warn().Err(err).Msg("Rejecting invocation")
		return &HighlightResponse{RequestID: id, Status: store.StatusFailed, Highlights: []HighlightItem{}, Error: err.Error()}, err
	}
	if !jobs.ValidRequestID(id) {
		err := fmt.Errorf("%w: request id %q is not a UUID", errBadEvent, id)
		logger.Warn().Err(err).Msg("Rejecting invocation")
		return &HighlightResponse{RequestID: id, Status: store.StatusFailed, Highlights: []HighlightItem{}, Error: err.Error()}, err
	}

	start := time.Now()
	req := s.request(event, id, "")
	s.track(ctx, logger, func(st store.RequestStore) error {
		return st.PutRequest(ctx, &store.RequestRecord{
			ID:       id,
			Status:   store.StatusPending,
			Phase:    string(highlights.PhaseInit),
			Bucket:   bucket,
			VideoKey: event.Key,
			Params: store.RequestParams{
				SegmentLengthMinutes: req.SegmentLengthMinutes,
				ImagesPerSegment:     req.ImagesPerSegment,
				SummaryImageCount:    req.SummaryImageCount,
				SamplingStrategy:     req.Strategy,
				ImageFormat:          req.Format,
			},
		})
	})
	logger.Info().Msg("Starting highlight request")

	phase := highlights.PhaseInit
	fail := func(err error) (*HighlightResponse, error) {
		logger.Error().Err(err).Str("phase", string(phase)).Dur("elapsed", time.Since(start)).Msg("Highlight request failed")
		s.track(context.WithoutCancel(ctx), logger, func(st store.RequestStore) error {
			return st.FailRequest(context.WithoutCancel(ctx), id, string(phase), err.Error())
		})
		return &HighlightResponse{RequestID: id, Status: store.StatusFailed, Highlights: []HighlightItem{}, Error: err.Error()}, err
	}

	dir := filepath.Join(s.workDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail(fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(dir)

	videoPath, cleanup, err := s3util.DownloadToTempDir(ctx, s.s3, bucket, event.Key, dir)
	if err != nil {
		return fail(fmt.Errorf("download video: %w", err))
	}
	defer cleanup()
	req.VideoPath = videoPath
	req.OutputDir = filepath.Join(dir, "out")

	rec := metrics.New(metrics.Namespace)
	if s.metricsOut != nil {
		rec.WithOutput(s.metricsOut)
	}
	defer rec.Flush()

	pipeline, err := s.pipeline(ctx, rec)
	if err != nil {
		return fail(err)
	}

	gen := highlights.New(s.cfg, s.open, pipeline).
		WithMetrics(rec).
		OnPhase(func(ctx context.Context, requestID string, p highlights.Phase) {
			phase = p
			s.track(ctx, logger, func(st store.RequestStore) error {
				return st.UpdatePhase(ctx, requestID, string(p))
			})
		})

	res, err := gen.Generate(ctx, req)
	if err != nil {
		return fail(err)
	}

	resp, err := s.publish(ctx, bucket, res)
	if err != nil {
		return fail(err)
	}
	rec.Duration("RequestLatencyMs", time.Since(start))

	records := make([]store.HighlightRecord, len(resp.Highlights))
	for i, h := range resp.Highlights {
		records[i] = store.HighlightRecord{ImageRef: h.ImageRef, Key: h.Key, Score: h.Score, TimestampMs: h.TimestampMs}
	}
	s.track(ctx, logger, func(st store.RequestStore) error {
		return st.CompleteRequest(ctx, id, records, resp.FailedSegments)
	})

	logger.Info().
		Int("highlights", len(resp.Highlights)).
		Ints("failedSegments", resp.FailedSegments).
		Dur("elapsed", time.Since(start)).
		Msg("Highlight request complete")
	return resp, nil
}

// publish uploads the stills and their bundle and presigns both.
func (s *server) publish(ctx context.Context, bucket string, res *highlights.Result) (*HighlightResponse, error) {
	resp := &HighlightResponse{
		RequestID:      res.RequestID,
		Status:         store.StatusComplete,
		Strategy:       res.Strategy,
		Highlights:     make([]HighlightItem, len(res.Highlights)),
		FailedSegments: res.FailedIndexes(),
		Dropped:        res.Dropped,
	}
	if len(res.Highlights) == 0 {
		return resp, nil
	}

	format, _ := frames.NormalizeFormat(filepath.Ext(res.Highlights[0].File))
	keys, err := s3util.UploadHighlights(ctx, s.s3, bucket, s.prefix, res.RequestID, res.Paths(), frames.ContentType(format))
	if err != nil {
		return nil, fmt.Errorf("upload highlights: %w", err)
	}
	for i, h := range res.Highlights {
		url, err := s.presign(ctx, bucket, keys[i])
		if err != nil {
			return nil, err
		}
		resp.Highlights[i] = HighlightItem{
			ImageRef:    h.ImageRef,
			Key:         keys[i],
			URL:         url,
			Score:       h.Score,
			TimestampMs: h.TimestampMs,
		}
	}

	zipPath := filepath.Join(filepath.Dir(res.OutputDir), bundleName)
	if _, err := bundle.WriteFile(zipPath, res.Paths()); err != nil {
		return nil, err
	}
	resp.BundleKey = s3util.HighlightKey(s.prefix, res.RequestID, bundleName)
	if err := s3util.UploadFile(ctx, s.s3, bucket, resp.BundleKey, zipPath, bundle.ContentType); err != nil {
		return nil, fmt.Errorf("upload bundle: %w", err)
	}
	if resp.BundleURL, err = s.presign(ctx, bucket, resp.BundleKey); err != nil {
		return nil, err
	}
	return resp, nil
}

// track applies fn to the request store when tracking is enabled. Store
// errors are logged and never fail the request.
func (s *server) track(ctx context.Context, logger zerolog.Logger, fn func(store.RequestStore) error) {
	if s.store == nil {
		return
	}
	if err := fn(s.store); err != nil {
		logger.Warn().Err(err).Msg("Failed to update request record")
	}
}
