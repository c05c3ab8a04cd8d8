package highlights

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/metrics"
	"github.com/fpang/highlight-generator/internal/sampler"
	"github.com/fpang/highlight-generator/internal/scorer"
	"github.com/fpang/highlight-generator/internal/segment"
	"github.com/fpang/highlight-generator/internal/selection"
	"github.com/fpang/highlight-generator/internal/video"
	"github.com/fpang/highlight-generator/internal/video/videotest"
)

const testRequestID = "7d0f8a1c-3b2e-4f5a-9c6d-1e2f3a4b5c6d"

// fakeScorer scores a still by its timestamp.
type fakeScorer struct {
	variant  scorer.Variant
	capacity int
	score    func(ts int64) float64
	fail     func(ts int64) error
	onCall   func()
	calls    atomic.Int64
}

func (f *fakeScorer) Capacity() int           { return f.capacity }
func (f *fakeScorer) Variant() scorer.Variant { return f.variant }

func (f *fakeScorer) Score(ctx context.Context, images []frames.Candidate) ([]frames.Scored, error) {
	f.calls.Add(1)
	if f.onCall != nil {
		f.onCall()
	}
	out := make([]frames.Scored, len(images))
	for i, c := range images {
		if f.fail != nil {
			if err := f.fail(c.TimestampMs); err != nil {
				return nil, err
			}
		}
		out[i] = frames.Scored{Candidate: c, Score: f.score(c.TimestampMs)}
	}
	return out, nil
}

// bySecond cycles scores through 0..16 as the timestamp advances.
func bySecond(ts int64) float64 { return float64((ts / 1000) % 17) }

func newPipeline() (*selection.Pipeline, *fakeScorer, *fakeScorer) {
	tech := &fakeScorer{variant: scorer.Technical, capacity: 100, score: bySecond}
	aes := &fakeScorer{variant: scorer.Aesthetic, capacity: 100, score: bySecond}
	return &selection.Pipeline{Technical: tech, Aesthetic: aes}, tech, aes
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StagingDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.Workers = 3
	cfg.Resolution = 16
	cfg.SamplesPerSegment = 10
	return cfg
}

func threeMinuteRequest(cfg Config) Request {
	req := cfg.Request("synthetic.mp4")
	req.ID = testRequestID
	req.SegmentLengthMinutes = 1
	req.ImagesPerSegment = 2
	req.SummaryImageCount = 4
	return req
}

func threeMinuteVideo() *videotest.Synthetic {
	return videotest.New(30, 3*60*30, videotest.Solid(color.RGBA{120, 90, 60, 255}))
}

func timestamps(hs []Highlight) []int64 {
	out := make([]int64, len(hs))
	for i, h := range hs {
		out[i] = h.TimestampMs
	}
	return out
}

func TestGenerate_UniformEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	v := threeMinuteVideo()
	pipeline, tech, aes := newPipeline()

	var buf bytes.Buffer
	rec := metrics.New(metrics.Namespace).WithOutput(&buf)

	res, err := New(cfg, v.Opener(), pipeline).WithMetrics(rec).Generate(context.Background(), threeMinuteRequest(cfg))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Segments != 3 {
		t.Errorf("segments = %d, want 3", res.Segments)
	}
	if len(res.FailedSegments) != 0 {
		t.Errorf("unexpected failed segments: %v", res.FailedSegments)
	}
	if res.Sampled != 30 {
		t.Errorf("sampled = %d, want 10 per segment", res.Sampled)
	}

	// Stills every 6s; each segment keeps its two best by bySecond and the
	// aesthetic pass keeps the four best of those six, earliest on ties.
	want := []int64{48000, 66000, 84000, 168000}
	if got := timestamps(res.Highlights); !reflect.DeepEqual(got, want) {
		t.Fatalf("highlights at %v, want %v", got, want)
	}

	for _, h := range res.Highlights {
		if h.TimestampMs < 0 || h.TimestampMs > 180000 {
			t.Errorf("timestamp %d outside the video", h.TimestampMs)
		}
		if wantRef := "/highlights/images/" + testRequestID + "/" + h.File; h.ImageRef != wantRef {
			t.Errorf("ImageRef = %q, want %q", h.ImageRef, wantRef)
		}
		if h.Score != bySecond(h.TimestampMs) {
			t.Errorf("score %v for %d, want %v", h.Score, h.TimestampMs, bySecond(h.TimestampMs))
		}
		img, err := frames.Load(h.Path)
		if err != nil {
			t.Fatalf("load %s: %v", h.Path, err)
		}
		if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 36 {
			t.Errorf("%s is %dx%d, want the full 64x36 frame", h.File, b.Dx(), b.Dy())
		}
	}

	if got := tech.calls.Load(); got != 3 {
		t.Errorf("technical scorer called %d times, want once per segment", got)
	}
	if got := aes.calls.Load(); got != 1 {
		t.Errorf("aesthetic scorer called %d times, want 1", got)
	}
	if opens := v.Opens(); opens > int64(1+cfg.Workers) {
		t.Errorf("video opened %d times, want at most %d", opens, 1+cfg.Workers)
	}

	if _, err := os.Stat(filepath.Join(cfg.StagingDir, testRequestID)); !os.IsNotExist(err) {
		t.Errorf("staging tree left behind: %v", err)
	}

	if got, _ := rec.Value("Segments"); got != 3 {
		t.Errorf("Segments metric = %v", got)
	}
	if got, _ := rec.Value("Highlights"); got != 4 {
		t.Errorf("Highlights metric = %v", got)
	}
	if _, ok := rec.Value("SamplingAndScoringLatencyMs"); !ok {
		t.Error("missing sampling latency metric")
	}
}

func TestGenerate_SingleWorkerSameResult(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 1
	pipeline, _, _ := newPipeline()

	res, err := New(cfg, threeMinuteVideo().Opener(), pipeline).Generate(context.Background(), threeMinuteRequest(cfg))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []int64{48000, 66000, 84000, 168000}
	if got := timestamps(res.Highlights); !reflect.DeepEqual(got, want) {
		t.Errorf("single worker picked %v, want %v", got, want)
	}
}

func TestGenerate_SceneChange(t *testing.T) {
	cfg := testConfig(t)
	cfg.SceneStride = 15

	// Red and blue alternate every 30s, giving six scenes.
	red, blue := color.RGBA{220, 30, 30, 255}, color.RGBA{30, 40, 210, 255}
	v := videotest.New(30, 3*60*30, func(i int64) color.RGBA {
		if (i/900)%2 == 0 {
			return red
		}
		return blue
	})
	pipeline, tech, aes := newPipeline()

	req := threeMinuteRequest(cfg)
	req.Strategy = sampler.SceneChange
	res, err := New(cfg, v.Opener(), pipeline).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Strategy != sampler.SceneChange {
		t.Errorf("strategy = %q", res.Strategy)
	}
	if res.Sampled != 6 {
		t.Errorf("sampled = %d, want one still per scene", res.Sampled)
	}
	if len(res.Highlights) != 4 {
		t.Fatalf("got %d highlights, want 4", len(res.Highlights))
	}
	for i := 1; i < len(res.Highlights); i++ {
		if res.Highlights[i].TimestampMs <= res.Highlights[i-1].TimestampMs {
			t.Fatalf("highlights not ascending: %v", timestamps(res.Highlights))
		}
	}

	// One Best call per scene plus the final pass.
	if got := aes.calls.Load(); got != 7 {
		t.Errorf("aesthetic scorer called %d times, want 7", got)
	}
	if got := tech.calls.Load(); got != 3 {
		t.Errorf("technical scorer called %d times, want 3", got)
	}
	if v.Opens() != 1 {
		t.Errorf("scene mode opened the video %d times, want 1", v.Opens())
	}
}

func TestGenerate_SegmentFailureIsIsolated(t *testing.T) {
	cfg := testConfig(t)
	pipeline, tech, _ := newPipeline()
	errBoom := errors.New("model returned garbage")
	tech.fail = func(ts int64) error {
		if ts >= 60000 && ts < 120000 {
			return errBoom
		}
		return nil
	}

	res, err := New(cfg, threeMinuteVideo().Opener(), pipeline).Generate(context.Background(), threeMinuteRequest(cfg))
	if err != nil {
		t.Fatalf("a failing segment must not fail the request: %v", err)
	}
	if got := res.FailedIndexes(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("failed segments = %v, want [1]", got)
	}
	if !errors.Is(res.FailedSegments[0], errBoom) {
		t.Errorf("failure does not wrap the cause: %v", res.FailedSegments[0])
	}
	var sf *SegmentFailure
	if !errors.As(error(res.FailedSegments[0]), &sf) || sf.Index != 1 {
		t.Error("SegmentFailure not recoverable with errors.As")
	}

	want := []int64{30000, 48000, 150000, 168000}
	if got := timestamps(res.Highlights); !reflect.DeepEqual(got, want) {
		t.Errorf("highlights at %v, want %v", got, want)
	}
}

func TestGenerate_ScorerUnavailableAborts(t *testing.T) {
	cfg := testConfig(t)
	pipeline, _, aes := newPipeline()
	aes.fail = func(int64) error { return fmt.Errorf("%w: connection refused", scorer.ErrUnavailable) }

	res, err := New(cfg, threeMinuteVideo().Opener(), pipeline).Generate(context.Background(), threeMinuteRequest(cfg))
	if !errors.Is(err, scorer.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if res != nil {
		t.Error("no partial result may be returned")
	}
	if _, err := os.Stat(filepath.Join(cfg.StagingDir, testRequestID)); !os.IsNotExist(err) {
		t.Errorf("staging tree left behind: %v", err)
	}
}

func TestGenerate_TechnicalScorerUnavailableAborts(t *testing.T) {
	cfg := testConfig(t)
	pipeline, tech, _ := newPipeline()
	tech.fail = func(int64) error { return scorer.ErrUnavailable }

	if _, err := New(cfg, threeMinuteVideo().Opener(), pipeline).Generate(context.Background(), threeMinuteRequest(cfg)); !errors.Is(err, scorer.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestGenerate_Fatal(t *testing.T) {
	tests := []struct {
		name string
		open video.Opener
		want error
	}{
		{"unreadable video", videotest.Unreadable, video.ErrUnreadable},
		{"zero duration", videotest.New(30, 0, videotest.Solid(color.RGBA{})).Opener(), segment.ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			pipeline, tech, _ := newPipeline()

			res, err := New(cfg, tt.open, pipeline).Generate(context.Background(), threeMinuteRequest(cfg))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if res != nil {
				t.Error("expected no result")
			}
			if tech.calls.Load() != 0 {
				t.Error("scorer called before the request was validated")
			}
		})
	}
}

func TestGenerate_Cancellation(t *testing.T) {
	cfg := testConfig(t)
	pipeline, tech, _ := newPipeline()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tech.onCall = cancel

	res, err := New(cfg, threeMinuteVideo().Opener(), pipeline).Generate(ctx, threeMinuteRequest(cfg))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Error("cancelled request returned a result")
	}
}

// brokenSource fails every read, as a source whose frames vanished after
// sampling would.
type brokenSource struct{ video.Source }

func (brokenSource) ReadNext() (video.Frame, error) {
	return video.Frame{}, fmt.Errorf("%w: decoder crashed", video.ErrFrameUnreadable)
}

func TestGenerate_ReExtractionDropsUnreadableFrames(t *testing.T) {
	cfg := testConfig(t)
	v := threeMinuteVideo()
	pipeline, _, _ := newPipeline()

	// The first source opened is the one used for re-extraction; the
	// workers get healthy ones.
	var once sync.Once
	open := func(ctx context.Context, path string) (video.Source, error) {
		src, err := v.Opener()(ctx, path)
		if err != nil {
			return nil, err
		}
		broken := false
		once.Do(func() { broken = true })
		if broken {
			return brokenSource{src}, nil
		}
		return src, nil
	}

	res, err := New(cfg, open, pipeline).Generate(context.Background(), threeMinuteRequest(cfg))
	if err != nil {
		t.Fatalf("unreadable highlight frames must not fail the request: %v", err)
	}
	if len(res.Highlights) != 0 || res.Dropped != 4 {
		t.Errorf("highlights=%d dropped=%d, want 0 and 4", len(res.Highlights), res.Dropped)
	}
	if res.Highlights == nil {
		t.Error("highlight list should be empty, not nil")
	}
}

func TestGenerate_UnreadableTailYieldsFewerCandidates(t *testing.T) {
	cfg := testConfig(t)
	v := threeMinuteVideo()
	v.FailFrom = 1800 // everything after the first minute
	pipeline, _, _ := newPipeline()

	req := threeMinuteRequest(cfg)
	res, err := New(cfg, v.Opener(), pipeline).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.FailedSegments) != 0 {
		t.Errorf("unreadable frames are not segment failures: %v", res.FailedSegments)
	}
	if want := []int64{30000, 48000}; !reflect.DeepEqual(timestamps(res.Highlights), want) {
		t.Errorf("highlights at %v, want %v", timestamps(res.Highlights), want)
	}
}

func TestGenerate_Phases(t *testing.T) {
	cfg := testConfig(t)
	pipeline, _, _ := newPipeline()

	var phases []Phase
	g := New(cfg, videotest.New(30, 900, videotest.Solid(color.RGBA{10, 200, 10, 255})).Opener(), pipeline).
		OnPhase(func(ctx context.Context, id string, p Phase) {
			if id != testRequestID {
				t.Errorf("phase reported for %q", id)
			}
			phases = append(phases, p)
		})

	if _, err := g.Generate(context.Background(), threeMinuteRequest(cfg)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []Phase{PhaseInit, PhaseSegmenting, PhaseSamplingAndScoring, PhaseGlobalSelection, PhaseReExtraction, PhaseDone}
	if !reflect.DeepEqual(phases, want) {
		t.Errorf("phases = %v, want %v", phases, want)
	}
}

func TestGenerate_DefaultOutputDir(t *testing.T) {
	cfg := testConfig(t)
	pipeline, _, _ := newPipeline()

	req := threeMinuteRequest(cfg)
	req.ID = ""
	res, err := New(cfg, threeMinuteVideo().Opener(), pipeline).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.RequestID == "" {
		t.Fatal("no request id generated")
	}
	if want := filepath.Join(cfg.OutputDir, res.RequestID); res.OutputDir != want {
		t.Errorf("output dir = %q, want %q", res.OutputDir, want)
	}
	for _, h := range res.Highlights {
		if !strings.HasPrefix(h.Path, res.OutputDir) {
			t.Errorf("%s written outside %s", h.Path, res.OutputDir)
		}
	}
}
