package main

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/fpang/highlight-generator/internal/bundle"
	"github.com/fpang/highlight-generator/internal/highlights"
	"github.com/fpang/highlight-generator/internal/jobs"
	"github.com/fpang/highlight-generator/internal/metrics"
	"github.com/fpang/highlight-generator/internal/selection"
	"github.com/fpang/highlight-generator/internal/store"
	"github.com/fpang/highlight-generator/internal/video"
	"github.com/fpang/highlight-generator/internal/video/videotest"
)

const testID = "9b2f4f0e-3c1d-4a8e-b5a7-2d6c0e1f9a34"

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (m *memS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Bucket+"/"+*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	put       *store.RequestRecord
	phases    []string
	completed []store.HighlightRecord
	failed    []int
	failPhase string
	failMsg   string
}

func (f *fakeStore) PutRequest(ctx context.Context, rec *store.RequestRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put = rec
	return nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id string) (*store.RequestRecord, error) {
	return f.put, nil
}

func (f *fakeStore) UpdatePhase(ctx context.Context, id, phase string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, phase)
	return errors.New("throttled")
}

func (f *fakeStore) CompleteRequest(ctx context.Context, id string, hs []store.HighlightRecord, failed []int) error {
	f.completed = hs
	f.failed = failed
	return nil
}

func (f *fakeStore) FailRequest(ctx context.Context, id, phase, reason string) error {
	f.failPhase = phase
	f.failMsg = reason
	return nil
}

func newTestServer(t *testing.T, open video.Opener) (*server, *memS3, *fakeStore) {
	t.Helper()
	cfg := highlights.DefaultConfig()
	cfg.StagingDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.Workers = 2
	cfg.Resolution = 16
	cfg.SamplesPerSegment = 4

	m := &memS3{objects: map[string][]byte{"media/uploads/trip.mp4": []byte("video bytes")}}
	st := &fakeStore{}
	s := &server{
		s3:     m,
		bucket: "media",
		prefix: defaultKeyPrefix,
		presign: func(ctx context.Context, bucket, key string) (string, error) {
			return "https://" + bucket + ".example/" + key + "?sig", nil
		},
		store: st,
		cfg:   cfg,
		open:  open,
		pipeline: func(ctx context.Context, rec *metrics.Recorder) (*selection.Pipeline, error) {
			return highlights.NewPipeline(ctx, cfg, "", rec)
		},
		workDir:    t.TempDir(),
		metricsOut: io.Discard,
	}
	return s, m, st
}

func twoMinuteVideo() video.Opener {
	return videotest.New(30, 2*60*30, videotest.Solid(color.RGBA{200, 120, 40, 255})).Opener()
}

func TestHandle_PublishesHighlights(t *testing.T) {
	s, m, st := newTestServer(t, twoMinuteVideo())

	resp, err := s.handle(context.Background(), HighlightEvent{
		RequestID:         testID,
		Key:               "uploads/trip.mp4",
		SummaryImageCount: 2,
		ImageFormat:       "png",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Status != store.StatusComplete || resp.RequestID != testID {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Highlights) != 2 {
		t.Fatalf("got %d highlights, want 2", len(resp.Highlights))
	}

	for _, h := range resp.Highlights {
		if !strings.HasPrefix(h.Key, "highlights/"+testID+"/") || !strings.HasSuffix(h.Key, ".png") {
			t.Errorf("unexpected key %q", h.Key)
		}
		if _, ok := m.objects["media/"+h.Key]; !ok {
			t.Errorf("%s not uploaded", h.Key)
		}
		if !strings.Contains(h.URL, h.Key) {
			t.Errorf("url %q does not reference %q", h.URL, h.Key)
		}
		if want := jobs.ImageRef(testID, path.Base(h.Key)); h.ImageRef != want {
			t.Errorf("image ref = %q, want %q", h.ImageRef, want)
		}
	}
	if resp.Highlights[0].TimestampMs >= resp.Highlights[1].TimestampMs {
		t.Errorf("highlights not in timestamp order: %+v", resp.Highlights)
	}

	if resp.BundleKey != "highlights/"+testID+"/highlights.zip" {
		t.Errorf("bundle key = %q", resp.BundleKey)
	}
	zr, err := zip.NewReader(bytes.NewReader(m.objects["media/"+resp.BundleKey]), int64(len(m.objects["media/"+resp.BundleKey])))
	if err != nil {
		t.Fatalf("bundle is not a zip: %v", err)
	}
	zr.RegisterDecompressor(bundle.Method, zstd.ZipDecompressor())
	if len(zr.File) != 2 {
		t.Errorf("bundle holds %d files, want 2", len(zr.File))
	}

	if st.put == nil || st.put.VideoKey != "uploads/trip.mp4" || st.put.Params.ImageFormat != "png" || st.put.Params.SummaryImageCount != 2 {
		t.Errorf("request record = %+v", st.put)
	}
	if len(st.phases) == 0 || st.phases[len(st.phases)-1] != string(highlights.PhaseDone) {
		t.Errorf("phases = %v", st.phases)
	}
	if len(st.completed) != 2 || st.completed[0].Key != resp.Highlights[0].Key {
		t.Errorf("completed = %+v", st.completed)
	}
	if st.failPhase != "" {
		t.Errorf("request marked failed in %s: %s", st.failPhase, st.failMsg)
	}
}

func TestHandle_GeneratesRequestID(t *testing.T) {
	s, _, _ := newTestServer(t, twoMinuteVideo())
	s.store = nil

	resp, err := s.handle(context.Background(), HighlightEvent{Key: "uploads/trip.mp4"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !jobs.ValidRequestID(resp.RequestID) {
		t.Errorf("generated id %q is not a UUID", resp.RequestID)
	}
}

func TestHandle_RejectsBadEvents(t *testing.T) {
	tests := []struct {
		name  string
		event HighlightEvent
	}{
		{"missing key", HighlightEvent{}},
		{"unsupported container", HighlightEvent{Key: "uploads/trip.mkv"}},
		{"bad request id", HighlightEvent{Key: "uploads/trip.mp4", RequestID: "../../etc"}},
		{"upper-case request id", HighlightEvent{Key: "uploads/trip.mp4", RequestID: strings.ToUpper(testID)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, st := newTestServer(t, twoMinuteVideo())
			resp, err := s.handle(context.Background(), tt.event)
			if !errors.Is(err, errBadEvent) {
				t.Fatalf("err = %v, want errBadEvent", err)
			}
			if resp.Status != store.StatusFailed || resp.Error == "" {
				t.Errorf("resp = %+v", resp)
			}
			if st.put != nil {
				t.Error("rejected event was recorded")
			}
		})
	}
}

func TestHandle_FailuresAreRecorded(t *testing.T) {
	t.Run("unreadable video", func(t *testing.T) {
		s, _, st := newTestServer(t, videotest.Unreadable)
		resp, err := s.handle(context.Background(), HighlightEvent{RequestID: testID, Key: "uploads/trip.mp4"})
		if !errors.Is(err, video.ErrUnreadable) {
			t.Fatalf("err = %v, want ErrUnreadable", err)
		}
		if resp.Status != store.StatusFailed || len(resp.Highlights) != 0 {
			t.Errorf("resp = %+v", resp)
		}
		if st.failPhase != string(highlights.PhaseInit) {
			t.Errorf("failed in phase %q, want init", st.failPhase)
		}
	})

	t.Run("missing object", func(t *testing.T) {
		s, _, st := newTestServer(t, twoMinuteVideo())
		_, err := s.handle(context.Background(), HighlightEvent{RequestID: testID, Key: "uploads/other.mov"})
		if err == nil {
			t.Fatal("expected download error")
		}
		if !strings.Contains(st.failMsg, "download video") {
			t.Errorf("fail reason = %q", st.failMsg)
		}
	})
}

func TestRequestFromEvent(t *testing.T) {
	s, _, _ := newTestServer(t, twoMinuteVideo())
	req := s.request(HighlightEvent{SegmentLengthMinutes: 3, SamplingStrategy: "scene_change"}, testID, "/tmp/v.mp4")

	if req.SegmentLengthMinutes != 3 || req.Strategy != "scene_change" {
		t.Errorf("event values not applied: %+v", req)
	}
	if req.ImagesPerSegment != s.cfg.ImagesPerSegment || req.Format != s.cfg.Format {
		t.Errorf("defaults not applied: %+v", req)
	}
	if req.ID != testID || req.VideoPath != "/tmp/v.mp4" {
		t.Errorf("req = %+v", req)
	}
}

// The package must load without MEDIA_BUCKET_NAME or AWS credentials; only
// main runs the cold-start setup.
func TestServerNotBuiltAtLoad(t *testing.T) {
	if os.Getenv("MEDIA_BUCKET_NAME") != "" {
		t.Skip("bucket configured in the environment")
	}
	if srv != nil {
		t.Fatal("server built during package initialization")
	}
}
