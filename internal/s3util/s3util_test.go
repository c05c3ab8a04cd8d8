package s3util

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// memS3 is an in-memory bucket.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failKey string
}

func newMemS3() *memS3 {
	return &memS3{objects: make(map[string][]byte), types: make(map[string]string)}
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
	if *in.Key == m.failKey {
		return nil, errors.New("AccessDenied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Bucket+"/"+*in.Key] = body
	m.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func TestDownloadToFile(t *testing.T) {
	m := newMemS3()
	m.objects["media/trip.mp4"] = []byte("not really a video")

	dst := filepath.Join(t.TempDir(), "trip.mp4")
	if err := DownloadToFile(context.Background(), m, "media", "trip.mp4", dst); err != nil {
		t.Fatalf("DownloadToFile: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "not really a video" {
		t.Errorf("downloaded %q", got)
	}

	if err := DownloadToFile(context.Background(), m, "media", "missing.mp4", dst); err == nil {
		t.Error("expected an error for a missing key")
	}
}

func TestDownloadToTempDir(t *testing.T) {
	m := newMemS3()
	m.objects["media/uploads/clip.mov"] = []byte("mov")

	path, cleanup, err := DownloadToTempDir(context.Background(), m, "media", "uploads/clip.mov", t.TempDir())
	if err != nil {
		t.Fatalf("DownloadToTempDir: %v", err)
	}
	if filepath.Ext(path) != ".mov" {
		t.Errorf("extension not kept: %s", path)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("cleanup did not remove the file")
	}
}

func TestUploadHighlights(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"frame_1000.jpg", "frame_5000.jpg", "frame_9000.jpg"} {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte(name), 0644)
		paths = append(paths, p)
	}

	m := newMemS3()
	keys, err := UploadHighlights(context.Background(), m, "out", "highlights", "req-1", paths, "image/jpeg")
	if err != nil {
		t.Fatalf("UploadHighlights: %v", err)
	}

	want := []string{"highlights/req-1/frame_1000.jpg", "highlights/req-1/frame_5000.jpg", "highlights/req-1/frame_9000.jpg"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", keys, want)
	}
	stored := make([]string, 0, len(m.objects))
	for k := range m.objects {
		stored = append(stored, k)
	}
	sort.Strings(stored)
	if len(stored) != 3 || stored[0] != "out/highlights/req-1/frame_1000.jpg" {
		t.Errorf("stored objects = %v", stored)
	}
	if m.types[want[0]] != "image/jpeg" {
		t.Errorf("content type = %q", m.types[want[0]])
	}
}

func TestUploadHighlights_Failure(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "frame_0.jpg")
	os.WriteFile(p, []byte("x"), 0644)

	m := newMemS3()
	m.failKey = "h/req/frame_0.jpg"
	if _, err := UploadHighlights(context.Background(), m, "out", "h", "req", []string{p}, "image/jpeg"); err == nil {
		t.Fatal("expected the upload error to surface")
	}
}

func TestHighlightKey(t *testing.T) {
	if got := HighlightKey("", "abc", "frame_0.png"); got != "abc/frame_0.png" {
		t.Errorf("HighlightKey without prefix = %q", got)
	}
	if got := HighlightKey("highlights/", "abc", "frame_0.png"); got != "highlights/abc/frame_0.png" {
		t.Errorf("HighlightKey = %q", got)
	}
}
