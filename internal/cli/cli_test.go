package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{59 * time.Second, "0:59"},
		{3*time.Minute + 5*time.Second, "3:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0:00.000"},
		{33, "0:00.033"},
		{48000, "0:48.000"},
		{168033, "2:48.033"},
		{3723004, "1:02:03.004"},
		{-5, "0:00.000"},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.ms); got != tt.want {
			t.Errorf("FormatTimestamp(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestPromptForVideo(t *testing.T) {
	var out bytes.Buffer
	got, err := PromptForVideo(strings.NewReader("  /videos/trip.mp4 \n"), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/videos/trip.mp4" {
		t.Errorf("path = %q", got)
	}
	if !strings.Contains(out.String(), "Video file") {
		t.Errorf("prompt not written: %q", out.String())
	}

	t.Run("no trailing newline", func(t *testing.T) {
		got, err := PromptForVideo(strings.NewReader("clip.mov"), &bytes.Buffer{})
		if err != nil || got != "clip.mov" {
			t.Errorf("got %q, %v", got, err)
		}
	})

	t.Run("empty answer cancels", func(t *testing.T) {
		_, err := PromptForVideo(strings.NewReader("\n"), &bytes.Buffer{})
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("err = %v, want ErrCanceled", err)
		}
	})
}

func TestValidateVideoPath(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(video, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "folder.mov"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := ValidateVideoPath(video)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != video {
		t.Errorf("path = %q, want %q", got, video)
	}

	for _, bad := range []string{
		filepath.Join(dir, "missing.mp4"),
		filepath.Join(dir, "folder.mov"),
		filepath.Join(dir, "notes.txt"),
	} {
		if _, err := ValidateVideoPath(bad); err == nil {
			t.Errorf("ValidateVideoPath(%q) succeeded, want error", bad)
		}
	}
}
