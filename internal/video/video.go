// Package video exposes a decodable video as a seekable, sequential frame
// source. The production implementation drives ffprobe and ffmpeg; tests
// use the in-memory source in videotest.
package video

import (
	"context"
	"errors"
	"image"
	"math"
	"path/filepath"
	"strings"
)

// SupportedExtensions maps accepted container extensions to their MIME type.
var SupportedExtensions = map[string]string{
	".mov": "video/quicktime",
	".mp4": "video/mp4",
}

// IsSupported reports whether name has an accepted container extension.
func IsSupported(name string) bool {
	_, ok := SupportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

var (
	// ErrUnreadable means the video could not be opened or probed at all.
	ErrUnreadable = errors.New("video unreadable")

	// ErrFrameUnreadable means a single frame could not be decoded. The
	// source stays usable after a SeekTo.
	ErrFrameUnreadable = errors.New("frame unreadable")
)

// Frame is one decoded picture. TimestampMs is derived from Index and the
// source frame rate so it is stable across seeks.
type Frame struct {
	Index       int64
	TimestampMs int64
	Image       image.Image
}

// Source is a decodable video. A Source is used by one goroutine at a time;
// concurrent workers each open their own.
type Source interface {
	FPS() float64
	FrameCount() int64
	DurationMs() int64

	// SeekTo positions the source so the next ReadNext returns the first
	// frame whose timestamp is at or after ms.
	SeekTo(ms int64) error

	// ReadNext returns the next frame, io.EOF at end of stream, or an error
	// wrapping ErrFrameUnreadable.
	ReadNext() (Frame, error)

	Release() error
}

// Opener opens a Source for path. Errors wrap ErrUnreadable.
type Opener func(ctx context.Context, path string) (Source, error)

// TimestampAt returns the presentation time in ms of frame index i.
func TimestampAt(i int64, fps float64) int64 {
	return int64(math.Floor(float64(i)*1000/fps + 1e-9))
}

// FirstFrameAt returns the index of the first frame whose timestamp is at
// or after ms.
func FirstFrameAt(ms int64, fps float64) int64 {
	if ms <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(ms)*fps/1000 - 1e-9))
}
