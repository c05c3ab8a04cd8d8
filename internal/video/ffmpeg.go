package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// FFmpegSource decodes frames through an ffmpeg rawvideo pipe. Seeking
// restarts the decoder at the requested frame.
type FFmpegSource struct {
	ctx        context.Context
	path       string
	ffmpegPath string
	meta       *Metadata

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer

	next      int64
	frameSize int
}

// Open probes path and prepares a decoder positioned at the first frame.
// It satisfies Opener.
func Open(ctx context.Context, path string) (Source, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH: %v", ErrUnreadable, err)
	}

	meta, err := Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("%w: %s: no decodable picture size", ErrUnreadable, path)
	}

	log.Debug().
		Str("path", path).
		Float64("fps", meta.FrameRate).
		Int64("frames", meta.FrameCount).
		Dur("duration", meta.Duration).
		Int("width", meta.Width).
		Int("height", meta.Height).
		Str("codec", meta.Codec).
		Msg("Video opened")

	return &FFmpegSource{
		ctx:        ctx,
		path:       path,
		ffmpegPath: ffmpegPath,
		meta:       meta,
		frameSize:  meta.Width * meta.Height * 4,
	}, nil
}

// Metadata returns the probed stream metadata.
func (s *FFmpegSource) Metadata() *Metadata { return s.meta }

func (s *FFmpegSource) FPS() float64      { return s.meta.FrameRate }
func (s *FFmpegSource) FrameCount() int64 { return s.meta.FrameCount }
func (s *FFmpegSource) DurationMs() int64 { return s.meta.Duration.Milliseconds() }

func (s *FFmpegSource) SeekTo(ms int64) error {
	s.stop(false)
	if s.meta.FrameRate <= 0 {
		return fmt.Errorf("%w: unknown frame rate", ErrFrameUnreadable)
	}
	s.next = FirstFrameAt(ms, s.meta.FrameRate)
	return nil
}

func (s *FFmpegSource) ReadNext() (Frame, error) {
	if s.cmd == nil {
		if err := s.start(); err != nil {
			return Frame{}, err
		}
	}

	buf := make([]byte, s.frameSize)
	n, err := io.ReadFull(s.stdout, buf)
	switch {
	case err == io.EOF:
		if waitErr := s.stop(true); waitErr != nil {
			return Frame{}, fmt.Errorf("%w: frame %d: %v", ErrFrameUnreadable, s.next, waitErr)
		}
		return Frame{}, io.EOF
	case err != nil:
		s.stop(false)
		return Frame{}, fmt.Errorf("%w: frame %d: short read (%d of %d bytes): %v",
			ErrFrameUnreadable, s.next, n, s.frameSize, err)
	}

	img := &image.RGBA{
		Pix:    buf,
		Stride: s.meta.Width * 4,
		Rect:   image.Rect(0, 0, s.meta.Width, s.meta.Height),
	}
	f := Frame{
		Index:       s.next,
		TimestampMs: TimestampAt(s.next, s.meta.FrameRate),
		Image:       img,
	}
	s.next++
	return f, nil
}

func (s *FFmpegSource) Release() error {
	s.stop(false)
	return nil
}

// start launches ffmpeg decoding from frame s.next.
func (s *FFmpegSource) start() error {
	args := []string{"-v", "error", "-nostdin"}
	if s.next > 0 {
		sec := float64(s.next) / s.meta.FrameRate
		args = append(args, "-ss", strconv.FormatFloat(sec, 'f', 6, 64))
	}
	args = append(args,
		"-i", s.path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-vsync", "0",
		"-",
	)

	s.stderr.Reset()
	cmd := exec.CommandContext(s.ctx, s.ffmpegPath, args...)
	cmd.Stderr = &s.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrFrameUnreadable, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", ErrFrameUnreadable, err)
	}

	log.Debug().Str("path", s.path).Int64("frame", s.next).Strs("args", args).Msg("Decoder started")
	s.cmd = cmd
	s.stdout = stdout
	return nil
}

// stop terminates the running decoder, if any. Mid-stream it kills the
// process; after EOF it waits and reports a non-zero exit with stderr.
func (s *FFmpegSource) stop(atEOF bool) error {
	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd = nil
	s.stdout = nil

	if !atEOF && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil
	}

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return fmt.Errorf("%v: %s", err, msg)
		}
		return err
	}
	return nil
}
