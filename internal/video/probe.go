package video

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ffprobeOutput represents the JSON structure from ffprobe.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

type ffprobeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Duration     string            `json:"duration"`
	NbFrames     string            `json:"nb_frames"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation int `json:"rotation"`
	} `json:"side_data_list"`
}

// Metadata describes the first video stream of a file.
type Metadata struct {
	Duration   time.Duration
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int64
	Codec      string
	Format     string
}

// Probe reads stream metadata with ffprobe. Width and Height are the
// displayed dimensions, so rotated phone footage reports portrait sizes,
// matching what ffmpeg decodes with autorotation.
func Probe(ctx context.Context, path string) (*Metadata, error) {
	log.Debug().Str("path", path).Msg("Probing video with ffprobe")

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbe(output)
}

func parseProbe(output []byte) (*Metadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var stream *ffprobeStream
	for i := range probe.Streams {
		if probe.Streams[i].CodecType == "video" {
			stream = &probe.Streams[i]
			break
		}
	}
	if stream == nil {
		return nil, fmt.Errorf("no video stream")
	}

	meta := &Metadata{
		Width:     stream.Width,
		Height:    stream.Height,
		Codec:     stream.CodecName,
		Format:    probe.Format.FormatName,
		FrameRate: parseFrameRate(stream.RFrameRate),
	}
	if meta.FrameRate == 0 {
		meta.FrameRate = parseFrameRate(stream.AvgFrameRate)
	}

	durStr := probe.Format.Duration
	if durStr == "" {
		durStr = stream.Duration
	}
	if dur, err := strconv.ParseFloat(durStr, 64); err == nil {
		meta.Duration = time.Duration(dur * float64(time.Second))
	}

	if n, err := strconv.ParseInt(stream.NbFrames, 10, 64); err == nil && n > 0 {
		meta.FrameCount = n
	} else if meta.FrameRate > 0 {
		meta.FrameCount = int64(math.Round(meta.Duration.Seconds() * meta.FrameRate))
	}

	if isQuarterTurn(rotation(stream)) {
		meta.Width, meta.Height = meta.Height, meta.Width
	}
	return meta, nil
}

func rotation(s *ffprobeStream) int {
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			return sd.Rotation
		}
	}
	if v, ok := s.Tags["rotate"]; ok {
		r, _ := strconv.Atoi(v)
		return r
	}
	return 0
}

func isQuarterTurn(deg int) bool {
	deg = ((deg % 360) + 360) % 360
	return deg == 90 || deg == 270
}

// parseFrameRate parses frame rate strings like "30/1" or "30000/1001".
func parseFrameRate(rate string) float64 {
	if rate == "" {
		return 0
	}

	parts := strings.Split(rate, "/")
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}

	if fps, err := strconv.ParseFloat(rate, 64); err == nil {
		return fps
	}
	return 0
}
