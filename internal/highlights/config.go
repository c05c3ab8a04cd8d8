package highlights

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/logging"
	"github.com/fpang/highlight-generator/internal/sampler"
	"github.com/fpang/highlight-generator/internal/scorer"
)

// Request parameter defaults.
const (
	DefaultSegmentLengthMinutes = 1
	DefaultImagesPerSegment     = 1
	DefaultSummaryImageCount    = 10
)

// Config holds the request defaults and the tuning that is not part of a
// request. LoadConfig fills it from HIGHLIGHTS_* environment variables;
// the CLI and the Lambda override fields from flags and events.
type Config struct {
	SegmentLengthMinutes int
	ImagesPerSegment     int
	SummaryImageCount    int
	Strategy             string
	Format               string

	// Workers bounds concurrent segment workers in uniform mode.
	Workers int
	// SamplesPerSegment is the uniform sampler's target rate.
	SamplesPerSegment int
	SceneThreshold    float64
	// SceneStride looks at every n-th frame when detecting scenes.
	SceneStride int
	// Resolution is the edge length stills are resized to for scoring.
	Resolution int

	// StagingDir holds per-request working trees.
	StagingDir string
	// OutputDir receives <requestID>/ when a request names no output dir.
	OutputDir string

	// Scorer selects the scoring backend: heuristic or gemini.
	Scorer string
	Model  string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		SegmentLengthMinutes: DefaultSegmentLengthMinutes,
		ImagesPerSegment:     DefaultImagesPerSegment,
		SummaryImageCount:    DefaultSummaryImageCount,
		Strategy:             sampler.Uniform,
		Format:               frames.FormatJPG,
		Workers:              runtime.NumCPU(),
		SamplesPerSegment:    sampler.DefaultSamplesPerSegment,
		SceneThreshold:       sampler.DefaultSceneThreshold,
		SceneStride:          1,
		Resolution:           frames.ScoreResolution,
		StagingDir:           filepath.Join(os.TempDir(), "highlights-staging"),
		OutputDir:            "highlights",
		Scorer:               scorer.BackendHeuristic,
		Model:                scorer.ModelName(),
	}
}

// LoadConfig returns DefaultConfig overridden by the environment.
func LoadConfig() Config {
	d := DefaultConfig()
	return Config{
		SegmentLengthMinutes: logging.EnvIntOrDefault("HIGHLIGHTS_SEGMENT_LENGTH_MINUTES", d.SegmentLengthMinutes),
		ImagesPerSegment:     logging.EnvIntOrDefault("HIGHLIGHTS_IMAGES_PER_SEGMENT", d.ImagesPerSegment),
		SummaryImageCount:    logging.EnvIntOrDefault("HIGHLIGHTS_SUMMARY_IMAGES", d.SummaryImageCount),
		Strategy:             logging.EnvOrDefault("HIGHLIGHTS_STRATEGY", d.Strategy),
		Format:               logging.EnvOrDefault("HIGHLIGHTS_FORMAT", d.Format),
		Workers:              logging.EnvIntOrDefault("HIGHLIGHTS_WORKERS", d.Workers),
		SamplesPerSegment:    logging.EnvIntOrDefault("HIGHLIGHTS_SAMPLES_PER_SEGMENT", d.SamplesPerSegment),
		SceneThreshold:       logging.EnvFloatOrDefault("HIGHLIGHTS_SCENE_THRESHOLD", d.SceneThreshold),
		SceneStride:          logging.EnvIntOrDefault("HIGHLIGHTS_SCENE_STRIDE", d.SceneStride),
		Resolution:           logging.EnvIntOrDefault("HIGHLIGHTS_SCORE_RESOLUTION", d.Resolution),
		StagingDir:           logging.EnvOrDefault("HIGHLIGHTS_STAGING_DIR", d.StagingDir),
		OutputDir:            logging.EnvOrDefault("HIGHLIGHTS_OUTPUT_DIR", d.OutputDir),
		Scorer:               logging.EnvOrDefault("HIGHLIGHTS_SCORER", d.Scorer),
		Model:                d.Model,
	}
}

// Request returns a request for videoPath carrying the configured
// parameter defaults.
func (c Config) Request(videoPath string) Request {
	return Request{
		VideoPath:            videoPath,
		SegmentLengthMinutes: c.SegmentLengthMinutes,
		ImagesPerSegment:     c.ImagesPerSegment,
		SummaryImageCount:    c.SummaryImageCount,
		Strategy:             c.Strategy,
		Format:               c.Format,
	}
}
