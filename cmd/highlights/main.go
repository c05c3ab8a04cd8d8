package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/highlight-generator/internal/bundle"
	"github.com/fpang/highlight-generator/internal/cli"
	"github.com/fpang/highlight-generator/internal/highlights"
	"github.com/fpang/highlight-generator/internal/logging"
	"github.com/fpang/highlight-generator/internal/scorer"
	"github.com/fpang/highlight-generator/internal/video"
)

// CLI flags
var (
	videoFlag            string
	outputFlag           string
	segmentLengthFlag    int
	imagesPerSegmentFlag int
	summaryImagesFlag    int
	strategyFlag         string
	formatFlag           string
	workersFlag          int
	scorerFlag           string
	modelFlag            string
	bundleFlag           string
	jsonFlag             bool
)

// rootCmd is the main Cobra command for the highlights CLI.
var rootCmd = &cobra.Command{
	Use:   "highlights",
	Short: "Extract the best still frames from a video",
	Long: `Highlights splits a video into fixed-length segments, samples candidate frames
from each segment, scores them for technical quality and aesthetic appeal, and
writes the best frames of the whole video as full-resolution stills.

Sampling is either uniform (a fixed number of frames per segment) or
scene_change (one representative frame per detected scene). Scoring runs
locally by default; --scorer gemini rates stills with a Gemini model.

Examples:
  highlights --video trip.mp4
  highlights -v trip.mov -o ./stills --summary-images 5 --format png
  highlights -v trip.mp4 --strategy scene_change --segment-length 2
  highlights -v trip.mp4 --scorer gemini --bundle trip-highlights.zip
  highlights  # Interactive mode - opens a file picker`,
	Args: cobra.NoArgs,
	RunE: runMain,
}

func init() {
	d := highlights.DefaultConfig()
	rootCmd.Flags().StringVarP(&videoFlag, "video", "v", "", "Video file to extract highlights from (.mp4 or .mov)")
	rootCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Directory for the highlight stills (default <output dir>/<request id>)")
	rootCmd.Flags().IntVar(&segmentLengthFlag, "segment-length", d.SegmentLengthMinutes, "Segment length in minutes")
	rootCmd.Flags().IntVar(&imagesPerSegmentFlag, "images-per-segment", d.ImagesPerSegment, "Winners kept from each segment")
	rootCmd.Flags().IntVar(&summaryImagesFlag, "summary-images", d.SummaryImageCount, "Highlights kept for the whole video")
	rootCmd.Flags().StringVar(&strategyFlag, "strategy", d.Strategy, "Sampling strategy: uniform or scene_change")
	rootCmd.Flags().StringVar(&formatFlag, "format", d.Format, "Output image format: jpg or png")
	rootCmd.Flags().IntVar(&workersFlag, "workers", d.Workers, "Concurrent segment workers in uniform mode")
	rootCmd.Flags().StringVar(&scorerFlag, "scorer", d.Scorer, "Scoring backend: heuristic or gemini")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", d.Model, "Gemini model used by --scorer gemini")
	rootCmd.Flags().StringVar(&bundleFlag, "bundle", "", "Also write the highlights into this zip file")
	rootCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the result as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) error {
	logging.Init()
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	videoPath := videoFlag
	if videoPath == "" {
		picked, err := cli.PickVideo()
		if errors.Is(err, cli.ErrCanceled) {
			log.Info().Msg("No video selected")
			return nil
		}
		if err != nil {
			return err
		}
		videoPath = picked
	}
	videoPath, err := cli.ValidateVideoPath(videoPath)
	if err != nil {
		return err
	}

	cfg := configFromFlags(cmd, highlights.LoadConfig())

	var apiKey string
	if strings.EqualFold(cfg.Scorer, scorer.BackendGemini) {
		apiKey = cli.InitGeminiKey(ctx, cfg.Model)
	}
	pipeline, err := highlights.NewPipeline(ctx, cfg, apiKey, nil)
	if err != nil {
		return err
	}

	req := cfg.Request(videoPath)
	req.OutputDir = outputFlag

	log.Info().
		Str("video", videoPath).
		Str("strategy", req.Strategy).
		Str("scorer", cfg.Scorer).
		Int("segment_length_minutes", req.SegmentLengthMinutes).
		Int("summary_images", req.SummaryImageCount).
		Msg("Starting highlight extraction")

	start := time.Now()
	res, err := highlights.New(cfg, video.Open, pipeline).Generate(ctx, req)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if bundleFlag != "" {
		size, err := bundle.WriteFile(bundleFlag, res.Paths())
		if err != nil {
			return err
		}
		log.Info().Str("bundle", bundleFlag).Int64("bytes", size).Msg("Highlights bundled")
	}

	if jsonFlag {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printReport(cmd.OutOrStdout(), filepath.Base(videoPath), res, elapsed)
	return nil
}

// configFromFlags lays explicitly set flags over the environment config.
func configFromFlags(cmd *cobra.Command, cfg highlights.Config) highlights.Config {
	flags := cmd.Flags()
	if flags.Changed("segment-length") {
		cfg.SegmentLengthMinutes = segmentLengthFlag
	}
	if flags.Changed("images-per-segment") {
		cfg.ImagesPerSegment = imagesPerSegmentFlag
	}
	if flags.Changed("summary-images") {
		cfg.SummaryImageCount = summaryImagesFlag
	}
	if flags.Changed("strategy") {
		cfg.Strategy = strategyFlag
	}
	if flags.Changed("format") {
		cfg.Format = formatFlag
	}
	if flags.Changed("workers") {
		cfg.Workers = workersFlag
	}
	if flags.Changed("scorer") {
		cfg.Scorer = scorerFlag
	}
	if flags.Changed("model") {
		cfg.Model = modelFlag
	}
	return cfg
}
