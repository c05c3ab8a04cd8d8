// Package main provides the Lambda entry point for highlight extraction.
//
// One invocation handles one video: it downloads the object from S3 into
// /tmp, runs the highlight generator, uploads the stills and a zip bundle
// under highlights/<requestId>/, and returns presigned URLs. When
// DYNAMO_TABLE_NAME is set the request's phase and outcome are tracked in
// DynamoDB.
//
// Container: Heavy (includes ffmpeg and ffprobe)
// Memory: 4 GB
// Timeout: 15 minutes
package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/highlights"
	"github.com/fpang/highlight-generator/internal/lambdaboot"
	"github.com/fpang/highlight-generator/internal/logging"
	"github.com/fpang/highlight-generator/internal/metrics"
	"github.com/fpang/highlight-generator/internal/s3util"
	"github.com/fpang/highlight-generator/internal/scorer"
	"github.com/fpang/highlight-generator/internal/selection"
	"github.com/fpang/highlight-generator/internal/video"
)

var coldStart = true

// srv is built once at cold start, from main.
var srv *server

// setup performs the cold-start work: logging, AWS clients, the Gemini key
// when needed, and the server. It exits when required configuration is
// missing.
func setup() *server {
	initStart := time.Now()
	logging.Init()

	cfg := highlights.LoadConfig()
	if os.Getenv("HIGHLIGHTS_OUTPUT_DIR") == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "highlights-output")
	}

	aws := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(aws.Config, "MEDIA_BUCKET_NAME")

	var apiKey string
	gemini := strings.EqualFold(cfg.Scorer, scorer.BackendGemini)
	if gemini {
		apiKey = lambdaboot.LoadGeminiKey(aws.SSM)
	}

	s := &server{
		s3:     s3s.Client,
		bucket: s3s.Bucket,
		prefix: logging.EnvOrDefault("HIGHLIGHTS_KEY_PREFIX", defaultKeyPrefix),
		presign: func(ctx context.Context, bucket, key string) (string, error) {
			return s3util.GeneratePresignedURL(ctx, s3s.Presigner, bucket, key, urlExpiry)
		},
		cfg:  cfg,
		open: video.Open,
		pipeline: func(ctx context.Context, rec *metrics.Recorder) (*selection.Pipeline, error) {
			return highlights.NewPipeline(ctx, cfg, apiKey, rec)
		},
		workDir: filepath.Join(os.TempDir(), "video"),
	}
	if ds := lambdaboot.InitDynamoOptional(aws.Config, "DYNAMO_TABLE_NAME"); ds != nil {
		s.store = ds
	}

	startup := lambdaboot.StartupLog("highlights-lambda", initStart).
		S3Bucket("mediaBucket", s3s.Bucket).
		DynamoTable("requests", os.Getenv("DYNAMO_TABLE_NAME")).
		Config("scorer", cfg.Scorer).
		Config("strategy", cfg.Strategy).
		Config("workers", strconv.Itoa(cfg.Workers))
	if gemini {
		startup = startup.SSMParam("geminiApiKey", lambdaboot.GeminiKeyParam())
	}
	startup.Log()
	return s
}

func main() {
	srv = setup()
	lambda.Start(handler)
}

func handler(ctx context.Context, event HighlightEvent) (*HighlightResponse, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "highlights-lambda").Msg("Cold start, first invocation")
	}
	return srv.handle(ctx, event)
}
