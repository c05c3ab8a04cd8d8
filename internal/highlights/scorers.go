package highlights

import (
	"context"
	"fmt"
	"strings"

	"github.com/fpang/highlight-generator/internal/metrics"
	"github.com/fpang/highlight-generator/internal/scorer"
	"github.com/fpang/highlight-generator/internal/selection"
)

// NewPipeline builds the technical and aesthetic scorers for cfg.Scorer.
// apiKey is only needed by the gemini backend; rec may be nil.
func NewPipeline(ctx context.Context, cfg Config, apiKey string, rec *metrics.Recorder) (*selection.Pipeline, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Scorer)) {
	case scorer.BackendHeuristic, "":
		return &selection.Pipeline{
			Technical: scorer.NewHeuristic(scorer.Technical, 0),
			Aesthetic: scorer.NewHeuristic(scorer.Aesthetic, 0),
		}, nil
	case scorer.BackendGemini:
		client, err := scorer.NewGeminiClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return &selection.Pipeline{
			Technical: scorer.NewGemini(client, cfg.Model, scorer.Technical, 0).WithMetrics(rec),
			Aesthetic: scorer.NewGemini(client, cfg.Model, scorer.Aesthetic, 0).WithMetrics(rec),
		}, nil
	default:
		return nil, fmt.Errorf("unknown scorer backend %q (want %s or %s)", cfg.Scorer, scorer.BackendHeuristic, scorer.BackendGemini)
	}
}
