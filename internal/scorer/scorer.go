// Package scorer defines the quality-scoring contract used by the
// selection pipeline and its implementations. A scorer assigns each still
// a quality value on a 1–10 scale (the mean of a ten-bin rating
// distribution, higher is better) and accepts at most Capacity images per
// call; callers batch.
package scorer

import (
	"context"
	"errors"
	"fmt"

	"github.com/fpang/highlight-generator/internal/frames"
)

// Variant selects the weighting a scorer applies.
type Variant string

const (
	// Technical rates capture quality: focus, exposure, contrast.
	Technical Variant = "technical"
	// Aesthetic rates how pleasing the picture is.
	Aesthetic Variant = "aesthetic"
)

// DefaultCapacity is the largest batch a local scorer accepts.
const DefaultCapacity = 2048

var (
	// ErrUnavailable means no score could be produced at all. It aborts the
	// request.
	ErrUnavailable = errors.New("scorer unavailable")

	// ErrOverCapacity is returned for batches larger than Capacity.
	ErrOverCapacity = errors.New("batch exceeds scorer capacity")
)

// Scorer rates stills. Score returns one entry per input, in input order.
type Scorer interface {
	Score(ctx context.Context, images []frames.Candidate) ([]frames.Scored, error)
	Capacity() int
	Variant() Variant
}

// Backend names accepted by New.
const (
	BackendHeuristic = "heuristic"
	BackendGemini    = "gemini"
)

func checkBatch(s Scorer, images []frames.Candidate) error {
	if len(images) > s.Capacity() {
		return fmt.Errorf("%w: %d images, %s scorer takes %d", ErrOverCapacity, len(images), s.Variant(), s.Capacity())
	}
	return nil
}

// clampScore keeps a score on the 1–10 scale.
func clampScore(v float64) float64 {
	switch {
	case v < 1:
		return 1
	case v > 10:
		return 10
	default:
		return v
	}
}
