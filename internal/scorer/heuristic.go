package scorer

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/highlight-generator/internal/frames"
)

// Heuristic scores stills locally from image statistics. Technical favours
// sharp, well exposed frames; Aesthetic favours colourful, contrasty ones.
type Heuristic struct {
	variant  Variant
	capacity int
	workers  int
}

// NewHeuristic returns a local scorer. capacity <= 0 uses DefaultCapacity.
func NewHeuristic(variant Variant, capacity int) *Heuristic {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Heuristic{variant: variant, capacity: capacity, workers: runtime.NumCPU()}
}

func (h *Heuristic) Capacity() int    { return h.capacity }
func (h *Heuristic) Variant() Variant { return h.variant }

// Score decodes and rates the batch concurrently.
func (h *Heuristic) Score(ctx context.Context, images []frames.Candidate) ([]frames.Scored, error) {
	if err := checkBatch(h, images); err != nil {
		return nil, err
	}

	out := make([]frames.Scored, len(images))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)

	for i, c := range images {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := frames.Load(c.Path)
			if err != nil {
				return fmt.Errorf("score %d: %w", c.TimestampMs, err)
			}
			out[i] = frames.Scored{Candidate: c, Score: combine(analyze(img), h.variant)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("variant", string(h.variant)).
		Int("images", len(images)).
		Msg("Heuristic batch scored")
	return out, nil
}
