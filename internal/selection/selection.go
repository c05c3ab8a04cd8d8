// Package selection runs the score-and-retain passes over candidate stills:
// a technical pass per segment and an aesthetic pass over every segment's
// winners.
package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/scorer"
	"github.com/fpang/highlight-generator/internal/staging"
)

// ErrEmptyInput is returned with an empty Result when there is nothing to
// select from. Callers treat it as "no winners", not as a failure.
var ErrEmptyInput = errors.New("no candidates to select from")

// Result is the kept set, best first.
type Result struct {
	Kept []frames.Scored
}

// Candidates returns the kept candidates without their scores.
func (r Result) Candidates() []frames.Candidate {
	out := make([]frames.Candidate, len(r.Kept))
	for i, s := range r.Kept {
		out[i] = s.Candidate
	}
	return out
}

// TopK returns the k best entries of scored (higher score first, earlier
// timestamp on ties) without modifying the input.
func TopK(scored []frames.Scored, k int) []frames.Scored {
	out := make([]frames.Scored, len(scored))
	copy(out, scored)
	frames.SortByScore(out)
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// Pipeline pairs the two scorer configurations.
type Pipeline struct {
	Technical scorer.Scorer
	Aesthetic scorer.Scorer
}

// TechnicalPass keeps the k technically best candidates of one segment.
func (p *Pipeline) TechnicalPass(ctx context.Context, area *staging.Area, cands []frames.Candidate, k int) (Result, error) {
	return Select(ctx, area, p.Technical, cands, k)
}

// AestheticPass keeps the k most appealing candidates overall.
func (p *Pipeline) AestheticPass(ctx context.Context, area *staging.Area, cands []frames.Candidate, k int) (Result, error) {
	return Select(ctx, area, p.Aesthetic, cands, k)
}

// Best returns the single most appealing candidate, used to pick one frame
// per detected scene.
func (p *Pipeline) Best(ctx context.Context, area *staging.Area, cands []frames.Candidate) (frames.Scored, error) {
	res, err := Select(ctx, area, p.Aesthetic, cands, 1)
	if err != nil {
		return frames.Scored{}, err
	}
	return res.Kept[0], nil
}

// Select admits cands into area, scores them batch by batch within the
// scorer's capacity, promotes the k best and discards the rest. Which
// candidates share a batch depends only on admission order and has no
// effect on the outcome since ranking happens after every batch is scored.
func Select(ctx context.Context, area *staging.Area, s scorer.Scorer, cands []frames.Candidate, k int) (Result, error) {
	if len(cands) == 0 {
		return Result{}, ErrEmptyInput
	}
	if k < 1 {
		k = 1
	}
	if area.Capacity() > s.Capacity() {
		return Result{}, fmt.Errorf("area %s capacity %d exceeds %s scorer capacity %d",
			area.Name(), area.Capacity(), s.Variant(), s.Capacity())
	}

	if err := area.Admit(cands); err != nil {
		return Result{}, err
	}

	scored := make([]frames.Scored, 0, len(cands))
	batches := 0
	for {
		batch := area.Pending()
		if len(batch) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := s.Score(ctx, batch)
		if err != nil {
			return Result{}, fmt.Errorf("%s scoring batch of %d in %s: %w", s.Variant(), len(batch), area.Name(), err)
		}
		if err := matchBatch(batch, res); err != nil {
			return Result{}, fmt.Errorf("%s scoring in %s: %w", s.Variant(), area.Name(), err)
		}
		if err := area.MarkScored(batch); err != nil {
			return Result{}, err
		}
		scored = append(scored, res...)
		batches++

		if _, err := area.DrainOverflow(); err != nil {
			return Result{}, err
		}
	}

	top := TopK(scored, k)
	keep := make(map[int64]bool, len(top))
	kept := make([]frames.Scored, 0, len(top))
	for _, sc := range top {
		c, err := area.Promote(sc.Candidate)
		if err != nil {
			return Result{}, err
		}
		keep[sc.TimestampMs] = true
		kept = append(kept, frames.Scored{Candidate: c, Score: sc.Score})
	}
	for _, sc := range scored {
		if keep[sc.TimestampMs] {
			continue
		}
		if err := area.Discard(sc.Candidate); err != nil {
			return Result{}, err
		}
	}

	log.Debug().
		Str("area", area.Name()).
		Str("variant", string(s.Variant())).
		Int("candidates", len(cands)).
		Int("batches", batches).
		Int("kept", len(kept)).
		Msg("Selection complete")
	return Result{Kept: kept}, nil
}

// matchBatch checks that a scorer answered once per input, in order.
func matchBatch(batch []frames.Candidate, res []frames.Scored) error {
	if len(res) != len(batch) {
		return fmt.Errorf("scorer returned %d scores for %d images", len(res), len(batch))
	}
	for i := range batch {
		if res[i].TimestampMs != batch[i].TimestampMs {
			return fmt.Errorf("score %d is for %d, expected %d", i, res[i].TimestampMs, batch[i].TimestampMs)
		}
	}
	return nil
}
