package highlights

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fpang/highlight-generator/internal/sampler"
	"github.com/fpang/highlight-generator/internal/scorer"
	"github.com/fpang/highlight-generator/internal/segment"
	"github.com/fpang/highlight-generator/internal/video"
)

// sampleParallel fans segments out to a bounded pool of workers. Each
// worker opens its own video source. An unavailable scorer cancels the
// remaining work; cancellation stops dispatching new segments.
func (g *Generator) sampleParallel(ctx context.Context, r *run) ([]segmentOutcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := g.cfg.Workers
	if workers > len(r.segments) {
		workers = len(r.segments)
	}

	tasks := make(chan segment.Segment)
	results := make(chan segmentOutcome, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			g.segmentWorker(ctx, r, id, tasks, results)
		}(w)
	}

	go func() {
		defer close(tasks)
		for _, seg := range r.segments {
			select {
			case tasks <- seg:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]segmentOutcome, 0, len(r.segments))
	var fatal error
	for o := range results {
		if fatal == nil && errors.Is(o.err, scorer.ErrUnavailable) {
			fatal = o.err
			cancel()
		}
		outcomes = append(outcomes, o)
	}
	if fatal != nil {
		return nil, fatal
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })
	return outcomes, nil
}

func (g *Generator) segmentWorker(ctx context.Context, r *run, id int, tasks <-chan segment.Segment, results chan<- segmentOutcome) {
	logger := r.logger.With().Int("worker", id).Logger()

	var src video.Source
	var openErr error
	defer func() {
		if src != nil {
			src.Release()
		}
	}()

	for seg := range tasks {
		if src == nil && openErr == nil {
			src, openErr = g.open(ctx, r.req.VideoPath)
			if openErr != nil {
				logger.Error().Err(openErr).Msg("Worker could not open video")
			}
		}
		if openErr != nil {
			results <- segmentOutcome{index: seg.Index, err: openErr}
			continue
		}
		results <- g.processSegment(ctx, r, src, seg, sampler.PipelineState{})
	}
}
