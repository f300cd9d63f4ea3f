package reconcile

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunInline reconciles chunks inside this process. Chunks run concurrently
// on at most workers goroutines; each returns its result as a value and
// the stale diff runs only after every chunk has returned.
func (r *Reconciler) RunInline(ctx context.Context, chunks []Chunk, workers int) (Summary, error) {
	if workers <= 0 {
		workers = 1
	}
	if len(chunks) == 0 {
		return Summary{}, fmt.Errorf("%w: no data rows", ErrSourceUnavailable)
	}
	pass, err := r.Begin(ctx, SourceCSV, len(chunks))
	if err != nil {
		return Summary{}, err
	}

	results := make([]ChunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			res, err := r.ProcessChunk(gctx, pass, chunk)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.Abort(ctx, pass, err)
		return Summary{}, err
	}

	merged := Merge(results)
	summary := Summary{Counts: merged.Counts}
	summary.Notified = r.Publish(ctx, pass, merged.Events)
	return r.finish(ctx, pass, merged.Processed, summary)
}
