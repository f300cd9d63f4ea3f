package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/catalog-sync/internal/upstream"
)

// Fetcher returns the remote catalog snapshot.
type Fetcher interface {
	FetchProducts(ctx context.Context) ([]upstream.Record, error)
}

// Sync runs one API-sourced pass: a single fetch followed by a sequential
// walk of the snapshot. Variations are upserted by name over the
// recognized attribute set. A failed fetch or an empty snapshot aborts
// before any read or write.
func (r *Reconciler) Sync(ctx context.Context, fetcher Fetcher) (Summary, error) {
	records, err := fetcher.FetchProducts(ctx)
	if err != nil {
		r.logger.Error("failed to fetch products from API", slog.Any("error", err))
		return Summary{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if len(records) == 0 {
		return Summary{}, fmt.Errorf("%w: empty snapshot", ErrSourceUnavailable)
	}

	pass, err := r.Begin(ctx, SourceAPI, 1)
	if err != nil {
		return Summary{}, err
	}
	rows := make([]row, len(records))
	for i, rec := range records {
		rows[i] = remoteRow{index: i, record: rec}
	}
	result, err := r.processRows(ctx, pass, 0, UpsertByName{Attributes: RecognizedAttributes}, rows)
	if err != nil {
		r.Abort(ctx, pass, err)
		return Summary{}, err
	}
	if _, err := r.CompleteChunk(ctx, pass, result); err != nil {
		r.Abort(ctx, pass, err)
		return Summary{}, err
	}

	merged := Merge([]ChunkResult{result})
	summary := Summary{Counts: merged.Counts}
	summary.Notified = r.Publish(ctx, pass, merged.Events)
	return r.finish(ctx, pass, merged.Processed, summary)
}
