package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/catalog-sync/internal/events"
	jobmetrics "github.com/odyssey-erp/catalog-sync/internal/jobs"
	"github.com/odyssey-erp/catalog-sync/internal/products"
)

// Config wires a Reconciler.
type Config struct {
	Repo       products.Repository
	Ledger     Ledger
	Dispatcher events.Dispatcher
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	Layout     Layout
	// PruneStale enables the soft-delete of stale products at the end of
	// a pass.
	PruneStale bool
}

// Reconciler runs the per-row algorithm and the end-of-pass stale diff.
type Reconciler struct {
	repo       products.Repository
	ledger     Ledger
	dispatcher events.Dispatcher
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
	layout     Layout
	prune      bool
	clock      func() time.Time
}

// New constructs a Reconciler.
func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = events.LogSink{Logger: logger}
	}
	layout := cfg.Layout
	if layout == (Layout{}) {
		layout = DefaultLayout
	}
	return &Reconciler{
		repo:       cfg.Repo,
		ledger:     ledger,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    cfg.Metrics,
		layout:     layout,
		prune:      cfg.PruneStale,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (r *Reconciler) WithClock(clock func() time.Time) {
	if clock != nil {
		r.clock = clock
	}
}

// Ledger exposes the pass ledger.
func (r *Reconciler) Ledger() Ledger {
	return r.ledger
}

func (r *Reconciler) passLogger(pass Pass) *slog.Logger {
	return r.logger.With(slog.String("pass_id", pass.ID.String()), slog.String("source", string(pass.Source)))
}

// Begin snapshots the ids of every active product and opens a pass with
// the given number of chunks.
func (r *Reconciler) Begin(ctx context.Context, source Source, chunks int) (Pass, error) {
	existing, err := r.repo.ListAllProductIDs(ctx)
	if err != nil {
		return Pass{}, fmt.Errorf("reconcile: begin: %w", err)
	}
	pass := Pass{ID: uuid.New(), Source: source, StartedAt: r.clock(), Chunks: chunks}
	if err := r.ledger.Open(ctx, pass, existing); err != nil {
		return Pass{}, err
	}
	r.passLogger(pass).Info("reconciliation pass started", slog.Int("existing", len(existing)), slog.Int("chunks", chunks))
	return pass, nil
}

// ProcessChunk runs the per-row algorithm over every row of chunk in
// order. Row failures are logged and counted, never returned; the error
// is non-nil only when ctx is done.
func (r *Reconciler) ProcessChunk(ctx context.Context, pass Pass, chunk Chunk) (ChunkResult, error) {
	rows := make([]row, len(chunk.Rows))
	for i, rw := range chunk.Rows {
		rows[i] = csvRow{layout: r.layout, row: rw}
	}
	return r.processRows(ctx, pass, chunk.Index, ReplaceAll{}, rows)
}

func (r *Reconciler) processRows(ctx context.Context, pass Pass, index int, policy VariationPolicy, rows []row) (ChunkResult, error) {
	logger := r.passLogger(pass).With(slog.Int("chunk", index))
	result := ChunkResult{Index: index}
	for _, rw := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		out := r.processRow(ctx, logger, policy, rw)
		switch {
		case out.rejected:
			result.Counts.Rejected++
		case out.id == 0:
			result.Counts.Failed++
		default:
			result.Processed = append(result.Processed, out.id)
			result.Events = append(result.Events, out.events...)
			if out.failed {
				result.Counts.Failed++
			} else {
				result.Counts.Processed++
			}
		}
	}
	source := string(pass.Source)
	r.metrics.AddRows(source, "processed", result.Counts.Processed)
	r.metrics.AddRows(source, "rejected", result.Counts.Rejected)
	r.metrics.AddRows(source, "failed", result.Counts.Failed)
	return result, nil
}

type rowOutcome struct {
	id       int64
	events   []events.Event
	rejected bool
	failed   bool
}

// processRow never panics and never returns an error: a product that was
// written keeps its id in the outcome even when a later step fails.
func (r *Reconciler) processRow(ctx context.Context, logger *slog.Logger, policy VariationPolicy, rw row) (out rowOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("row processing panicked",
				slog.Int("line", rw.line()),
				slog.Any("panic", rec),
				slog.String("row", rw.raw()))
			out.failed = true
		}
	}()

	in, err := rw.prepare(logger)
	if err != nil {
		logger.Error("invalid product row", slog.Int("line", rw.line()), slog.Any("error", err), slog.String("row", rw.raw()))
		return rowOutcome{rejected: true}
	}

	res, err := r.repo.UpsertProduct(ctx, in.fields)
	if err != nil {
		logger.Error("upsert product", slog.Int("line", rw.line()), slog.Any("error", err), slog.String("row", rw.raw()))
		return rowOutcome{failed: true}
	}
	out.id = res.Product.ID
	out.events = events.Detect(res)
	logger.Debug("product upserted", slog.Int64("product_id", out.id), slog.Bool("created", res.Created()))

	if len(in.variations) > 0 {
		if err := policy.Apply(ctx, r.repo, out.id, in.variations); err != nil {
			logger.Error("write variations",
				slog.Int64("product_id", out.id),
				slog.String("policy", policy.Name()),
				slog.Any("error", err),
				slog.String("row", rw.raw()))
			out.failed = true
		}
	}
	return out
}

// Publish dispatches events, each at most once per pass. It returns the
// number dispatched.
func (r *Reconciler) Publish(ctx context.Context, pass Pass, evs []events.Event) int {
	logger := r.passLogger(pass)
	sent := 0
	for _, ev := range evs {
		first, err := r.ledger.Claim(ctx, pass.ID, events.Key(ev))
		if err != nil {
			logger.Warn("claim notification", slog.String("key", events.Key(ev)), slog.Any("error", err))
		} else if !first {
			logger.Debug("notification already sent", slog.String("key", events.Key(ev)))
			continue
		}
		if err := r.dispatcher.Dispatch(ctx, ev); err != nil {
			logger.Warn("dispatch notification", slog.String("kind", ev.Type()), slog.Int64("product_id", ev.Product()), slog.Any("error", err))
			continue
		}
		r.metrics.AddNotification(ev.Type())
		sent++
	}
	return sent
}

// CompleteChunk records a chunk result in the ledger and returns the
// number of chunks still pending.
func (r *Reconciler) CompleteChunk(ctx context.Context, pass Pass, result ChunkResult) (int, error) {
	return r.ledger.Complete(ctx, pass.ID, result)
}

// Finalize runs the stale diff of a distributed pass once every chunk is
// complete. It refuses to run while chunks are pending.
func (r *Reconciler) Finalize(ctx context.Context, passID uuid.UUID) (Summary, error) {
	progress, err := r.ledger.Progress(ctx, passID)
	if err != nil {
		return Summary{}, err
	}
	if progress.Remaining > 0 {
		return Summary{}, fmt.Errorf("%w: %d of %d", ErrPassIncomplete, progress.Remaining, progress.Pass.Chunks)
	}
	processed, err := r.ledger.Processed(ctx, passID)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Counts: progress.Counts, Notified: progress.Notified}
	return r.finish(ctx, progress.Pass, processed, summary)
}

// finish computes stale = existing - processed and soft-deletes it. The
// ledger entry is dropped only when the pass completed, so a failed
// finish can be retried.
func (r *Reconciler) finish(ctx context.Context, pass Pass, processed products.IDSet, summary Summary) (Summary, error) {
	logger := r.passLogger(pass)
	existing, err := r.ledger.Existing(ctx, pass.ID)
	if err != nil {
		return Summary{}, err
	}
	summary.PassID = pass.ID
	summary.Source = pass.Source
	summary.Chunks = pass.Chunks
	summary.Stale = existing.Minus(processed).Sorted()
	summary.Pruned = r.prune

	if r.prune && len(summary.Stale) > 0 {
		n, err := r.repo.MarkOutdatedAndSoftDelete(ctx, summary.Stale, products.StatusDeleted, StaleHint)
		if err != nil {
			return summary, fmt.Errorf("reconcile: soft delete stale: %w", err)
		}
		summary.SoftDeleted = n
		r.metrics.AddStaleDeleted(string(pass.Source), n)
		logger.Info("product soft deleted due to synchronization", slog.Any("ids", summary.Stale))
	} else if len(summary.Stale) > 0 {
		logger.Info("stale products left active, pruning disabled", slog.Int("stale", len(summary.Stale)))
	}

	summary.Duration = r.clock().Sub(pass.StartedAt)
	if err := r.ledger.Close(ctx, pass.ID); err != nil && !errors.Is(err, ErrPassNotFound) {
		logger.Warn("close pass", slog.Any("error", err))
	}
	logger.Info("reconciliation pass finished",
		slog.Int("processed", summary.Counts.Processed),
		slog.Int("rejected", summary.Counts.Rejected),
		slog.Int("failed", summary.Counts.Failed),
		slog.Int("notified", summary.Notified),
		slog.Int64("soft_deleted", summary.SoftDeleted))
	return summary, nil
}

// Abort drops a pass without running the stale diff.
func (r *Reconciler) Abort(ctx context.Context, pass Pass, cause error) {
	r.passLogger(pass).Error("reconciliation pass aborted", slog.Any("error", cause))
	if err := r.ledger.Close(ctx, pass.ID); err != nil {
		r.passLogger(pass).Warn("close pass", slog.Any("error", err))
	}
}
