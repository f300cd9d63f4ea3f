package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/catalog-sync/internal/jobs"
	"github.com/odyssey-erp/catalog-sync/internal/reconcile"
)

// CatalogSyncer runs an API-sourced pass.
type CatalogSyncer interface {
	Sync(ctx context.Context, fetcher reconcile.Fetcher) (reconcile.Summary, error)
}

// ProductsSyncJob reconciles the catalog against the remote API.
type ProductsSyncJob struct {
	Syncer  CatalogSyncer
	Fetcher reconcile.Fetcher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewProductsSyncJob constructs the job handler.
func NewProductsSyncJob(syncer CatalogSyncer, fetcher reconcile.Fetcher, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProductsSyncJob {
	return &ProductsSyncJob{
		Syncer:  syncer,
		Fetcher: fetcher,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sync task. A source failure is not retried: the
// next scheduled run fetches a fresh snapshot.
func (j *ProductsSyncJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Syncer == nil || j.Fetcher == nil {
		return errors.New("products sync: dependencies not configured")
	}
	var payload ProductsSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskProductsSync)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	summary, err := j.Syncer.Sync(ctx, j.Fetcher)
	if errors.Is(err, reconcile.ErrSourceUnavailable) {
		resultErr = err
		j.log().Error("products sync source unavailable", slog.String("trigger", payload.Trigger), slog.Any("error", err))
		return asynq.SkipRetry
	}
	if err != nil {
		resultErr = err
		j.log().Error("products sync", slog.String("trigger", payload.Trigger), slog.Any("error", err))
		return resultErr
	}
	j.log().Info("products synchronized",
		slog.String("trigger", payload.Trigger),
		slog.String("pass_id", summary.PassID.String()),
		slog.Int("processed", summary.Counts.Processed),
		slog.Int("rejected", summary.Counts.Rejected),
		slog.Int64("soft_deleted", summary.SoftDeleted),
		slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *ProductsSyncJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ProductsSyncJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProductsSync))
	}
	return slog.Default().With(slog.String("job", TaskProductsSync))
}

func (j *ProductsSyncJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ProductsSyncJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
