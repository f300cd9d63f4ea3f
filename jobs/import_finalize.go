package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/catalog-sync/internal/jobs"
	"github.com/odyssey-erp/catalog-sync/internal/reconcile"
)

// PassFinalizer runs the stale diff of a distributed pass.
type PassFinalizer interface {
	Finalize(ctx context.Context, passID uuid.UUID) (reconcile.Summary, error)
}

// ImportFinalizeJob runs after the last chunk of a pass completes.
type ImportFinalizeJob struct {
	Finalizer PassFinalizer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewImportFinalizeJob constructs the job handler.
func NewImportFinalizeJob(finalizer PassFinalizer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ImportFinalizeJob {
	return &ImportFinalizeJob{Finalizer: finalizer, Logger: logger, Metrics: metrics}
}

// Handle executes the finalize task.
func (j *ImportFinalizeJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Finalizer == nil {
		return errors.New("import finalize: dependencies not configured")
	}
	var payload ImportFinalizePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.PassID == uuid.Nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskImportFinalize)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.String("pass_id", payload.PassID.String()))
	summary, err := j.Finalizer.Finalize(ctx, payload.PassID)
	switch {
	case errors.Is(err, reconcile.ErrPassNotFound):
		logger.Warn("pass already finalized or expired")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	case err != nil:
		resultErr = err
		logger.Error("finalize pass", slog.Any("error", err))
		return resultErr
	}
	logger.Info("import pass finalized",
		slog.Int("stale", len(summary.Stale)),
		slog.Int64("soft_deleted", summary.SoftDeleted),
		slog.Duration("duration", summary.Duration))
	return resultErr
}

func (j *ImportFinalizeJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ImportFinalizeJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskImportFinalize))
	}
	return slog.Default().With(slog.String("job", TaskImportFinalize))
}
