package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/catalog-sync/internal/events"
	jobmetrics "github.com/odyssey-erp/catalog-sync/internal/jobs"
	"github.com/odyssey-erp/catalog-sync/internal/reconcile"
)

// ChunkReconciler is the part of the reconciler a chunk task needs.
type ChunkReconciler interface {
	ProcessChunk(ctx context.Context, pass reconcile.Pass, chunk reconcile.Chunk) (reconcile.ChunkResult, error)
	Publish(ctx context.Context, pass reconcile.Pass, evs []events.Event) int
	CompleteChunk(ctx context.Context, pass reconcile.Pass, result reconcile.ChunkResult) (int, error)
}

// FinalizeEnqueuer schedules the finalize task of a pass.
type FinalizeEnqueuer interface {
	EnqueueImportFinalize(ctx context.Context, passID uuid.UUID) error
}

// ImportChunkJob processes one chunk and, when it completes the last
// chunk of the pass, schedules the finalize task.
type ImportChunkJob struct {
	Reconciler ChunkReconciler
	Enqueuer   FinalizeEnqueuer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewImportChunkJob constructs the job handler.
func NewImportChunkJob(reconciler ChunkReconciler, enqueuer FinalizeEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ImportChunkJob {
	return &ImportChunkJob{Reconciler: reconciler, Enqueuer: enqueuer, Logger: logger, Metrics: metrics}
}

// Handle executes the chunk task. Retries reprocess the chunk; the ledger
// ignores a second completion of the same chunk.
func (j *ImportChunkJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Reconciler == nil || j.Enqueuer == nil {
		return errors.New("import chunk: dependencies not configured")
	}
	var payload ImportChunkPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskImportChunk)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.String("pass_id", payload.Pass.ID.String()), slog.Int("chunk", payload.Chunk.Index))
	result, err := j.Reconciler.ProcessChunk(ctx, payload.Pass, payload.Chunk)
	if err != nil {
		resultErr = err
		logger.Error("process chunk", slog.Any("error", err))
		return resultErr
	}
	j.Reconciler.Publish(ctx, payload.Pass, result.Events)

	remaining, err := j.Reconciler.CompleteChunk(ctx, payload.Pass, result)
	if errors.Is(err, reconcile.ErrPassNotFound) {
		resultErr = err
		logger.Warn("pass no longer tracked, dropping chunk")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err != nil {
		resultErr = err
		logger.Error("complete chunk", slog.Any("error", err))
		return resultErr
	}
	logger.Info("chunk reconciled",
		slog.Int("processed", result.Counts.Processed),
		slog.Int("rejected", result.Counts.Rejected),
		slog.Int("failed", result.Counts.Failed),
		slog.Int("remaining", remaining))

	if remaining == 0 {
		if err := j.Enqueuer.EnqueueImportFinalize(ctx, payload.Pass.ID); err != nil {
			resultErr = err
			logger.Error("enqueue finalize", slog.Any("error", err))
			return resultErr
		}
	}
	return resultErr
}

func (j *ImportChunkJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ImportChunkJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskImportChunk))
	}
	return slog.Default().With(slog.String("job", TaskImportChunk))
}
