package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/catalog-sync/internal/jobs"
	"github.com/odyssey-erp/catalog-sync/internal/reconcile"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskImportChunk reconciles one 200-row chunk of a CSV pass.
	TaskImportChunk = "catalog:import_chunk"
	// TaskImportFinalize runs the stale diff once every chunk of a pass is done.
	TaskImportFinalize = "catalog:import_finalize"
	// TaskProductsSync reconciles the catalog against the remote API.
	TaskProductsSync = "catalog:products_sync"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ImportChunkPayload carries one chunk of a pass. The rows travel with the
// task so workers never read the source file.
type ImportChunkPayload struct {
	Pass  reconcile.Pass  `json:"pass"`
	Chunk reconcile.Chunk `json:"chunk"`
}

// ImportFinalizePayload names the pass to finalize.
type ImportFinalizePayload struct {
	PassID uuid.UUID `json:"pass_id"`
}

// ProductsSyncPayload carries scheduling metadata.
type ProductsSyncPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Trigger      string    `json:"trigger"`
}

// NewImportChunkTask constructs an Asynq task for one chunk.
func NewImportChunkTask(pass reconcile.Pass, chunk reconcile.Chunk) (*asynq.Task, error) {
	body, err := json.Marshal(ImportChunkPayload{Pass: pass, Chunk: chunk})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportChunk, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewImportFinalizeTask constructs the finalize task of a pass. The task id
// is derived from the pass so a pass is finalized by a single task.
func NewImportFinalizeTask(passID uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(ImportFinalizePayload{PassID: passID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportFinalize, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(finalizeTaskID(passID)),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	), nil
}

func finalizeTaskID(passID uuid.UUID) string {
	return "finalize:" + passID.String()
}

// NewProductsSyncTask constructs an Asynq task for the API sync.
func NewProductsSyncTask(trigger string, at time.Time) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "schedule"
	}
	body, err := json.Marshal(ProductsSyncPayload{ScheduledFor: at, Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProductsSync, body, asynq.Queue(QueueDefault)), nil
}
