// Package reconcile runs catalog reconciliation passes: every row of a
// source snapshot is validated and upserted, and products that existed
// before the pass but were not seen during it are soft-deleted.
package reconcile

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/catalog-sync/internal/events"
	"github.com/odyssey-erp/catalog-sync/internal/products"
)

// ChunkSize is the number of CSV data rows per unit of work.
const ChunkSize = 200

// StaleHint is recorded on products soft-deleted by a pass.
const StaleHint = "Deleted due to synchronization"

var (
	ErrSourceUnavailable = errors.New("reconcile: source unavailable")
	ErrHeaderMismatch    = errors.New("reconcile: header mismatch")
	ErrInvalidRow        = errors.New("reconcile: invalid row")
	ErrPassNotFound      = errors.New("reconcile: pass not found")
	ErrPassIncomplete    = errors.New("reconcile: pass has pending chunks")
)

// Source names the origin of a pass.
type Source string

const (
	SourceCSV Source = "csv"
	SourceAPI Source = "api"
)

// Pass identifies one reconciliation run.
type Pass struct {
	ID        uuid.UUID `json:"id"`
	Source    Source    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	Chunks    int       `json:"chunks"`
}

// Counts aggregates row outcomes.
type Counts struct {
	Processed int `json:"processed"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Processed += other.Processed
	c.Rejected += other.Rejected
	c.Failed += other.Failed
}

// ChunkResult is the value a worker returns for one chunk. Processed holds
// the ids upserted successfully; Events the transitions detected.
type ChunkResult struct {
	Index     int            `json:"index"`
	Processed []int64        `json:"processed"`
	Events    []events.Event `json:"-"`
	Counts    Counts         `json:"counts"`
}

// Merged is the union of several chunk results.
type Merged struct {
	Processed products.IDSet
	Events    []events.Event
	Counts    Counts
}

// Merge joins chunk results. It must only be called once every chunk of
// the pass has returned.
func Merge(results []ChunkResult) Merged {
	out := Merged{Processed: make(products.IDSet)}
	for _, res := range results {
		out.Processed.Add(res.Processed...)
		out.Events = append(out.Events, res.Events...)
		out.Counts.Add(res.Counts)
	}
	return out
}

// Summary reports a finished pass.
type Summary struct {
	PassID      uuid.UUID     `json:"pass_id"`
	Source      Source        `json:"source"`
	Chunks      int           `json:"chunks"`
	Counts      Counts        `json:"counts"`
	Notified    int           `json:"notified"`
	Stale       []int64       `json:"stale"`
	SoftDeleted int64         `json:"soft_deleted"`
	Pruned      bool          `json:"pruned"`
	Duration    time.Duration `json:"duration"`
}
