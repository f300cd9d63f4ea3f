package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/catalog-sync/internal/reconcile"
)

// Syncer runs an API-sourced pass.
type Syncer interface {
	Sync(ctx context.Context, fetcher reconcile.Fetcher) (reconcile.Summary, error)
}

// SyncCLI runs the remote API sync in the foreground.
type SyncCLI struct {
	syncer  Syncer
	fetcher reconcile.Fetcher
}

// NewSyncCLI wires the sync command.
func NewSyncCLI(syncer Syncer, fetcher reconcile.Fetcher) (*SyncCLI, error) {
	if syncer == nil || fetcher == nil {
		return nil, errors.New("sync cli: syncer and fetcher required")
	}
	return &SyncCLI{syncer: syncer, fetcher: fetcher}, nil
}

// SyncOptions configures the sync command output.
type SyncOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SyncCommand fetches the snapshot and reconciles it. Row failures are
// reported in the summary; only source and pass-level failures exit 1.
func (c *SyncCLI) SyncCommand(ctx context.Context, opts SyncOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if !opts.JSONOutput {
		fmt.Fprintln(stdout, "Starting product synchronization...")
	}
	summary, err := c.syncer.Sync(ctx, c.fetcher)
	if err != nil {
		fmt.Fprintf(stderr, "sync: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		return writeJSON(stdout, stderr, summary)
	}
	fmt.Fprintln(stdout, "Product synchronization completed.")
	return printSummary(stdout, stderr, summary, false)
}
