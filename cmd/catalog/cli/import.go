package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/catalog-sync/internal/reconcile"
)

// PassRunner is the part of the reconciler the import command drives.
type PassRunner interface {
	Begin(ctx context.Context, source reconcile.Source, chunks int) (reconcile.Pass, error)
	RunInline(ctx context.Context, chunks []reconcile.Chunk, workers int) (reconcile.Summary, error)
	Abort(ctx context.Context, pass reconcile.Pass, cause error)
}

// ChunkEnqueuer hands chunks to the worker queue.
type ChunkEnqueuer interface {
	EnqueueImportChunk(ctx context.Context, pass reconcile.Pass, chunk reconcile.Chunk) (*asynq.TaskInfo, error)
}

// ImportCLI runs CSV imports either inline or through the worker queue.
type ImportCLI struct {
	runner   PassRunner
	enqueuer ChunkEnqueuer
}

// NewImportCLI wires the import command. enqueuer may be nil when only
// inline runs are needed.
func NewImportCLI(runner PassRunner, enqueuer ChunkEnqueuer) (*ImportCLI, error) {
	if runner == nil {
		return nil, errors.New("import cli: runner required")
	}
	return &ImportCLI{runner: runner, enqueuer: enqueuer}, nil
}

// ImportOptions configures an import run.
type ImportOptions struct {
	Path       string
	Inline     bool
	Workers    int
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ImportResult is printed when a pass has been handed to the workers.
type ImportResult struct {
	PassID string `json:"pass_id"`
	Chunks int    `json:"chunks"`
	Rows   int    `json:"rows"`
}

// ImportCommand loads the CSV file and reconciles it. The header is checked
// before any write; a missing file or mismatched header exits with 1.
func (c *ImportCLI) ImportCommand(ctx context.Context, opts ImportOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	chunks, err := reconcile.ReadChunks(opts.Path, reconcile.DefaultLayout, reconcile.ChunkSize)
	if err != nil {
		fmt.Fprintf(stderr, "import: %v\n", err)
		return 1
	}
	rows := 0
	for _, chunk := range chunks {
		rows += len(chunk.Rows)
	}

	if opts.Inline {
		summary, err := c.runner.RunInline(ctx, chunks, opts.Workers)
		if err != nil {
			fmt.Fprintf(stderr, "import: %v\n", err)
			return 1
		}
		return printSummary(stdout, stderr, summary, opts.JSONOutput)
	}

	if c.enqueuer == nil {
		fmt.Fprintln(stderr, "import: job queue not configured, use --inline")
		return 1
	}
	if len(chunks) == 0 {
		fmt.Fprintf(stderr, "import: %v: no data rows\n", reconcile.ErrSourceUnavailable)
		return 1
	}
	pass, err := c.runner.Begin(ctx, reconcile.SourceCSV, len(chunks))
	if err != nil {
		fmt.Fprintf(stderr, "import: %v\n", err)
		return 1
	}
	for _, chunk := range chunks {
		if _, err := c.enqueuer.EnqueueImportChunk(ctx, pass, chunk); err != nil {
			c.runner.Abort(ctx, pass, err)
			fmt.Fprintf(stderr, "import: enqueue chunk %d: %v\n", chunk.Index, err)
			return 1
		}
	}

	result := ImportResult{PassID: pass.ID.String(), Chunks: len(chunks), Rows: rows}
	if opts.JSONOutput {
		return writeJSON(stdout, stderr, result)
	}
	fmt.Fprintf(stdout, "Pass %s queued: %d rows in %d chunks.\n", result.PassID, result.Rows, result.Chunks)
	return 0
}

func printSummary(stdout, stderr io.Writer, summary reconcile.Summary, asJSON bool) int {
	if asJSON {
		return writeJSON(stdout, stderr, summary)
	}
	fmt.Fprintf(stdout, "Pass %s (%s): %d processed, %d rejected, %d failed, %d notified, %d soft-deleted in %s.\n",
		summary.PassID, summary.Source,
		summary.Counts.Processed, summary.Counts.Rejected, summary.Counts.Failed,
		summary.Notified, summary.SoftDeleted, summary.Duration)
	return 0
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return stdout, stderr
}
