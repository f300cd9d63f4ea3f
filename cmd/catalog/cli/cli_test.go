package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/catalog-sync/internal/reconcile"
	"github.com/odyssey-erp/catalog-sync/internal/upstream"
	_ "github.com/odyssey-erp/catalog-sync/testing"
)

const header = "id,name,sku,price,currency,variations,quantity,status\n"

func writeCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(header)
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%d,Item %d,SKU-%d,10.5,SAR,,%d,sale\n", i, i, i, i)
	}
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

type stubRunner struct {
	pass       reconcile.Pass
	beginErr   error
	summary    reconcile.Summary
	inlineErr  error
	inlineRows int
	aborted    []error
}

func (s *stubRunner) Begin(_ context.Context, source reconcile.Source, chunks int) (reconcile.Pass, error) {
	if s.beginErr != nil {
		return reconcile.Pass{}, s.beginErr
	}
	s.pass = reconcile.Pass{ID: uuid.New(), Source: source, Chunks: chunks, StartedAt: time.Now()}
	return s.pass, nil
}

func (s *stubRunner) RunInline(_ context.Context, chunks []reconcile.Chunk, _ int) (reconcile.Summary, error) {
	for _, c := range chunks {
		s.inlineRows += len(c.Rows)
	}
	return s.summary, s.inlineErr
}

func (s *stubRunner) Abort(_ context.Context, _ reconcile.Pass, cause error) {
	s.aborted = append(s.aborted, cause)
}

type stubEnqueuer struct {
	chunks []reconcile.Chunk
	failAt int
}

func (s *stubEnqueuer) EnqueueImportChunk(_ context.Context, _ reconcile.Pass, chunk reconcile.Chunk) (*asynq.TaskInfo, error) {
	if s.failAt > 0 && len(s.chunks)+1 == s.failAt {
		return nil, errors.New("redis down")
	}
	s.chunks = append(s.chunks, chunk)
	return &asynq.TaskInfo{}, nil
}

func TestImportCommandQueuesChunks(t *testing.T) {
	runner := &stubRunner{}
	enq := &stubEnqueuer{}
	c, err := NewImportCLI(runner, enq)
	require.NoError(t, err)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.ImportCommand(context.Background(), ImportOptions{
		Path:       writeCSV(t, 450),
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Zero(t, code, stderr.String())
	require.Len(t, enq.chunks, 3)
	require.Len(t, enq.chunks[2].Rows, 50)
	require.Equal(t, 3, runner.pass.Chunks)
	require.Equal(t, reconcile.SourceCSV, runner.pass.Source)

	var result ImportResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	require.Equal(t, runner.pass.ID.String(), result.PassID)
	require.Equal(t, 450, result.Rows)
}

func TestImportCommandInline(t *testing.T) {
	runner := &stubRunner{summary: reconcile.Summary{
		PassID: uuid.New(),
		Source: reconcile.SourceCSV,
		Counts: reconcile.Counts{Processed: 4, Rejected: 1},
	}}
	c, err := NewImportCLI(runner, nil)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := c.ImportCommand(context.Background(), ImportOptions{Path: writeCSV(t, 5), Inline: true, Workers: 2, Stdout: stdout})
	require.Zero(t, code)
	require.Equal(t, 5, runner.inlineRows)
	require.Contains(t, stdout.String(), "4 processed, 1 rejected, 0 failed")
}

func TestImportCommandFailures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		c, _ := NewImportCLI(&stubRunner{}, &stubEnqueuer{})
		stderr := new(bytes.Buffer)
		code := c.ImportCommand(context.Background(), ImportOptions{Path: filepath.Join(t.TempDir(), "nope.csv"), Stderr: stderr})
		require.Equal(t, 1, code)
		require.Contains(t, stderr.String(), "source unavailable")
	})
	t.Run("header mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.csv")
		require.NoError(t, os.WriteFile(path, []byte("sku,id\nA,1\n"), 0o600))
		enq := &stubEnqueuer{}
		c, _ := NewImportCLI(&stubRunner{}, enq)
		stderr := new(bytes.Buffer)
		require.Equal(t, 1, c.ImportCommand(context.Background(), ImportOptions{Path: path, Stderr: stderr}))
		require.Contains(t, stderr.String(), "header mismatch")
		require.Empty(t, enq.chunks)
	})
	t.Run("no data rows", func(t *testing.T) {
		runner := &stubRunner{}
		c, _ := NewImportCLI(runner, &stubEnqueuer{})
		stderr := new(bytes.Buffer)
		require.Equal(t, 1, c.ImportCommand(context.Background(), ImportOptions{Path: writeCSV(t, 0), Stderr: stderr}))
		require.Equal(t, uuid.Nil, runner.pass.ID)
	})
	t.Run("enqueue failure aborts pass", func(t *testing.T) {
		runner := &stubRunner{}
		c, _ := NewImportCLI(runner, &stubEnqueuer{failAt: 2})
		stderr := new(bytes.Buffer)
		require.Equal(t, 1, c.ImportCommand(context.Background(), ImportOptions{Path: writeCSV(t, 300), Stderr: stderr}))
		require.Len(t, runner.aborted, 1)
		require.Contains(t, stderr.String(), "enqueue chunk 1")
	})
	t.Run("queue not configured", func(t *testing.T) {
		c, _ := NewImportCLI(&stubRunner{}, nil)
		require.Equal(t, 1, c.ImportCommand(context.Background(), ImportOptions{Path: writeCSV(t, 1)}))
	})
	t.Run("inline error", func(t *testing.T) {
		c, _ := NewImportCLI(&stubRunner{inlineErr: reconcile.ErrSourceUnavailable}, nil)
		require.Equal(t, 1, c.ImportCommand(context.Background(), ImportOptions{Path: writeCSV(t, 1), Inline: true}))
	})
}

type stubSyncer struct {
	summary reconcile.Summary
	err     error
}

func (s stubSyncer) Sync(context.Context, reconcile.Fetcher) (reconcile.Summary, error) {
	return s.summary, s.err
}

type noFetch struct{}

func (noFetch) FetchProducts(context.Context) ([]upstream.Record, error) { return nil, nil }

func TestSyncCommand(t *testing.T) {
	c, err := NewSyncCLI(stubSyncer{summary: reconcile.Summary{Source: reconcile.SourceAPI, Counts: reconcile.Counts{Processed: 7}}}, noFetch{})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	require.Zero(t, c.SyncCommand(context.Background(), SyncOptions{Stdout: stdout}))
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Starting product synchronization...", lines[0])
	require.Equal(t, "Product synchronization completed.", lines[1])
	require.Contains(t, lines[2], "7 processed")

	failing, err := NewSyncCLI(stubSyncer{err: fmt.Errorf("%w: 503", reconcile.ErrSourceUnavailable)}, noFetch{})
	require.NoError(t, err)
	stdout.Reset()
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, failing.SyncCommand(context.Background(), SyncOptions{Stdout: stdout, Stderr: stderr}))
	require.NotContains(t, stdout.String(), "completed")
	require.Contains(t, stderr.String(), "sync: reconcile: source unavailable")

	_, err = NewSyncCLI(nil, noFetch{})
	require.Error(t, err)
}

func TestJobsCLIRejectsUnknownJob(t *testing.T) {
	c, err := NewJobsCLI("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Trigger(context.Background(), "catalog:unknown")
	require.ErrorContains(t, err, "unsupported job")

	stderr := new(bytes.Buffer)
	require.Equal(t, 1, c.TriggerCommand(context.Background(), "catalog:unknown", nil, stderr))
	require.Contains(t, stderr.String(), "jobs trigger:")

	var empty *JobsCLI
	_, err = empty.InspectQueue(context.Background())
	require.Error(t, err)
}
