package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/catalog-sync/internal/events"
	"github.com/odyssey-erp/catalog-sync/internal/products"
	"github.com/odyssey-erp/catalog-sync/internal/upstream"
)

func newTestReconciler(repo *fakeRepo, dispatcher events.Dispatcher) *Reconciler {
	return New(Config{
		Repo:       repo,
		Ledger:     NewMemoryLedger(),
		Dispatcher: dispatcher,
		Logger:     slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		PruneStale: true,
	})
}

func TestRunInlineSoftDeletesStaleProducts(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 1, products.StatusSale)
	repo.seed(2, 1, products.StatusSale)
	repo.seed(3, 1, products.StatusSale)
	rec := newTestReconciler(repo, &recordingDispatcher{})

	chunks := []Chunk{{Index: 0, Rows: []Row{
		csvLine(2, "1", "One", "S1", "10", "SAR", "", "1", "sale"),
		csvLine(3, "2", "Two", "S2", "20", "SAR", "", "1", "sale"),
	}}}
	summary, err := rec.RunInline(context.Background(), chunks, 2)
	require.NoError(t, err)

	assert.Equal(t, []int64{3}, summary.Stale)
	assert.Equal(t, int64(1), summary.SoftDeleted)
	assert.Equal(t, 2, summary.Counts.Processed)

	gone := repo.product(3)
	assert.Equal(t, products.StatusDeleted, gone.Status)
	require.NotNil(t, gone.Hint)
	assert.Equal(t, StaleHint, *gone.Hint)
	assert.NotNil(t, gone.DeletedAt)
	assert.Nil(t, repo.product(1).DeletedAt)
	assert.Nil(t, repo.product(2).DeletedAt)

	_, err = rec.Ledger().Pass(context.Background(), summary.PassID)
	assert.ErrorIs(t, err, ErrPassNotFound)
}

func TestStatusTransitionNotifiesOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(5, 5, products.StatusOut)
	dispatcher := &recordingDispatcher{}
	rec := newTestReconciler(repo, dispatcher)

	chunks := []Chunk{{Index: 0, Rows: []Row{
		csvLine(2, "5", "Five", "S5", "10", "SAR", "", "10", "sale"),
		csvLine(3, "6", "Six", "S6", "10", "SAR", "", "50", "sale"),
	}}}
	summary, err := rec.RunInline(context.Background(), chunks, 1)
	require.NoError(t, err)

	got := dispatcher.all()
	require.Len(t, got, 2)
	assert.Equal(t, events.BackInStock{ProductID: 5, Message: "This product is in stock now with 10 units"}, got[0])
	assert.Equal(t, events.QuantityIncreased{ProductID: 5, NewQuantity: 10}, got[1])
	assert.Equal(t, 2, summary.Notified)
}

func TestPublishDeduplicatesWithinPass(t *testing.T) {
	repo := newFakeRepo()
	dispatcher := &recordingDispatcher{}
	rec := newTestReconciler(repo, dispatcher)

	pass, err := rec.Begin(context.Background(), SourceCSV, 2)
	require.NoError(t, err)
	ev := events.QuantityIncreased{ProductID: 1, NewQuantity: 4}

	assert.Equal(t, 1, rec.Publish(context.Background(), pass, []events.Event{ev}))
	assert.Equal(t, 0, rec.Publish(context.Background(), pass, []events.Event{ev}))
	assert.Len(t, dispatcher.all(), 1)
}

func TestChunkJoinUsesUnionOfAllChunks(t *testing.T) {
	repo := newFakeRepo()
	for id := int64(1); id <= 40; id++ {
		repo.seed(id, 0, products.StatusSale)
	}
	rec := newTestReconciler(repo, &recordingDispatcher{})

	var chunks []Chunk
	seen := products.NewIDSet()
	id := int64(1)
	for i := 0; i < 10; i++ {
		chunk := Chunk{Index: i}
		for j := 0; j < 3; j++ {
			chunk.Rows = append(chunk.Rows, csvLine(i*3+j+2, fmt.Sprint(id), "n", "", "1", "SAR", "", "1", "sale"))
			seen.Add(id)
			id++
		}
		chunks = append(chunks, chunk)
	}
	// ids 31..40 are never seen; a new id 100 is created.
	chunks[9].Rows = append(chunks[9].Rows, csvLine(99, "100", "new", "", "1", "SAR", "", "1", "sale"))
	seen.Add(100)

	summary, err := rec.RunInline(context.Background(), chunks, 4)
	require.NoError(t, err)

	existing := products.NewIDSet()
	for id := int64(1); id <= 40; id++ {
		existing.Add(id)
	}
	assert.Equal(t, existing.Minus(seen).Sorted(), summary.Stale)
	require.Len(t, repo.softDeleteCalls, 1)
	assert.Equal(t, 31, repo.upsertsAtSoftDelete)
}

func TestRowFailuresDoNotAbortPass(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(13, 1, products.StatusSale)
	repo.upsertErr[13] = errRepo
	repo.panicOn[14] = true
	var logs bytes.Buffer
	rec := New(Config{
		Repo:       repo,
		Dispatcher: &recordingDispatcher{},
		Logger:     slog.New(slog.NewJSONHandler(&logs, nil)),
		PruneStale: true,
	})

	chunks := []Chunk{{Index: 0, Rows: []Row{
		csvLine(2, "abc", "bad id", "", "1", "SAR", "", "1", "sale"),
		{Line: 3, Cells: []string{"12", "short"}},
		{Line: 4, Error: `record on line 4: extraneous or missing " in quoted-field`},
		csvLine(5, "13", "repo fails", "", "1", "SAR", "", "1", "sale"),
		csvLine(6, "14", "panics", "", "1", "SAR", "", "1", "sale"),
		csvLine(7, "15", "fine", "", "1", "SAR", "", "1", "sale"),
	}}}
	summary, err := rec.RunInline(context.Background(), chunks, 1)
	require.NoError(t, err)

	assert.Equal(t, Counts{Processed: 1, Rejected: 3, Failed: 2}, summary.Counts)
	assert.Equal(t, []int64{13}, summary.Stale)
	assert.Equal(t, "fine", *repo.product(15).Name)
	assert.Contains(t, logs.String(), "invalid product row")
	assert.Contains(t, logs.String(), `\"abc\"`)
	assert.Contains(t, logs.String(), "row processing panicked")
}

func TestRowFieldsAreSanitized(t *testing.T) {
	repo := newFakeRepo()
	rec := newTestReconciler(repo, &recordingDispatcher{})

	chunks := []Chunk{{Index: 0, Rows: []Row{
		csvLine(2, " 21 ", ` <b>Lamp</b> `, "", "-4", "usd", `[{"name":"color","value":"red"}]`, "x", ""),
		csvLine(3, "22", "Desk", "D-1", "5.5", "???", `[{name"":""x""]`, "3", "out"),
	}}}
	_, err := rec.RunInline(context.Background(), chunks, 1)
	require.NoError(t, err)

	lamp := repo.product(21)
	assert.Equal(t, "&lt;b&gt;Lamp&lt;/b&gt;", *lamp.Name)
	assert.Nil(t, lamp.SKU)
	assert.True(t, lamp.Price.IsZero())
	assert.Equal(t, "USD", lamp.Currency)
	assert.Equal(t, int32(0), lamp.Quantity)
	assert.Equal(t, products.StatusNone, lamp.Status)
	assert.Equal(t, []products.VariationInput{{Name: "color", Value: "red"}}, repo.variations[21])

	desk := repo.product(22)
	assert.Equal(t, products.DefaultCurrency, desk.Currency)
	assert.Equal(t, "5.5", desk.Price.String())
	assert.Empty(t, repo.variations[22])
}

func TestReappearingProductIsRestored(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 2, products.StatusSale)
	repo.seed(2, 2, products.StatusSale)
	rec := newTestReconciler(repo, &recordingDispatcher{})

	first := []Chunk{{Index: 0, Rows: []Row{csvLine(2, "1", "a", "", "1", "SAR", "", "2", "sale")}}}
	_, err := rec.RunInline(context.Background(), first, 1)
	require.NoError(t, err)
	require.NotNil(t, repo.product(2).DeletedAt)

	second := []Chunk{{Index: 0, Rows: []Row{
		csvLine(2, "1", "a", "", "1", "SAR", "", "2", "sale"),
		csvLine(3, "2", "b", "", "1", "SAR", "", "2", "sale"),
	}}}
	summary, err := rec.RunInline(context.Background(), second, 1)
	require.NoError(t, err)
	assert.Empty(t, summary.Stale)
	assert.Nil(t, repo.product(2).DeletedAt)
	assert.Nil(t, repo.product(2).Hint)
	assert.Equal(t, products.StatusSale, repo.product(2).Status)
}

func TestPruneDisabledKeepsStaleActive(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 1, products.StatusSale)
	repo.seed(2, 1, products.StatusSale)
	rec := New(Config{Repo: repo, Dispatcher: &recordingDispatcher{}, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})

	summary, err := rec.RunInline(context.Background(), []Chunk{{Rows: []Row{csvLine(2, "1", "a", "", "1", "SAR", "", "1", "sale")}}}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, summary.Stale)
	assert.False(t, summary.Pruned)
	assert.Empty(t, repo.softDeleteCalls)
	assert.Nil(t, repo.product(2).DeletedAt)
}

func TestRunInlineRejectsEmptyInput(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 1, products.StatusSale)
	rec := newTestReconciler(repo, &recordingDispatcher{})

	_, err := rec.RunInline(context.Background(), nil, 1)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Zero(t, repo.listCalls)
	assert.Nil(t, repo.product(1).DeletedAt)
}

func TestRunInlineCancelledSkipsStaleDiff(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 1, products.StatusSale)
	rec := newTestReconciler(repo, &recordingDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rec.RunInline(ctx, []Chunk{{Rows: []Row{csvLine(2, "2", "b", "", "1", "SAR", "", "1", "sale")}}}, 1)
	require.Error(t, err)
	assert.Empty(t, repo.softDeleteCalls)
}

func TestDistributedPassFinalizesAfterLastChunk(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 1, products.StatusSale)
	repo.seed(2, 1, products.StatusSale)
	repo.seed(3, 1, products.StatusSale)
	rec := newTestReconciler(repo, &recordingDispatcher{})
	ctx := context.Background()

	pass, err := rec.Begin(ctx, SourceCSV, 2)
	require.NoError(t, err)

	first, err := rec.ProcessChunk(ctx, pass, Chunk{Index: 0, Rows: []Row{csvLine(2, "1", "a", "", "1", "SAR", "", "1", "sale")}})
	require.NoError(t, err)
	remaining, err := rec.CompleteChunk(ctx, pass, first)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	_, err = rec.Finalize(ctx, pass.ID)
	require.ErrorIs(t, err, ErrPassIncomplete)
	assert.Empty(t, repo.softDeleteCalls)

	second, err := rec.ProcessChunk(ctx, pass, Chunk{Index: 1, Rows: []Row{csvLine(3, "2", "b", "", "1", "SAR", "", "1", "sale")}})
	require.NoError(t, err)
	remaining, err = rec.CompleteChunk(ctx, pass, second)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	remaining, err = rec.CompleteChunk(ctx, pass, second)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	summary, err := rec.Finalize(ctx, pass.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, summary.Stale)
	assert.Equal(t, 2, summary.Counts.Processed)

	_, err = rec.Finalize(ctx, pass.ID)
	assert.ErrorIs(t, err, ErrPassNotFound)
}

func TestSyncUpsertsRecognizedVariations(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 0, products.StatusSale)
	repo.seed(9, 0, products.StatusSale)
	require.NoError(t, repo.UpsertVariation(context.Background(), 1, "size", "XL"))
	require.NoError(t, repo.UpsertVariation(context.Background(), 1, "color", "blue"))
	rec := newTestReconciler(repo, &recordingDispatcher{})

	var records []upstream.Record
	for _, raw := range []string{
		`{"id":"1","name":"Lamp","image":"http://img/1.png","price":"12.50","created_at":"2020-12-02T10:00:00Z",
		  "variations":[{"productId":"77","color":"red","material":"steel","quantity":4,"weight":"2kg"}]}`,
		`{"id":"2","name":"Desk","price":0,"variations":[]}`,
		`{"id":"0","name":"No id"}`,
	} {
		var record upstream.Record
		record.Raw = json.RawMessage(raw)
		record.Err = json.Unmarshal(record.Raw, &record.Product)
		records = append(records, record)
	}

	summary, err := rec.Sync(context.Background(), stubFetcher{records: records})
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 2, Rejected: 1}, summary.Counts)
	assert.Equal(t, []int64{9}, summary.Stale)

	lamp := repo.product(1)
	assert.Equal(t, "Lamp", *lamp.Name)
	assert.Equal(t, "http://img/1.png", *lamp.Image)
	assert.Equal(t, 2020, lamp.CreatedAt.Year())
	assert.Equal(t, products.StatusSale, lamp.Status)
	assert.ElementsMatch(t, []products.VariationInput{
		{Name: "size", Value: "XL"},
		{Name: "color", Value: "red"},
		{Name: "material", Value: "steel"},
		{Name: "quantity", Value: "4"},
	}, repo.variations[1])
	assert.Empty(t, repo.variations[77])
	assert.True(t, repo.product(2).Price.IsZero())
}

func TestSyncSourceFailureWritesNothing(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(1, 0, products.StatusSale)
	rec := newTestReconciler(repo, &recordingDispatcher{})

	_, err := rec.Sync(context.Background(), stubFetcher{err: upstream.ErrUnexpectedStatus})
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, upstream.ErrUnexpectedStatus)

	_, err = rec.Sync(context.Background(), stubFetcher{})
	require.ErrorIs(t, err, ErrSourceUnavailable)

	assert.Zero(t, repo.listCalls)
	assert.Zero(t, repo.upserts)
	assert.Nil(t, repo.product(1).DeletedAt)
}

func TestBeginPropagatesListFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errRepo
	rec := newTestReconciler(repo, &recordingDispatcher{})

	_, err := rec.RunInline(context.Background(), []Chunk{{Rows: []Row{csvLine(2, "1", "a", "", "1", "SAR", "", "1", "sale")}}}, 1)
	require.ErrorIs(t, err, errRepo)
	assert.Zero(t, repo.upserts)
}
