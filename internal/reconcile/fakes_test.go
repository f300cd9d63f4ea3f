package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/catalog-sync/internal/events"
	"github.com/odyssey-erp/catalog-sync/internal/products"
	"github.com/odyssey-erp/catalog-sync/internal/upstream"
)

// fakeRepo is an in-memory products.Repository safe for concurrent use.
type fakeRepo struct {
	mu         sync.Mutex
	products   map[int64]*products.Product
	variations map[int64][]products.VariationInput

	upserts             int
	softDeleteCalls     [][]int64
	upsertsAtSoftDelete int

	upsertErr map[int64]error
	panicOn   map[int64]bool
	listErr   error
	listCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		products:   make(map[int64]*products.Product),
		variations: make(map[int64][]products.VariationInput),
		upsertErr:  make(map[int64]error),
		panicOn:    make(map[int64]bool),
	}
}

func (f *fakeRepo) seed(id int64, qty int32, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id] = &products.Product{ID: id, Quantity: qty, Status: status}
}

func (f *fakeRepo) product(id int64) products.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.products[id]
}

func (f *fakeRepo) Get(_ context.Context, id int64) (products.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return products.Product{}, products.ErrNotFound
	}
	return *p, nil
}

func (f *fakeRepo) ListVariations(_ context.Context, productID int64) ([]products.Variation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []products.Variation
	for _, v := range f.variations[productID] {
		out = append(out, products.Variation{ProductID: productID, Name: v.Name, Value: v.Value})
	}
	return out, nil
}

func (f *fakeRepo) UpsertProduct(_ context.Context, fields products.Fields) (products.UpsertResult, error) {
	if f.panicOn[fields.ID] {
		panic(fmt.Sprintf("boom on %d", fields.ID))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if err := f.upsertErr[fields.ID]; err != nil {
		return products.UpsertResult{}, err
	}
	var prev *products.State
	p, ok := f.products[fields.ID]
	if ok {
		prev = &products.State{Quantity: p.Quantity, Status: p.Status}
		if p.DeletedAt != nil {
			p.DeletedAt = nil
			p.Hint = nil
		}
	} else {
		p = &products.Product{ID: fields.ID, Currency: products.DefaultCurrency, Status: products.StatusNone}
		f.products[fields.ID] = p
	}
	if fields.Columns.Has(products.ColName) {
		p.Name = fields.Name
	}
	if fields.Columns.Has(products.ColSKU) {
		p.SKU = fields.SKU
	}
	if fields.Columns.Has(products.ColPrice) {
		p.Price = fields.Price
	}
	if fields.Columns.Has(products.ColCurrency) {
		p.Currency = fields.Currency
	}
	if fields.Columns.Has(products.ColQuantity) {
		p.Quantity = fields.Quantity
	}
	if fields.Columns.Has(products.ColStatus) {
		p.Status = fields.Status
	}
	if fields.Columns.Has(products.ColImage) {
		p.Image = fields.Image
	}
	if fields.Columns.Has(products.ColCreatedAt) && fields.CreatedAt != nil {
		p.CreatedAt = *fields.CreatedAt
	}
	return products.UpsertResult{Product: *p, Previous: prev}, nil
}

func (f *fakeRepo) ReplaceVariations(_ context.Context, productID int64, variations []products.VariationInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variations[productID] = append([]products.VariationInput(nil), variations...)
	return nil
}

func (f *fakeRepo) UpsertVariation(_ context.Context, productID int64, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.variations[productID]
	for i := range list {
		if list[i].Name == name {
			list[i].Value = value
			return nil
		}
	}
	f.variations[productID] = append(list, products.VariationInput{Name: name, Value: value})
	return nil
}

func (f *fakeRepo) ListAllProductIDs(context.Context) (products.IDSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make(products.IDSet)
	for id, p := range f.products {
		if p.DeletedAt == nil {
			ids.Add(id)
		}
	}
	return ids, nil
}

func (f *fakeRepo) MarkOutdatedAndSoftDelete(_ context.Context, ids []int64, status, hint string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.softDeleteCalls = append(f.softDeleteCalls, append([]int64(nil), ids...))
	f.upsertsAtSoftDelete = f.upserts
	now := time.Now().UTC()
	var n int64
	for _, id := range ids {
		p, ok := f.products[id]
		if !ok || p.DeletedAt != nil {
			continue
		}
		h := hint
		p.Status = status
		p.Hint = &h
		p.DeletedAt = &now
		n++
	}
	return n, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) all() []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]events.Event(nil), d.events...)
}

type stubFetcher struct {
	records []upstream.Record
	err     error
}

func (s stubFetcher) FetchProducts(context.Context) ([]upstream.Record, error) {
	return s.records, s.err
}

var errRepo = errors.New("connection reset")

// csvLine builds a data row in the default layout.
func csvLine(line int, id, name, sku, price, currency, variations, quantity, status string) Row {
	return Row{Line: line, Cells: []string{id, name, sku, price, currency, variations, quantity, status}}
}
