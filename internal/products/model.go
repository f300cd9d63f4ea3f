package products

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Status tags understood by the reconciliation pipeline.
const (
	StatusSale    = "sale"
	StatusOut     = "out"
	StatusDeleted = "deleted"
	StatusNone    = "none"
)

// DefaultCurrency applies when a row carries no usable currency code.
const DefaultCurrency = "SAR"

// Product mirrors a row of the products table. The id is supplied by the
// source system and never generated locally.
type Product struct {
	ID        int64           `json:"id"`
	Name      *string         `json:"name"`
	SKU       *string         `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Quantity  int32           `json:"quantity"`
	Status    string          `json:"status"`
	Hint      *string         `json:"hint"`
	Image     *string         `json:"image"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// Variation is a named attribute attached to exactly one product.
type Variation struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VariationInput is a sanitized name/value pair ready to be written.
type VariationInput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// State is the part of a stored product that drives transition detection.
type State struct {
	Quantity int32
	Status   string
}

// UpsertResult carries the post-write record together with the state it
// had before the write. Previous is nil when the product was created.
type UpsertResult struct {
	Product  Product
	Previous *State
}

// Created reports whether the upsert inserted a new product.
func (r UpsertResult) Created() bool {
	return r.Previous == nil
}

// Column selects which product attributes an upsert writes.
type Column uint16

const (
	ColName Column = 1 << iota
	ColSKU
	ColPrice
	ColCurrency
	ColQuantity
	ColStatus
	ColImage
	ColCreatedAt
)

// RowColumns is the attribute set carried by a CSV row.
const RowColumns = ColName | ColSKU | ColPrice | ColCurrency | ColQuantity | ColStatus

// SnapshotColumns is the attribute set carried by a remote API record.
const SnapshotColumns = ColName | ColImage | ColPrice | ColCreatedAt

// Has reports whether c includes col.
func (c Column) Has(col Column) bool {
	return c&col != 0
}

// Fields is the input of an upsert. Only attributes listed in Columns are
// written; the others keep their stored value on update and their column
// default on insert. A nil pointer for a listed attribute writes NULL.
type Fields struct {
	ID        int64
	Columns   Column
	Name      *string
	SKU       *string
	Price     decimal.Decimal
	Currency  string
	Quantity  int32
	Status    string
	Image     *string
	CreatedAt *time.Time
}

// IDSet is a set of product ids.
type IDSet map[int64]struct{}

// NewIDSet builds a set from the given ids.
func NewIDSet(ids ...int64) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Add inserts ids into the set.
func (s IDSet) Add(ids ...int64) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Has reports membership.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Union adds every member of other to s.
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Minus returns the members of s that are absent from other.
func (s IDSet) Minus(other IDSet) IDSet {
	out := make(IDSet)
	for id := range s {
		if !other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
