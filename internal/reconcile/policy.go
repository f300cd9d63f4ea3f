package reconcile

import (
	"context"
	"fmt"
	"slices"

	"github.com/odyssey-erp/catalog-sync/internal/products"
)

// RecognizedAttributes are the variation names read from remote records.
var RecognizedAttributes = []string{"color", "material", "quantity", "additional_price"}

// VariationPolicy writes the variations of one product. Each pipeline
// selects its policy explicitly.
type VariationPolicy interface {
	Name() string
	Apply(ctx context.Context, repo products.Repository, productID int64, variations []products.VariationInput) error
}

// ReplaceAll discards the stored variations and writes the given list.
type ReplaceAll struct{}

func (ReplaceAll) Name() string { return "replace_all" }

func (ReplaceAll) Apply(ctx context.Context, repo products.Repository, productID int64, variations []products.VariationInput) error {
	if err := repo.ReplaceVariations(ctx, productID, variations); err != nil {
		return fmt.Errorf("reconcile: replace variations: %w", err)
	}
	return nil
}

// UpsertByName writes each variation keyed by (product, name), limited to
// a fixed attribute set. Names outside the set and stored variations
// absent from the input are left untouched.
type UpsertByName struct {
	Attributes []string
}

func (UpsertByName) Name() string { return "upsert_by_name" }

func (p UpsertByName) Apply(ctx context.Context, repo products.Repository, productID int64, variations []products.VariationInput) error {
	allowed := p.Attributes
	if len(allowed) == 0 {
		allowed = RecognizedAttributes
	}
	for _, v := range variations {
		if !slices.Contains(allowed, v.Name) {
			continue
		}
		if err := repo.UpsertVariation(ctx, productID, v.Name, v.Value); err != nil {
			return fmt.Errorf("reconcile: upsert variation %s: %w", v.Name, err)
		}
	}
	return nil
}
