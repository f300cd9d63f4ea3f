package reconcile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/catalog-sync/internal/products"
	"github.com/odyssey-erp/catalog-sync/internal/upstream"
)

// prepared is a validated, sanitized row ready to be written.
type prepared struct {
	fields     products.Fields
	variations []products.VariationInput
}

// row is one source record of either shape.
type row interface {
	prepare(logger *slog.Logger) (prepared, error)
	// raw returns the original content for failure logs.
	raw() string
	line() int
}

type csvRow struct {
	layout Layout
	row    Row
}

func (r csvRow) line() int { return r.row.Line }

func (r csvRow) raw() string {
	if r.row.Cells == nil {
		return r.row.Error
	}
	b, _ := json.Marshal(r.row.Cells)
	return string(b)
}

func (r csvRow) prepare(logger *slog.Logger) (prepared, error) {
	if r.row.Error != "" {
		return prepared{}, fmt.Errorf("%w: %s", ErrInvalidRow, r.row.Error)
	}
	cells := r.row.Cells
	if len(cells) < r.layout.Width() {
		return prepared{}, fmt.Errorf("%w: expected %d cells, got %d", ErrInvalidRow, r.layout.Width(), len(cells))
	}
	id, err := parseID(cells[r.layout.ID])
	if err != nil {
		return prepared{}, err
	}

	currencyCell := cells[r.layout.Currency]
	currency, ok := products.NormalizeCurrency(currencyCell)
	if !ok && strings.TrimSpace(currencyCell) != "" {
		logger.Warn("unknown currency, using default",
			slog.Int64("product_id", id),
			slog.String("currency", currencyCell),
			slog.String("default", products.DefaultCurrency))
	}
	status, ok := products.SanitizeString(cells[r.layout.Status])
	if !ok {
		status = products.StatusNone
	}

	out := prepared{fields: products.Fields{
		ID:       id,
		Columns:  products.RowColumns,
		Name:     products.SanitizeOptional(cells[r.layout.Name]),
		SKU:      products.SanitizeOptional(cells[r.layout.SKU]),
		Price:    decimal.NewFromFloat(products.ValidatePrice(cells[r.layout.Price])),
		Currency: currency,
		Quantity: int32(products.ValidateInteger(cells[r.layout.Quantity])),
		Status:   status,
	}}

	if cell := cells[r.layout.Variations]; strings.TrimSpace(cell) != "" {
		variations, err := products.DecodeVariations(cell)
		if err != nil {
			logger.Warn("ignoring variations", slog.Int64("product_id", id), slog.Any("error", err))
		}
		out.variations = variations
	}
	return out, nil
}

// parseID sanitizes the identity cell and requires a positive integer.
func parseID(cell string) (int64, error) {
	clean, ok := products.SanitizeString(cell)
	if !ok {
		return 0, fmt.Errorf("%w: missing id", ErrInvalidRow)
	}
	id, err := strconv.ParseInt(clean, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrInvalidRow, clean)
	}
	return id, nil
}

type remoteRow struct {
	index  int
	record upstream.Record
}

func (r remoteRow) line() int { return r.index }

func (r remoteRow) raw() string { return string(r.record.Raw) }

func (r remoteRow) prepare(*slog.Logger) (prepared, error) {
	if r.record.Err != nil {
		return prepared{}, fmt.Errorf("%w: %v", ErrInvalidRow, r.record.Err)
	}
	p := r.record.Product
	if err := p.Validate(); err != nil {
		return prepared{}, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	price := p.Price
	if !price.IsPositive() {
		price = decimal.Zero
	}
	out := prepared{fields: products.Fields{
		ID:        int64(p.ID),
		Columns:   products.SnapshotColumns,
		Name:      products.SanitizeOptional(p.Name),
		Image:     products.SanitizeOptional(p.Image),
		Price:     price,
		CreatedAt: p.CreatedAt.Ptr(),
	}}
	for _, v := range p.Variations {
		for _, name := range RecognizedAttributes {
			value, ok := v.Attr(name)
			if !ok {
				continue
			}
			clean, _ := products.SanitizeString(value)
			out.variations = append(out.variations, products.VariationInput{Name: name, Value: clean})
		}
	}
	return out, nil
}
