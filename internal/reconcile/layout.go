package reconcile

import (
	"fmt"
	"strings"
)

// Layout maps product fields to CSV column positions. It is declared once
// and checked against the header row of every file before any row is read.
type Layout struct {
	ID         int
	Name       int
	SKU        int
	Price      int
	Currency   int
	Variations int
	Quantity   int
	Status     int
}

// DefaultLayout is the column order of the catalog export.
var DefaultLayout = Layout{
	ID:         0,
	Name:       1,
	SKU:        2,
	Price:      3,
	Currency:   4,
	Variations: 5,
	Quantity:   6,
	Status:     7,
}

func (l Layout) columns() map[string]int {
	return map[string]int{
		"id":         l.ID,
		"name":       l.Name,
		"sku":        l.SKU,
		"price":      l.Price,
		"currency":   l.Currency,
		"variations": l.Variations,
		"quantity":   l.Quantity,
		"status":     l.Status,
	}
}

// Width is the minimum number of cells a row must carry.
func (l Layout) Width() int {
	width := 0
	for _, idx := range l.columns() {
		if idx+1 > width {
			width = idx + 1
		}
	}
	return width
}

// Validate compares a header row with the layout. Names are matched
// case-insensitively after trimming; extra trailing columns are allowed.
func (l Layout) Validate(header []string) error {
	if len(header) < l.Width() {
		return fmt.Errorf("%w: expected at least %d columns, got %d", ErrHeaderMismatch, l.Width(), len(header))
	}
	for name, idx := range l.columns() {
		got := strings.TrimSpace(header[idx])
		if idx == 0 {
			got = strings.TrimPrefix(got, "\ufeff")
		}
		if !strings.EqualFold(got, name) {
			return fmt.Errorf("%w: column %d is %q, expected %q", ErrHeaderMismatch, idx, got, name)
		}
	}
	return nil
}
