// Package events turns product state transitions into notifications and
// hands them to sinks.
package events

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/catalog-sync/internal/products"
)

// Event kinds.
const (
	KindBackInStock       = "back_in_stock"
	KindQuantityIncreased = "quantity_increased"
)

// Event is a notification emitted for a product transition.
type Event interface {
	Type() string
	Product() int64
}

// BackInStock fires when a product moves from out of stock to for sale.
type BackInStock struct {
	ProductID int64  `json:"product_id"`
	Message   string `json:"message"`
}

func (e BackInStock) Type() string { return KindBackInStock }
func (e BackInStock) Product() int64 { return e.ProductID }

// QuantityIncreased fires when the stored quantity grows.
type QuantityIncreased struct {
	ProductID   int64 `json:"product_id"`
	NewQuantity int32 `json:"new_quantity"`
}

func (e QuantityIncreased) Type() string { return KindQuantityIncreased }
func (e QuantityIncreased) Product() int64 { return e.ProductID }

// Key identifies an event within one reconciliation pass.
func Key(e Event) string {
	return fmt.Sprintf("%s:%d", e.Type(), e.Product())
}

// Detect compares the state before an upsert with the stored result. A
// created product has no previous state and never produces events. The
// two conditions are independent; both may fire for one write.
func Detect(res products.UpsertResult) []Event {
	if res.Previous == nil {
		return nil
	}
	prev, cur := *res.Previous, res.Product
	var out []Event
	if prev.Status == products.StatusOut && cur.Status == products.StatusSale {
		out = append(out, BackInStock{
			ProductID: cur.ID,
			Message:   fmt.Sprintf("This product is in stock now with %d units", cur.Quantity),
		})
	}
	if cur.Quantity > prev.Quantity {
		out = append(out, QuantityIncreased{ProductID: cur.ID, NewQuantity: cur.Quantity})
	}
	return out
}

// Dispatcher delivers events to a consumer.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, event Event) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Multi fans an event out to every dispatcher and joins their errors.
type Multi []Dispatcher

// Dispatch implements Dispatcher.
func (m Multi) Dispatch(ctx context.Context, event Event) error {
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}
