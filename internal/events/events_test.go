package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/catalog-sync/internal/products"
)

func updated(prevQty int32, prevStatus string, qty int32, status string) products.UpsertResult {
	return products.UpsertResult{
		Product:  products.Product{ID: 42, Quantity: qty, Status: status},
		Previous: &products.State{Quantity: prevQty, Status: prevStatus},
	}
}

func TestDetectRestockAndIncrease(t *testing.T) {
	got := Detect(updated(5, products.StatusOut, 10, products.StatusSale))
	require.Len(t, got, 2)
	assert.Equal(t, BackInStock{ProductID: 42, Message: "This product is in stock now with 10 units"}, got[0])
	assert.Equal(t, QuantityIncreased{ProductID: 42, NewQuantity: 10}, got[1])
}

func TestDetectIndependentConditions(t *testing.T) {
	got := Detect(updated(10, products.StatusOut, 3, products.StatusSale))
	require.Len(t, got, 1)
	assert.Equal(t, KindBackInStock, got[0].Type())

	got = Detect(updated(1, products.StatusSale, 4, products.StatusSale))
	require.Len(t, got, 1)
	assert.Equal(t, KindQuantityIncreased, got[0].Type())

	assert.Empty(t, Detect(updated(4, products.StatusSale, 4, products.StatusOut)))
	assert.Empty(t, Detect(updated(4, products.StatusNone, 4, products.StatusSale)))
}

func TestDetectIgnoresCreatedProducts(t *testing.T) {
	res := products.UpsertResult{Product: products.Product{ID: 1, Quantity: 50, Status: products.StatusSale}}
	assert.Empty(t, Detect(res))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "back_in_stock:7", Key(BackInStock{ProductID: 7}))
	assert.Equal(t, "quantity_increased:7", Key(QuantityIncreased{ProductID: 7}))
}

func TestLogSinkWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, sink.Dispatch(context.Background(), QuantityIncreased{ProductID: 9, NewQuantity: 12}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "product notification", line["msg"])
	assert.Equal(t, "quantity_increased", line["kind"])
	assert.EqualValues(t, 9, line["product_id"])
	assert.EqualValues(t, 12, line["new_quantity"])
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls int
	ok := DispatcherFunc(func(context.Context, Event) error { calls++; return nil })
	boom := DispatcherFunc(func(context.Context, Event) error { calls++; return errors.New("boom") })

	err := Multi{ok, nil, boom, ok}.Dispatch(context.Background(), BackInStock{ProductID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 3, calls)

	assert.NoError(t, Multi{ok}.Dispatch(context.Background(), BackInStock{ProductID: 1}))
}

func TestRedisPublisherPublishesEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := mr.NewSubscriber()
	t.Cleanup(sub.Close)
	sub.Subscribe("catalog.events")

	pub := NewRedisPublisher(client, "catalog.events")
	pub.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	errCh := make(chan error, 1)
	go func() {
		errCh <- pub.Dispatch(context.Background(), BackInStock{ProductID: 3, Message: "back"})
	}()

	select {
	case msg := <-sub.Messages():
		var env struct {
			Kind       string          `json:"kind"`
			ProductID  int64           `json:"product_id"`
			Payload    json.RawMessage `json:"payload"`
			OccurredAt time.Time       `json:"occurred_at"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Message), &env))
		assert.Equal(t, KindBackInStock, env.Kind)
		assert.Equal(t, int64(3), env.ProductID)
		assert.JSONEq(t, `{"product_id":3,"message":"back"}`, string(env.Payload))
		assert.True(t, env.OccurredAt.Equal(pub.now()))
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
	require.NoError(t, <-errCh)
}

func TestRedisPublisherNilClientIsNoop(t *testing.T) {
	var pub *RedisPublisher
	assert.NoError(t, pub.Dispatch(context.Background(), BackInStock{ProductID: 1}))
}
