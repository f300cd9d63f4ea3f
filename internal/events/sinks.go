package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

// Dispatch implements Dispatcher.
func (s LogSink) Dispatch(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("kind", event.Type()), slog.Int64("product_id", event.Product())}
	switch e := event.(type) {
	case BackInStock:
		attrs = append(attrs, slog.String("message", e.Message))
	case QuantityIncreased:
		attrs = append(attrs, slog.Int("new_quantity", int(e.NewQuantity)))
	}
	logger.InfoContext(ctx, "product notification", attrs...)
	return nil
}

// Envelope is the JSON payload published for every event.
type Envelope struct {
	Kind       string    `json:"kind"`
	ProductID  int64     `json:"product_id"`
	Payload    Event     `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RedisPublisher publishes events on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

// NewRedisPublisher builds a publisher for channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, now: func() time.Time { return time.Now().UTC() }}
}

// Dispatch implements Dispatcher.
func (p *RedisPublisher) Dispatch(ctx context.Context, event Event) error {
	if p == nil || p.client == nil {
		return nil
	}
	raw, err := json.Marshal(Envelope{
		Kind:       event.Type(),
		ProductID:  event.Product(),
		Payload:    event,
		OccurredAt: p.now(),
	})
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Type(), err)
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type(), err)
	}
	return nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
