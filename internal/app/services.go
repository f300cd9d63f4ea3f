package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/catalog-sync/internal/events"
	jobmetrics "github.com/odyssey-erp/catalog-sync/internal/jobs"
	"github.com/odyssey-erp/catalog-sync/internal/platform/cache"
	"github.com/odyssey-erp/catalog-sync/internal/platform/db"
	"github.com/odyssey-erp/catalog-sync/internal/products"
	"github.com/odyssey-erp/catalog-sync/internal/reconcile"
	"github.com/odyssey-erp/catalog-sync/internal/upstream"
)

// Services holds the connections and components shared by the catalog
// binaries.
type Services struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Repo       products.Repository
	Ledger     *reconcile.RedisLedger
	Reconciler *reconcile.Reconciler
	Fetcher    *upstream.Client
}

// NewServices connects to Postgres and Redis and wires the reconciler with
// the Redis pass ledger and the log and pub/sub event sinks.
func NewServices(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *jobmetrics.Metrics) (*Services, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}

	repo := products.NewRepository(pool)
	ledger := reconcile.NewRedisLedger(redisClient, cfg.PassTTL)
	reconciler := reconcile.New(reconcile.Config{
		Repo:   repo,
		Ledger: ledger,
		Dispatcher: events.Multi{
			events.LogSink{Logger: logger},
			events.NewRedisPublisher(redisClient, cfg.EventsChannel),
		},
		Logger:     logger,
		Metrics:    metrics,
		PruneStale: cfg.PruneStale,
	})

	return &Services{
		Pool:       pool,
		Redis:      redisClient,
		Repo:       repo,
		Ledger:     ledger,
		Reconciler: reconciler,
		Fetcher:    upstream.NewClient(cfg.APIURL, cfg.APITimeout),
	}, nil
}

// Close releases the Redis client and the pool.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.Redis != nil {
		err = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return err
}
