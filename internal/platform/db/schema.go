package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schema is the fixed catalog schema. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          BIGINT PRIMARY KEY CHECK (id > 0),
		name        VARCHAR(255),
		sku         VARCHAR(255) UNIQUE,
		status      VARCHAR(32) NOT NULL DEFAULT 'none',
		price       NUMERIC(15, 2) NOT NULL DEFAULT 0 CHECK (price >= 0),
		currency    CHAR(3) NOT NULL DEFAULT 'SAR',
		quantity    INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		hint        VARCHAR(255),
		image       TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS products_active_idx ON products (id) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS variations (
		id          BIGSERIAL PRIMARY KEY,
		product_id  BIGINT NOT NULL REFERENCES products (id) ON DELETE CASCADE,
		name        VARCHAR(255) NOT NULL,
		value       VARCHAR(255) NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS variations_product_name_idx ON variations (product_id, name)`,
}

// EnsureSchema creates the products and variations tables when missing.
func EnsureSchema(ctx context.Context, starter TxStarter) error {
	return WithTx(ctx, starter, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("platform/db: schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}
