package products

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/catalog-sync/internal/platform/db"
)

var (
	ErrNotFound     = errors.New("products: not found")
	ErrDuplicateSKU = errors.New("products: duplicate sku")
)

// Repository persists products and their variations.
type Repository interface {
	Get(ctx context.Context, id int64) (Product, error)
	ListVariations(ctx context.Context, productID int64) ([]Variation, error)
	UpsertProduct(ctx context.Context, fields Fields) (UpsertResult, error)
	ReplaceVariations(ctx context.Context, productID int64, variations []VariationInput) error
	UpsertVariation(ctx context.Context, productID int64, name, value string) error
	ListAllProductIDs(ctx context.Context) (IDSet, error)
	MarkOutdatedAndSoftDelete(ctx context.Context, ids []int64, status, hint string) (int64, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type txBeginner interface {
	dbtx
	db.TxStarter
}

// Row locks are taken explicitly, so read committed is enough and keeps
// concurrent writers to the same id on a last-write-wins footing.
var writeTx = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

type repository struct {
	pool txBeginner
	now  func() time.Time
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return newRepository(pool)
}

func newRepository(conn txBeginner) *repository {
	return &repository{pool: conn, now: func() time.Time { return time.Now().UTC() }}
}

const productColumns = `id, name, sku, price, currency, quantity, status, hint, image, created_at, updated_at, deleted_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.Currency, &p.Quantity, &p.Status, &p.Hint, &p.Image, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	return p, err
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *repository) ListVariations(ctx context.Context, productID int64) ([]Variation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, name, value, created_at, updated_at FROM variations WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variation
	for rows.Next() {
		var v Variation
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Value, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertProduct locks the product row (soft-deleted rows included), then
// either updates it in place or inserts a new one. A soft-deleted product
// that reappears is restored and its deletion hint cleared.
func (r *repository) UpsertProduct(ctx context.Context, fields Fields) (UpsertResult, error) {
	if fields.ID <= 0 {
		return UpsertResult{}, fmt.Errorf("products: invalid id %d", fields.ID)
	}
	var result UpsertResult
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var prev State
		err := tx.QueryRow(ctx, `SELECT quantity, status FROM products WHERE id = $1 FOR UPDATE`, fields.ID).Scan(&prev.Quantity, &prev.Status)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			p, err := r.insert(ctx, tx, fields)
			if err != nil {
				return err
			}
			result = UpsertResult{Product: p}
			return nil
		case err != nil:
			return err
		}
		p, err := r.update(ctx, tx, fields)
		if err != nil {
			return err
		}
		result = UpsertResult{Product: p, Previous: &prev}
		return nil
	})
	if err != nil {
		return UpsertResult{}, translate(err)
	}
	return result, nil
}

func (r *repository) insert(ctx context.Context, tx pgx.Tx, fields Fields) (Product, error) {
	now := r.now()
	cols := []string{"id"}
	args := []interface{}{fields.ID}
	for _, a := range assignments(fields) {
		cols = append(cols, a.column)
		args = append(args, a.value)
	}
	if !fields.Columns.Has(ColCreatedAt) || fields.CreatedAt == nil {
		cols = append(cols, "created_at")
		args = append(args, now)
	}
	cols = append(cols, "updated_at")
	args = append(args, now)

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	query := `INSERT INTO products (` + strings.Join(cols, ", ") + `) VALUES (` + strings.Join(placeholders, ", ") + `) RETURNING ` + productColumns
	return scanProduct(tx.QueryRow(ctx, query, args...))
}

func (r *repository) update(ctx context.Context, tx pgx.Tx, fields Fields) (Product, error) {
	args := []interface{}{fields.ID}
	sets := make([]string, 0, 12)
	for _, a := range assignments(fields) {
		args = append(args, a.value)
		sets = append(sets, a.column+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, r.now())
	sets = append(sets,
		"updated_at = $"+strconv.Itoa(len(args)),
		"hint = CASE WHEN deleted_at IS NULL THEN hint ELSE NULL END",
	)
	if !fields.Columns.Has(ColStatus) {
		// A restored row must not keep the terminal deleted status.
		sets = append(sets, "status = CASE WHEN deleted_at IS NULL THEN status ELSE '"+StatusNone+"' END")
	}
	sets = append(sets, "deleted_at = NULL")
	query := `UPDATE products SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + productColumns
	return scanProduct(tx.QueryRow(ctx, query, args...))
}

type assignment struct {
	column string
	value  interface{}
}

func assignments(f Fields) []assignment {
	var out []assignment
	if f.Columns.Has(ColName) {
		out = append(out, assignment{"name", f.Name})
	}
	if f.Columns.Has(ColSKU) {
		out = append(out, assignment{"sku", f.SKU})
	}
	if f.Columns.Has(ColPrice) {
		out = append(out, assignment{"price", f.Price})
	}
	if f.Columns.Has(ColCurrency) {
		currency := f.Currency
		if currency == "" {
			currency = DefaultCurrency
		}
		out = append(out, assignment{"currency", currency})
	}
	if f.Columns.Has(ColQuantity) {
		out = append(out, assignment{"quantity", f.Quantity})
	}
	if f.Columns.Has(ColStatus) {
		status := f.Status
		if status == "" {
			status = StatusNone
		}
		out = append(out, assignment{"status", status})
	}
	if f.Columns.Has(ColImage) {
		out = append(out, assignment{"image", f.Image})
	}
	if f.Columns.Has(ColCreatedAt) && f.CreatedAt != nil {
		out = append(out, assignment{"created_at", *f.CreatedAt})
	}
	return out
}

// ReplaceVariations deletes every variation of the product and inserts the
// given list inside one transaction.
func (r *repository) ReplaceVariations(ctx context.Context, productID int64, variations []VariationInput) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM variations WHERE product_id = $1`, productID); err != nil {
			return fmt.Errorf("products: delete variations: %w", err)
		}
		if len(variations) == 0 {
			return nil
		}
		now := r.now()
		rows := make([][]interface{}, len(variations))
		for i, v := range variations {
			rows[i] = []interface{}{productID, v.Name, v.Value, now, now}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"variations"},
			[]string{"product_id", "name", "value", "created_at", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("products: insert variations: %w", err)
		}
		return nil
	})
}

// UpsertVariation updates the value of the (product, name) variation or
// creates it when missing. Concurrent first writes for the same pair may
// both insert; last write wins on later passes.
func (r *repository) UpsertVariation(ctx context.Context, productID int64, name, value string) error {
	now := r.now()
	tag, err := r.pool.Exec(ctx, `UPDATE variations SET value = $3, updated_at = $4 WHERE product_id = $1 AND name = $2`, productID, name, value, now)
	if err != nil {
		return fmt.Errorf("products: update variation: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO variations (product_id, name, value, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`, productID, name, value, now)
	if err != nil {
		return fmt.Errorf("products: insert variation: %w", err)
	}
	return nil
}

// ListAllProductIDs returns the ids of every active product.
func (r *repository) ListAllProductIDs(ctx context.Context) (IDSet, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("products: list ids: %w", err)
	}
	defer rows.Close()

	ids := make(IDSet)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids.Add(id)
	}
	return ids, rows.Err()
}

// MarkOutdatedAndSoftDelete sets status and hint on every listed active
// product and marks it deleted, in one statement.
func (r *repository) MarkOutdatedAndSoftDelete(ctx context.Context, ids []int64, status, hint string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := r.now()
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET status = $2, hint = $3, deleted_at = $4, updated_at = $4 WHERE id = ANY($1::bigint[]) AND deleted_at IS NULL`,
		ids, status, hint, now,
	)
	if err != nil {
		return 0, fmt.Errorf("products: soft delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTxOptions(ctx, r.pool, writeTx, fn)
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "sku") {
		return fmt.Errorf("%w: %s", ErrDuplicateSKU, pgErr.Detail)
	}
	return err
}
