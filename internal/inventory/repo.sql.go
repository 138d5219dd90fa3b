package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glossbook/glossbook/internal/finance"
	"github.com/glossbook/glossbook/internal/platform/db"
)

// Repository persists stock entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id uuid.UUID) (ProductStock, error)
	IncreaseStock(ctx context.Context, productID uuid.UUID, delta, unitCost float64) (float64, error)
	DecreaseStockClamped(ctx context.Context, productID uuid.UUID, delta float64) (float64, error)
	InsertEntry(ctx context.Context, entry StockEntry) error
	GetEntryForUpdate(ctx context.Context, id uuid.UUID) (StockEntry, error)
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	InsertFinancialRecord(ctx context.Context, record finance.Record) error
	DeleteFinancialRecords(ctx context.Context, refType finance.ReferenceType, refID uuid.UUID) (int64, error)
	WithSavepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListEntries returns stock entries newest first with the product name.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]StockEntry, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	query := `SELECT e.id, e.product_id, p.name, e.quantity::float8, e.unit_price::float8, e.cost::float8, e.base_quantity::float8, e.unit_cost::float8, e.date, COALESCE(e.notes, ''), e.created_at
FROM stock_entries e
JOIN products p ON p.id = e.product_id
WHERE 1=1`
	args := []any{}
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		query += ` AND e.product_id = $` + strconv.Itoa(len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		query += ` AND e.date >= $` + strconv.Itoa(len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		query += ` AND e.date <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY e.date DESC, e.created_at DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []StockEntry{}
	for rows.Next() {
		var e StockEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.ProductName, &e.Quantity, &e.UnitPrice, &e.Cost, &e.BaseQuantity, &e.UnitCost, &e.Date, &e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ProductValues returns quantity and last unit cost of every product ordered by name.
func (r *Repository) ProductValues(ctx context.Context) ([]ProductValue, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, unit, current_quantity::float8, COALESCE(last_unit_cost, 0)::float8
FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := []ProductValue{}
	for rows.Next() {
		var v ProductValue
		if err := rows.Scan(&v.ProductID, &v.Name, &v.Unit, &v.CurrentQuantity, &v.UnitCost); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, id uuid.UUID) (ProductStock, error) {
	var p ProductStock
	err := r.tx.QueryRow(ctx, `SELECT id, name, unit, conversion_factor::float8, current_quantity::float8, last_unit_cost::float8
FROM products WHERE id = $1 FOR UPDATE`, id).Scan(&p.ID, &p.Name, &p.Unit, &p.ConversionFactor, &p.CurrentQuantity, &p.LastUnitCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductStock{}, ErrProductNotFound
	}
	return p, err
}

func (r *txRepository) IncreaseStock(ctx context.Context, productID uuid.UUID, delta, unitCost float64) (float64, error) {
	var qty float64
	err := r.tx.QueryRow(ctx, `UPDATE products
SET current_quantity = current_quantity + $1, last_unit_cost = $2, updated_at = NOW()
WHERE id = $3
RETURNING current_quantity::float8`, delta, unitCost, productID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	return qty, err
}

func (r *txRepository) DecreaseStockClamped(ctx context.Context, productID uuid.UUID, delta float64) (float64, error) {
	var qty float64
	err := r.tx.QueryRow(ctx, `UPDATE products
SET current_quantity = GREATEST(current_quantity - $1, 0), updated_at = NOW()
WHERE id = $2
RETURNING current_quantity::float8`, delta, productID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	return qty, err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry StockEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_entries (id, product_id, quantity, unit_price, cost, base_quantity, unit_cost, date, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
		entry.ID, entry.ProductID, entry.Quantity, entry.UnitPrice, entry.Cost, entry.BaseQuantity, entry.UnitCost, entry.Date, entry.Notes, entry.CreatedAt)
	return err
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id uuid.UUID) (StockEntry, error) {
	var e StockEntry
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, quantity::float8, unit_price::float8, cost::float8, base_quantity::float8, unit_cost::float8, date, COALESCE(notes, ''), created_at
FROM stock_entries WHERE id = $1 FOR UPDATE`, id).Scan(&e.ID, &e.ProductID, &e.Quantity, &e.UnitPrice, &e.Cost, &e.BaseQuantity, &e.UnitCost, &e.Date, &e.Notes, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockEntry{}, ErrEntryNotFound
	}
	return e, err
}

func (r *txRepository) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) InsertFinancialRecord(ctx context.Context, record finance.Record) error {
	return finance.InsertRecord(ctx, r.tx, record)
}

func (r *txRepository) DeleteFinancialRecords(ctx context.Context, refType finance.ReferenceType, refID uuid.UUID) (int64, error) {
	return finance.DeleteByReference(ctx, r.tx, refType, refID)
}

func (r *txRepository) WithSavepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.Savepoint(ctx, r.tx, func(sp pgx.Tx) error {
		return fn(ctx, &txRepository{tx: sp})
	})
}
