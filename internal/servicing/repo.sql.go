package servicing

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glossbook/glossbook/internal/finance"
	"github.com/glossbook/glossbook/internal/inventory"
	"github.com/glossbook/glossbook/internal/platform/db"
)

// Repository persists service executions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("servicing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) GetServiceType(ctx context.Context, id uuid.UUID) (ServiceType, error) {
	if r == nil {
		return ServiceType{}, errors.New("servicing repository not initialised")
	}
	return loadServiceType(ctx, r.pool, id)
}

// ListServices returns executions newest first.
func (r *Repository) ListServices(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	if r == nil {
		return nil, errors.New("servicing repository not initialised")
	}
	query := `SELECT id, service_type_id, service_type_name, client_name, price::float8, product_cost::float8, date, COALESCE(notes, ''), created_at, consumptions_recorded
FROM services WHERE 1=1`
	args := []any{}
	if filter.ServiceTypeID != nil {
		args = append(args, *filter.ServiceTypeID)
		query += ` AND service_type_id = $` + strconv.Itoa(len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		query += ` AND date >= $` + strconv.Itoa(len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		query += ` AND date <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY date DESC, created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanExecution)
}

func scanExecution(row pgx.CollectableRow) (Execution, error) {
	var e Execution
	err := row.Scan(&e.ID, &e.ServiceTypeID, &e.ServiceTypeName, &e.ClientName, &e.Price, &e.ProductCost, &e.Date, &e.Notes, &e.CreatedAt, &e.ConsumptionsRecorded)
	return e, err
}

// loadServiceType reads the header and every BOM line with its product stock.
func loadServiceType(ctx context.Context, q querier, id uuid.UUID) (ServiceType, error) {
	rows, err := q.Query(ctx, `SELECT st.id, st.name, st.price::float8,
p.id, p.name, p.unit, p.conversion_factor::float8, p.current_quantity::float8, p.last_unit_cost::float8,
l.default_quantity::float8, l.use_unit_system
FROM service_types st
LEFT JOIN service_type_products l ON l.service_type_id = st.id
LEFT JOIN products p ON p.id = l.product_id
WHERE st.id = $1
ORDER BY p.id`, id)
	if err != nil {
		return ServiceType{}, err
	}
	defer rows.Close()
	var st ServiceType
	found := false
	for rows.Next() {
		var (
			productID     *uuid.UUID
			name, unit    *string
			factor, qty   *float64
			lastCost      *float64
			defaultQty    *float64
			useUnitSystem *bool
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Price, &productID, &name, &unit, &factor, &qty, &lastCost, &defaultQty, &useUnitSystem); err != nil {
			return ServiceType{}, err
		}
		found = true
		if productID == nil {
			continue
		}
		st.Lines = append(st.Lines, Line{
			Product: inventory.ProductStock{
				ID:               *productID,
				Name:             deref(name),
				Unit:             deref(unit),
				ConversionFactor: deref(factor),
				CurrentQuantity:  deref(qty),
				LastUnitCost:     lastCost,
			},
			DefaultQuantity: deref(defaultQty),
			UseUnitSystem:   deref(useUnitSystem),
		})
	}
	if err := rows.Err(); err != nil {
		return ServiceType{}, err
	}
	if !found {
		return ServiceType{}, ErrServiceTypeNotFound
	}
	return st, nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

func (r *txRepository) GetServiceType(ctx context.Context, id uuid.UUID) (ServiceType, error) {
	return loadServiceType(ctx, r.tx, id)
}

func (r *txRepository) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]inventory.ProductStock, error) {
	out := make(map[uuid.UUID]inventory.ProductStock, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, name, unit, conversion_factor::float8, current_quantity::float8, last_unit_cost::float8
FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p inventory.ProductStock
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &p.ConversionFactor, &p.CurrentQuantity, &p.LastUnitCost); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *txRepository) InsertService(ctx context.Context, e Execution) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO services (id, service_type_id, service_type_name, client_name, price, product_cost, date, notes, created_at, consumptions_recorded)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)`,
		e.ID, e.ServiceTypeID, e.ServiceTypeName, e.ClientName, e.Price, e.ProductCost, e.Date, e.Notes, e.CreatedAt, e.ConsumptionsRecorded)
	return err
}

func (r *txRepository) DecrementStock(ctx context.Context, productID uuid.UUID, qty float64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE products
SET current_quantity = current_quantity - $1, updated_at = NOW()
WHERE id = $2 AND current_quantity >= $1`, qty, productID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) RestoreStock(ctx context.Context, productID uuid.UUID, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET current_quantity = current_quantity + $1, updated_at = NOW() WHERE id = $2`, qty, productID)
	return err
}

func (r *txRepository) InsertConsumptions(ctx context.Context, consumptions []Consumption) error {
	if len(consumptions) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(consumptions))
	for _, c := range consumptions {
		rows = append(rows, []any{c.ServiceID, c.ProductID, c.Quantity, c.UnitCost})
	}
	_, err := r.tx.CopyFrom(ctx, pgx.Identifier{"service_consumptions"},
		[]string{"service_id", "product_id", "quantity", "unit_cost"}, pgx.CopyFromRows(rows))
	return err
}

func (r *txRepository) ListConsumptions(ctx context.Context, serviceID uuid.UUID) ([]Consumption, error) {
	rows, err := r.tx.Query(ctx, `SELECT service_id, product_id, quantity::float8, unit_cost::float8
FROM service_consumptions WHERE service_id = $1 ORDER BY product_id`, serviceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Consumption, error) {
		var c Consumption
		err := row.Scan(&c.ServiceID, &c.ProductID, &c.Quantity, &c.UnitCost)
		return c, err
	})
}

func (r *txRepository) InsertFinancialRecord(ctx context.Context, record finance.Record) error {
	return finance.InsertRecord(ctx, r.tx, record)
}

func (r *txRepository) GetServiceForUpdate(ctx context.Context, id uuid.UUID) (Execution, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, service_type_id, service_type_name, client_name, price::float8, product_cost::float8, date, COALESCE(notes, ''), created_at, consumptions_recorded
FROM services WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return Execution{}, err
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanExecution)
	if errors.Is(err, pgx.ErrNoRows) {
		return Execution{}, ErrServiceNotFound
	}
	return e, err
}

func (r *txRepository) DeleteService(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (r *txRepository) DeleteFinancialRecords(ctx context.Context, refType finance.ReferenceType, refID uuid.UUID) (int64, error) {
	return finance.DeleteByReference(ctx, r.tx, refType, refID)
}

func (r *txRepository) WithSavepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.Savepoint(ctx, r.tx, func(sp pgx.Tx) error {
		return fn(ctx, &txRepository{tx: sp})
	})
}
