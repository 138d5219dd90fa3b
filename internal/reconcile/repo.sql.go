package reconcile

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glossbook/glossbook/internal/finance"
)

// PostgresRepository implements Repository on top of the ledger tables.
type PostgresRepository struct {
	*finance.PostgresRepository
	pool *pgxpool.Pool
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{PostgresRepository: finance.NewRepository(pool), pool: pool}
}

// EntriesWithoutExpense implements Repository.
func (r *PostgresRepository) EntriesWithoutExpense(ctx context.Context) ([]EntrySource, error) {
	rows, err := r.pool.Query(ctx, `SELECT se.id, p.name, se.quantity::float8, se.cost::float8, se.date
FROM stock_entries se
JOIN products p ON p.id = se.product_id
WHERE NOT EXISTS (
	SELECT 1 FROM financial_records fr WHERE fr.reference_type = 'stock_entry' AND fr.reference_id = se.id
)
ORDER BY se.date, se.id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (EntrySource, error) {
		var e EntrySource
		err := row.Scan(&e.EntryID, &e.ProductName, &e.Quantity, &e.Cost, &e.Date)
		return e, err
	})
}

// ServicesWithoutIncome implements Repository.
func (r *PostgresRepository) ServicesWithoutIncome(ctx context.Context) ([]ServiceSource, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.service_type_name, s.client_name, s.price::float8, s.date
FROM services s
WHERE NOT EXISTS (
	SELECT 1 FROM financial_records fr WHERE fr.reference_type = 'service' AND fr.reference_id = s.id
)
ORDER BY s.date, s.id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ServiceSource, error) {
		var s ServiceSource
		err := row.Scan(&s.ServiceID, &s.ServiceTypeName, &s.ClientName, &s.Price, &s.Date)
		return s, err
	})
}

// OrphanRecords implements Repository.
func (r *PostgresRepository) OrphanRecords(ctx context.Context) ([]finance.Record, error) {
	return r.ListOrphaned(ctx)
}
