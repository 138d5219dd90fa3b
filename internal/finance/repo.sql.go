package finance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glossbook/glossbook/internal/shared"
)

// ErrRecordNotFound indicates a missing financial record.
var ErrRecordNotFound = fmt.Errorf("finance: record %w", shared.ErrNotFound)

const recordColumns = `id, type, amount::float8, description, reference_type, reference_id, date, created_at`

// PostgresRepository persists financial records in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// ListRecords implements Repository.
func (r *PostgresRepository) ListRecords(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM financial_records WHERE 1=1`
	args := []any{}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		query += ` AND date >= $` + strconv.Itoa(len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		query += ` AND date <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY date DESC, created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRecord implements Repository.
func (r *PostgresRepository) GetRecord(ctx context.Context, id uuid.UUID) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM financial_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// InsertRecord implements Repository.
func (r *PostgresRepository) InsertRecord(ctx context.Context, record Record) error {
	return InsertRecord(ctx, r.pool, record)
}

// DeleteRecord implements Repository.
func (r *PostgresRepository) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM financial_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListOrphaned returns linked records whose stock entry or service no longer exists.
func (r *PostgresRepository) ListOrphaned(ctx context.Context) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM financial_records fr
WHERE (fr.reference_type = 'stock_entry' AND NOT EXISTS (SELECT 1 FROM stock_entries se WHERE se.id = fr.reference_id))
   OR (fr.reference_type = 'service' AND NOT EXISTS (SELECT 1 FROM services s WHERE s.id = fr.reference_id))
ORDER BY fr.date, fr.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// InsertRecord writes record through db, which may be a pool or a transaction.
func InsertRecord(ctx context.Context, db DBTX, record Record) error {
	var refType *string
	if record.ReferenceType != nil {
		v := string(*record.ReferenceType)
		refType = &v
	}
	var createdAt *time.Time
	if !record.CreatedAt.IsZero() {
		createdAt = &record.CreatedAt
	}
	_, err := db.Exec(ctx, `INSERT INTO financial_records (id, type, amount, description, reference_type, reference_id, date, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		record.ID, string(record.Type), record.Amount, record.Description, refType, record.ReferenceID, record.Date, createdAt)
	return err
}

// DeleteByReference removes the records owned by a ledger row and reports how many went.
func DeleteByReference(ctx context.Context, db DBTX, refType ReferenceType, refID uuid.UUID) (int64, error) {
	tag, err := db.Exec(ctx, `DELETE FROM financial_records WHERE reference_type = $1 AND reference_id = $2`, string(refType), refID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var recType string
	var refType *string
	if err := row.Scan(&rec.ID, &recType, &rec.Amount, &rec.Description, &refType, &rec.ReferenceID, &rec.Date, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.Type = RecordType(recType)
	if refType != nil {
		rt := ReferenceType(*refType)
		rec.ReferenceType = &rt
	}
	return rec, nil
}
