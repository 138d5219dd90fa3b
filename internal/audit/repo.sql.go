package audit

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository reads audit_logs from PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Timeline implements Repository.
func (r *PostgresRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	query := `SELECT occurred_at, COALESCE(actor_id, ''), action, entity, entity_id, COALESCE(meta, '{}'::jsonb)
FROM audit_logs WHERE 1=1`
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		query += ` AND ` + clause + ` $` + strconv.Itoa(len(args))
	}
	if !q.From.IsZero() {
		add("occurred_at >=", q.From)
	}
	if !q.Until.IsZero() {
		add("occurred_at <", q.Until)
	}
	if q.Actor != "" {
		add("actor_id =", q.Actor)
	}
	if q.Entity != "" {
		add("entity =", q.Entity)
	}
	if q.EntityID != "" {
		add("entity_id =", q.EntityID)
	}
	if q.Action != "" {
		add("action =", q.Action)
	}
	query += ` ORDER BY occurred_at DESC, id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var out TimelineRow
		err := row.Scan(&out.At, &out.Actor, &out.Action, &out.Entity, &out.EntityID, &out.Meta)
		return out, err
	})
}
