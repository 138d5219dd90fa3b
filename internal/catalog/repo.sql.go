package catalog

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glossbook/glossbook/internal/platform/db"
	"github.com/glossbook/glossbook/internal/shared"
)

// PostgresRepository implements Repository with pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the catalog repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}

// mapWriteErr turns constraint violations into domain errors.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicateName
		case "23503":
			return ErrInUse
		}
	}
	return err
}

// expectOne checks an Exec result, reporting notFound when no row matched.
func expectOne(notFound error) func(pgconn.CommandTag, error) error {
	return func(tag pgconn.CommandTag, err error) error {
		if err != nil {
			return mapWriteErr(err)
		}
		if tag.RowsAffected() == 0 {
			return notFound
		}
		return nil
	}
}

func (r *PostgresRepository) ListUnits(ctx context.Context) ([]Unit, error) {
	if r == nil {
		return nil, errNoRepository
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, abbreviation, default_value::float8, created_at FROM units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Unit, error) {
		var u Unit
		err := row.Scan(&u.ID, &u.Name, &u.Abbreviation, &u.DefaultValue, &u.CreatedAt)
		return u, err
	})
}

func (r *PostgresRepository) FindUnit(ctx context.Context, nameOrAbbreviation string) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `SELECT id, name, abbreviation, default_value::float8, created_at FROM units
WHERE lower(name) = lower($1) OR lower(abbreviation) = lower($1)
ORDER BY name LIMIT 1`, nameOrAbbreviation).Scan(&u.ID, &u.Name, &u.Abbreviation, &u.DefaultValue, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrUnitNotFound
	}
	return u, err
}

func (r *PostgresRepository) CreateUnit(ctx context.Context, u Unit) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO units (id, name, abbreviation, default_value, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Name, u.Abbreviation, u.DefaultValue, u.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresRepository) UpdateUnit(ctx context.Context, u Unit) error {
	return expectOne(ErrUnitNotFound)(r.pool.Exec(ctx, `UPDATE units SET name = $1, abbreviation = $2, default_value = $3 WHERE id = $4`,
		u.Name, u.Abbreviation, u.DefaultValue, u.ID))
}

func (r *PostgresRepository) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	return expectOne(ErrUnitNotFound)(r.pool.Exec(ctx, `DELETE FROM units WHERE id = $1`, id))
}

func (r *PostgresRepository) ListBrands(ctx context.Context) ([]Brand, error) {
	if r == nil {
		return nil, errNoRepository
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM brands ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Brand, error) {
		var b Brand
		err := row.Scan(&b.ID, &b.Name, &b.CreatedAt)
		return b, err
	})
}

func (r *PostgresRepository) CreateBrand(ctx context.Context, b Brand) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO brands (id, name, created_at) VALUES ($1, $2, $3)`, b.ID, b.Name, b.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresRepository) UpdateBrand(ctx context.Context, b Brand) error {
	return expectOne(ErrBrandNotFound)(r.pool.Exec(ctx, `UPDATE brands SET name = $1 WHERE id = $2`, b.Name, b.ID))
}

func (r *PostgresRepository) DeleteBrand(ctx context.Context, id uuid.UUID) error {
	return expectOne(ErrBrandNotFound)(r.pool.Exec(ctx, `DELETE FROM brands WHERE id = $1`, id))
}

func (r *PostgresRepository) ListCategories(ctx context.Context, ownerID string) ([]Category, error) {
	if r == nil {
		return nil, errNoRepository
	}
	rows, err := r.pool.Query(ctx, `SELECT id, owner_id, name, prefix, created_at FROM categories WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanCategory)
}

func scanCategory(row pgx.CollectableRow) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Prefix, &c.CreatedAt)
	return c, err
}

func (r *PostgresRepository) GetCategory(ctx context.Context, id uuid.UUID) (Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, owner_id, name, prefix, created_at FROM categories WHERE id = $1`, id)
	if err != nil {
		return Category{}, err
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCategory)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrCategoryNotFound
	}
	return c, err
}

func (r *PostgresRepository) CreateCategory(ctx context.Context, c Category) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO categories (id, owner_id, name, prefix, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.OwnerID, c.Name, c.Prefix, c.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresRepository) UpdateCategory(ctx context.Context, c Category) error {
	return expectOne(ErrCategoryNotFound)(r.pool.Exec(ctx, `UPDATE categories SET name = $1, prefix = $2 WHERE id = $3`, c.Name, c.Prefix, c.ID))
}

func (r *PostgresRepository) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return expectOne(ErrCategoryNotFound)(r.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id))
}

// UpsertCategories writes every category in one batch keyed on (owner_id, name).
func (r *PostgresRepository) UpsertCategories(ctx context.Context, categories []Category) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range categories {
			batch.Queue(`INSERT INTO categories (id, owner_id, name, prefix, created_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (owner_id, name) DO UPDATE SET prefix = EXCLUDED.prefix`, c.ID, c.OwnerID, c.Name, c.Prefix, c.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

const productColumns = `p.id, p.code, p.name, p.brand_id, COALESCE(b.name, ''), p.category_id, COALESCE(c.name, ''), p.unit,
p.conversion_factor::float8, p.current_quantity::float8, p.min_quantity::float8, p.last_unit_cost::float8, p.created_at, p.updated_at
FROM products p
LEFT JOIN brands b ON b.id = p.brand_id
LEFT JOIN categories c ON c.id = p.category_id`

func scanProduct(row pgx.CollectableRow) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.BrandID, &p.BrandName, &p.CategoryID, &p.CategoryName, &p.Unit,
		&p.ConversionFactor, &p.CurrentQuantity, &p.MinQuantity, &p.LastUnitCost, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *PostgresRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	if r == nil {
		return nil, errNoRepository
	}
	var where []string
	var args []any
	if filter.LowStockOnly {
		where = append(where, `p.current_quantity <= p.min_quantity`)
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		where = append(where, `p.category_id = $`+strconv.Itoa(len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where = append(where, `(p.name ILIKE $`+n+` OR p.code ILIKE $`+n+`)`)
	}
	query := `SELECT ` + productColumns
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY p.name`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *PostgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` WHERE p.id = $1`, id)
	if err != nil {
		return Product{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *PostgresRepository) NextProductSequence(ctx context.Context, prefix string) (int, error) {
	var next int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(NULLIF(split_part(code, '-', 2), '')::int), 0) + 1
FROM products WHERE code LIKE $1 || '-%'`, prefix).Scan(&next)
	return next, err
}

func (r *PostgresRepository) InsertProduct(ctx context.Context, p Product) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO products (id, code, name, brand_id, category_id, unit, conversion_factor, current_quantity, min_quantity, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Code, p.Name, p.BrandID, p.CategoryID, p.Unit, p.ConversionFactor, p.CurrentQuantity, p.MinQuantity, p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

// UpdateProduct leaves current_quantity and last_unit_cost untouched.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p Product) error {
	return expectOne(ErrProductNotFound)(r.pool.Exec(ctx, `UPDATE products
SET code = $1, name = $2, brand_id = $3, category_id = $4, unit = $5, conversion_factor = $6, min_quantity = $7, updated_at = $8
WHERE id = $9`, p.Code, p.Name, p.BrandID, p.CategoryID, p.Unit, p.ConversionFactor, p.MinQuantity, p.UpdatedAt, p.ID))
}

func (r *PostgresRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return expectOne(ErrProductNotFound)(r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id))
}

const serviceTypeQuery = `SELECT st.id, st.name, st.price::float8, st.created_at,
l.product_id, COALESCE(p.name, ''), COALESCE(p.unit, ''), COALESCE(p.current_quantity, 0)::float8,
COALESCE(p.conversion_factor, 0)::float8, l.default_quantity::float8, l.use_unit_system
FROM service_types st
LEFT JOIN service_type_products l ON l.service_type_id = st.id
LEFT JOIN products p ON p.id = l.product_id`

func (r *PostgresRepository) ListServiceTypes(ctx context.Context) ([]ServiceType, error) {
	if r == nil {
		return nil, errNoRepository
	}
	return r.queryServiceTypes(ctx, serviceTypeQuery+` ORDER BY st.name, p.name`)
}

func (r *PostgresRepository) GetServiceType(ctx context.Context, id uuid.UUID) (ServiceType, error) {
	types, err := r.queryServiceTypes(ctx, serviceTypeQuery+` WHERE st.id = $1 ORDER BY p.name`, id)
	if err != nil {
		return ServiceType{}, err
	}
	if len(types) == 0 {
		return ServiceType{}, ErrServiceTypeNotFound
	}
	return types[0], nil
}

func (r *PostgresRepository) queryServiceTypes(ctx context.Context, query string, args ...any) ([]ServiceType, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ServiceType{}
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var st ServiceType
		var (
			productID     *uuid.UUID
			name, unit    string
			qty, factor   float64
			defaultQty    *float64
			useUnitSystem *bool
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Price, &st.CreatedAt, &productID, &name, &unit, &qty, &factor, &defaultQty, &useUnitSystem); err != nil {
			return nil, err
		}
		i, ok := index[st.ID]
		if !ok {
			st.Lines = []BOMLine{}
			out = append(out, st)
			i = len(out) - 1
			index[st.ID] = i
		}
		if productID == nil {
			continue
		}
		line := BOMLine{ProductID: *productID, ProductName: name, ProductUnit: unit, CurrentQuantity: qty, ConversionFactor: factor}
		if defaultQty != nil {
			line.DefaultQuantity = *defaultQty
		}
		if useUnitSystem != nil {
			line.UseUnitSystem = *useUnitSystem
		}
		out[i].Lines = append(out[i].Lines, line)
	}
	return out, rows.Err()
}

// SaveServiceType upserts the header, then deletes and re-inserts every BOM line.
func (r *PostgresRepository) SaveServiceType(ctx context.Context, st ServiceType) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO service_types (id, name, price, created_at, updated_at) VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, updated_at = NOW()`,
			st.ID, st.Name, st.Price, st.CreatedAt); err != nil {
			return mapWriteErr(err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM service_type_products WHERE service_type_id = $1`, st.ID); err != nil {
			return err
		}
		if len(st.Lines) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(st.Lines))
		for _, l := range st.Lines {
			rows = append(rows, []any{st.ID, l.ProductID, l.DefaultQuantity, l.UseUnitSystem})
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"service_type_products"},
			[]string{"service_type_id", "product_id", "default_quantity", "use_unit_system"}, pgx.CopyFromRows(rows))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return ErrProductNotFound
			}
		}
		return err
	})
}

func (r *PostgresRepository) DeleteServiceType(ctx context.Context, id uuid.UUID) error {
	return expectOne(ErrServiceTypeNotFound)(r.pool.Exec(ctx, `DELETE FROM service_types WHERE id = $1`, id))
}
