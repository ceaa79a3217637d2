package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `id, code, name, description, type, unit, standard_cost, is_active, created_at, updated_at`

// PGRepository is the PostgreSQL-backed product repository.
type PGRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new product repository.
func NewRepository(db *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: db}
}

func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		p := arg("%" + search + "%")
		where = append(where, fmt.Sprintf("(code ILIKE %s OR name ILIKE %s)", p, p))
	}
	if filters.Type != "" {
		where = append(where, "type = "+arg(filters.Type))
	}
	if filters.IsActive != nil {
		where = append(where, "is_active = "+arg(*filters.IsActive))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM products WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("masterdata: count products: %w", err)
	}

	offset := (filters.Page - 1) * filters.Limit
	query := fmt.Sprintf("SELECT %s FROM products WHERE %s ORDER BY code LIMIT %s OFFSET %s",
		productColumns, cond, arg(filters.Limit), arg(offset))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("masterdata: list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *PGRepository) Get(ctx context.Context, id string) (Product, error) {
	row := r.db.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	return scanProduct(row)
}

func (r *PGRepository) GetByCode(ctx context.Context, code string) (Product, error) {
	row := r.db.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE code = $1", code)
	return scanProduct(row)
}

func (r *PGRepository) Save(ctx context.Context, p Product) error {
	const query = `
INSERT INTO products (id, code, name, description, type, unit, standard_cost, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    code = EXCLUDED.code,
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    type = EXCLUDED.type,
    unit = EXCLUDED.unit,
    standard_cost = EXCLUDED.standard_cost,
    is_active = EXCLUDED.is_active,
    updated_at = EXCLUDED.updated_at`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.Code, p.Name, p.Description, p.Type, p.Unit, p.StandardCost, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCode
		}
		return fmt.Errorf("masterdata: save product: %w", err)
	}
	return nil
}

func (r *PGRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("masterdata: deactivate product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Type, &p.Unit,
		&p.StandardCost, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("masterdata: scan product: %w", err)
	}
	return p, nil
}
