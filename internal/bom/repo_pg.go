package bom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PGBOMStore persists BOM headers in PostgreSQL.
type PGBOMStore struct {
	pool *pgxpool.Pool
}

// NewPGBOMStore constructs PGBOMStore.
func NewPGBOMStore(pool *pgxpool.Pool) *PGBOMStore {
	return &PGBOMStore{pool: pool}
}

const bomColumns = `id, product_id, version, is_active, effective_date, expiry_date, description,
	item_count, total_cost, max_level, created_by, updated_by, created_at, updated_at`

func (r *PGBOMStore) FindByID(ctx context.Context, id string) (BOM, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bomColumns+` FROM bom_headers WHERE id = $1`, id)
	return scanBOM(row)
}

func (r *PGBOMStore) FindByProductIDAndVersion(ctx context.Context, productID, version string) (BOM, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+bomColumns+` FROM bom_headers WHERE product_id = $1 AND version = $2`,
		productID, version)
	return scanBOM(row)
}

func (r *PGBOMStore) FindActiveByProductID(ctx context.Context, productID string) (BOM, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bomColumns+` FROM bom_headers
		WHERE product_id = $1
		  AND is_active
		  AND effective_date <= NOW()
		  AND (expiry_date IS NULL OR expiry_date >= NOW())
		ORDER BY effective_date DESC
		LIMIT 1`, productID)
	return scanBOM(row)
}

func (r *PGBOMStore) FindByProductID(ctx context.Context, productID string) ([]BOM, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bomColumns+` FROM bom_headers WHERE product_id = $1 ORDER BY created_at DESC`,
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boms []BOM
	for rows.Next() {
		b, err := scanBOM(rows)
		if err != nil {
			return nil, err
		}
		boms = append(boms, b)
	}
	return boms, rows.Err()
}

func (r *PGBOMStore) Save(ctx context.Context, b BOM) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bom_headers (`+bomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			is_active = EXCLUDED.is_active,
			effective_date = EXCLUDED.effective_date,
			expiry_date = EXCLUDED.expiry_date,
			description = EXCLUDED.description,
			item_count = EXCLUDED.item_count,
			total_cost = EXCLUDED.total_cost,
			max_level = EXCLUDED.max_level,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`,
		b.ID, b.ProductID, b.Version, b.IsActive, b.EffectiveDate, b.ExpiryDate, b.Description,
		b.ItemCount, b.TotalCost, b.MaxLevel, b.CreatedBy, b.UpdatedBy, b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateVersion
	}
	return err
}

// Delete deactivates the header. Rows are never removed.
func (r *PGBOMStore) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bom_headers SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBOMNotFound
	}
	return nil
}

// PGItemStore persists BOM items in PostgreSQL.
type PGItemStore struct {
	pool *pgxpool.Pool
}

// NewPGItemStore constructs PGItemStore.
func NewPGItemStore(pool *pgxpool.Pool) *PGItemStore {
	return &PGItemStore{pool: pool}
}

const itemColumns = `id, bom_id, component_id, COALESCE(parent_item_id, ''), level, sequence,
	quantity, unit, unit_cost, scrap_rate, is_optional, component_type,
	effective_date, expiry_date, position, process_step, remarks, is_active,
	created_by, updated_by, created_at, updated_at`

func (r *PGItemStore) FindByID(ctx context.Context, id string) (BOMItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM bom_items WHERE id = $1`, id)
	return scanItem(row)
}

func (r *PGItemStore) FindByBOMID(ctx context.Context, bomID string) ([]BOMItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM bom_items WHERE bom_id = $1 ORDER BY level, sequence`, bomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *PGItemStore) FindByParentID(ctx context.Context, parentID string) ([]BOMItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM bom_items WHERE parent_item_id = $1 AND is_active ORDER BY sequence`,
		parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *PGItemStore) FindAllDescendants(ctx context.Context, itemID string) ([]BOMItem, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE descendants AS (
			SELECT * FROM bom_items WHERE parent_item_id = $1 AND is_active
			UNION ALL
			SELECT i.* FROM bom_items i
			JOIN descendants d ON i.parent_item_id = d.id
			WHERE i.is_active
		)
		SELECT `+itemColumns+` FROM descendants ORDER BY level, sequence`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *PGItemStore) HasChildren(ctx context.Context, itemID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bom_items WHERE parent_item_id = $1 AND is_active)`,
		itemID).Scan(&exists)
	return exists, err
}

func (r *PGItemStore) NextSequence(ctx context.Context, bomID, parentID string, level int) (int, error) {
	var next int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM bom_items
		WHERE bom_id = $1 AND COALESCE(parent_item_id, '') = $2 AND level = $3`,
		bomID, parentID, level).Scan(&next)
	return next, err
}

func (r *PGItemStore) IsDuplicate(ctx context.Context, bomID, componentID, parentID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bom_items
			WHERE bom_id = $1 AND component_id = $2 AND COALESCE(parent_item_id, '') = $3 AND is_active
		)`, bomID, componentID, parentID).Scan(&exists)
	return exists, err
}

func (r *PGItemStore) Save(ctx context.Context, item BOMItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bom_items (
			id, bom_id, component_id, parent_item_id, level, sequence,
			quantity, unit, unit_cost, scrap_rate, is_optional, component_type,
			effective_date, expiry_date, position, process_step, remarks, is_active,
			created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			unit = EXCLUDED.unit,
			unit_cost = EXCLUDED.unit_cost,
			scrap_rate = EXCLUDED.scrap_rate,
			is_optional = EXCLUDED.is_optional,
			effective_date = EXCLUDED.effective_date,
			expiry_date = EXCLUDED.expiry_date,
			position = EXCLUDED.position,
			process_step = EXCLUDED.process_step,
			remarks = EXCLUDED.remarks,
			is_active = EXCLUDED.is_active,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`,
		item.ID, item.BOMID, item.ComponentID, item.ParentItemID, item.Level, item.Sequence,
		item.Quantity, item.Unit, item.UnitCost, item.ScrapRate, item.IsOptional, string(item.ComponentType),
		item.EffectiveDate, item.ExpiryDate, item.Position, item.ProcessStep, item.Remarks, item.IsActive,
		item.CreatedBy, item.UpdatedBy, item.CreatedAt, item.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateComponent
	}
	return err
}

// Delete deactivates the item. Rows are never removed.
func (r *PGItemStore) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bom_items SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// PGHistoryStore appends history records in PostgreSQL.
type PGHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPGHistoryStore constructs PGHistoryStore.
func NewPGHistoryStore(pool *pgxpool.Pool) *PGHistoryStore {
	return &PGHistoryStore{pool: pool}
}

func (r *PGHistoryStore) Save(ctx context.Context, rec HistoryRecord) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO bom_history (id, bom_id, action, entity_id, changes, actor_id, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.BOMID, string(rec.Action), rec.EntityID, changes, rec.ActorID, rec.Reason, rec.OccurredAt)
	return err
}

func scanBOM(row pgx.Row) (BOM, error) {
	var b BOM
	err := row.Scan(&b.ID, &b.ProductID, &b.Version, &b.IsActive, &b.EffectiveDate, &b.ExpiryDate,
		&b.Description, &b.ItemCount, &b.TotalCost, &b.MaxLevel, &b.CreatedBy, &b.UpdatedBy,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BOM{}, ErrBOMNotFound
		}
		return BOM{}, err
	}
	return b, nil
}

func scanItem(row pgx.Row) (BOMItem, error) {
	var item BOMItem
	var componentType string
	err := row.Scan(&item.ID, &item.BOMID, &item.ComponentID, &item.ParentItemID, &item.Level,
		&item.Sequence, &item.Quantity, &item.Unit, &item.UnitCost, &item.ScrapRate,
		&item.IsOptional, &componentType, &item.EffectiveDate, &item.ExpiryDate,
		&item.Position, &item.ProcessStep, &item.Remarks, &item.IsActive,
		&item.CreatedBy, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BOMItem{}, ErrItemNotFound
		}
		return BOMItem{}, err
	}
	item.ComponentType = ComponentType(componentType)
	return item, nil
}

func collectItems(rows pgx.Rows) ([]BOMItem, error) {
	var items []BOMItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
