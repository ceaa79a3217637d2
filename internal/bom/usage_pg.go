package bom

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGUsageChecker reports cross-BOM references for an item's component. An
// item counts as in use when other active BOMs carry the same component.
type PGUsageChecker struct {
	db *pgxpool.Pool
}

// NewPGUsageChecker constructs a usage checker backed by PostgreSQL.
func NewPGUsageChecker(db *pgxpool.Pool) *PGUsageChecker {
	return &PGUsageChecker{db: db}
}

func (c *PGUsageChecker) Usage(ctx context.Context, itemID string) (UsageReport, error) {
	const query = `
SELECT
    (SELECT COUNT(*)
       FROM bom_items o
       JOIN bom_headers h ON h.id = o.bom_id
      WHERE o.component_id = i.component_id
        AND o.bom_id <> i.bom_id
        AND o.is_active = TRUE
        AND h.is_active = TRUE) AS ref_count,
    (SELECT COUNT(*)
       FROM bom_items ch
      WHERE ch.parent_item_id = i.id
        AND ch.is_active = TRUE) AS child_count
FROM bom_items i
WHERE i.id = $1`

	var report UsageReport
	err := c.db.QueryRow(ctx, query, itemID).Scan(&report.RefCount, &report.ChildCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return UsageReport{}, ErrItemNotFound
	}
	if err != nil {
		return UsageReport{}, fmt.Errorf("bom: usage check: %w", err)
	}
	report.InUse = report.RefCount > 0
	report.HasChildren = report.ChildCount > 0
	return report, nil
}
