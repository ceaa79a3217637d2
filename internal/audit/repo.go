package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads the append-only bom_history table.
type PGRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new audit repository.
func NewRepository(db *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: db}
}

func (r *PGRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !q.Filters.From.IsZero() {
		where = append(where, "occurred_at >= "+arg(q.Filters.From))
	}
	if !q.Filters.To.IsZero() {
		where = append(where, "occurred_at <= "+arg(q.Filters.To))
	}
	if actor := strings.TrimSpace(q.Filters.Actor); actor != "" {
		where = append(where, "actor_id = "+arg(actor))
	}
	if action := strings.TrimSpace(q.Filters.Action); action != "" {
		where = append(where, "action = "+arg(action))
	}
	if bomID := strings.TrimSpace(q.Filters.BOMID); bomID != "" {
		where = append(where, "bom_id = "+arg(bomID))
	}

	query := `
SELECT occurred_at, actor_id, action, bom_id, entity_id, reason, COALESCE(changes, 'null'::jsonb)
FROM bom_history
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY occurred_at DESC`
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit) + " OFFSET " + arg(q.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline query: %w", err)
	}
	defer rows.Close()

	var result []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.Actor, &row.Action, &row.BOMID, &row.ItemID, &row.Reason, &row.Changes); err != nil {
			return nil, fmt.Errorf("audit: scan timeline row: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
