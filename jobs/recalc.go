package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-mes/meridian-mes/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RecalcJob recomputes the cached item count, total cost and maximum depth of
// BOM headers from their active items. Mutations enqueue it best effort, so a
// header may lag until the next run.
type RecalcJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRecalcJob wires dependencies for the recalculation handler.
func NewRecalcJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecalcJob {
	return &RecalcJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

const recalcQuery = `
UPDATE bom_headers b SET
    item_count = agg.item_count,
    total_cost = agg.total_cost,
    max_level = agg.max_level,
    updated_at = NOW()
FROM (
    SELECT
        COUNT(*) AS item_count,
        COALESCE(SUM(quantity * (1 + scrap_rate / 100.0) * unit_cost), 0) AS total_cost,
        COALESCE(MAX(level), 0) AS max_level
    FROM bom_items
    WHERE bom_id = $1 AND is_active = TRUE
) agg
WHERE b.id = $1`

// Handle processes a single-BOM recalculation task.
func (j *RecalcJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("bom recalc: handler not configured")
	}
	var payload BOMRecalcPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BOMID == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskTypeBOMRecalc)
	err := j.recalcOne(ctx, payload.BOMID)
	if err != nil {
		j.logger().Error("bom recalc", slog.String("bom_id", payload.BOMID), slog.Any("error", err))
	}
	return tracker.End(err)
}

// HandleSweep recalculates every active BOM header.
func (j *RecalcJob) HandleSweep(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("bom sweep: handler not configured")
	}
	var payload BOMSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskTypeBOMSweep)
	start := j.clock()

	rows, err := j.Pool.Query(ctx, `SELECT id FROM bom_headers WHERE is_active = TRUE`)
	if err != nil {
		return tracker.End(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return tracker.End(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return tracker.End(err)
	}

	for _, id := range ids {
		if err := j.recalcOne(ctx, id); err != nil {
			j.logger().Error("bom sweep", slog.String("bom_id", id), slog.Any("error", err))
			return tracker.End(err)
		}
	}
	j.logger().Info("bom sweep complete", slog.Int("boms", len(ids)), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *RecalcJob) recalcOne(ctx context.Context, bomID string) error {
	var itemCount int
	if err := j.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bom_items WHERE bom_id = $1 AND is_active = TRUE`, bomID,
	).Scan(&itemCount); err != nil {
		return err
	}
	if _, err := j.Pool.Exec(ctx, recalcQuery, bomID); err != nil {
		return err
	}
	j.metrics().AddRecalcItems(itemCount)
	return nil
}

func (j *RecalcJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RecalcJob) logger() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
