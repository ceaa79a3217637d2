// Package jobs contains the Asynq task definitions and the background worker
// runtime for Meridian.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeBOMRecalc recomputes the denormalised aggregates of one BOM.
	TaskTypeBOMRecalc = "bom:recalc"
	// TaskTypeBOMSweep recalculates aggregates for every active BOM.
	TaskTypeBOMSweep = "bom:sweep"
)

// BOMRecalcPayload identifies the BOM whose aggregates need recomputing.
type BOMRecalcPayload struct {
	BOMID       string    `json:"bom_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewBOMRecalcTask constructs an Asynq task for a single-BOM recalculation.
func NewBOMRecalcTask(bomID string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BOMRecalcPayload{BOMID: bomID, RequestedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBOMRecalc, body, asynq.Queue(QueueDefault)), nil
}

// BOMSweepPayload carries scheduling metadata for the nightly sweep.
type BOMSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBOMSweepTask constructs the nightly sweep task.
func NewBOMSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BOMSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBOMSweep, body, asynq.Queue(QueueDefault)), nil
}
