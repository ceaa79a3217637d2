package audit

import (
	"bytes"
	"encoding/csv"
	"time"
)

// CSVExporter renders timeline rows as CSV.
type CSVExporter struct{}

// NewCSVExporter creates a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// WriteCSV serialises the rows with a header line.
func (e *CSVExporter) WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"occurred_at", "actor", "action", "bom_id", "item_id", "reason", "changes"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.At.Format(time.RFC3339),
			row.Actor,
			row.Action,
			row.BOMID,
			row.ItemID,
			row.Reason,
			string(row.Changes),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
