// Package audit serves the read side of the BOM change history.
package audit

import (
	"encoding/json"
	"time"
)

// TimelineFilters holds the filters accepted by the audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Action   string
	BOMID    string
	Page     int
	PageSize int
}

// TimelineRow represents one audit timeline entry.
type TimelineRow struct {
	At      time.Time       `json:"at"`
	Actor   string          `json:"actor"`
	Action  string          `json:"action"`
	BOMID   string          `json:"bom_id"`
	ItemID  string          `json:"item_id,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Changes json.RawMessage `json:"changes,omitempty"`
}

// PagingInfo carries simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}
