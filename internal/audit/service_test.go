package audit

import (
	"context"
	"testing"
	"time"
)

type stubRepo struct {
	rows     []TimelineRow
	lastCall Query
}

func (s *stubRepo) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	s.lastCall = q
	if q.Limit > 0 && len(s.rows) > q.Limit {
		return s.rows[:q.Limit], nil
	}
	return s.rows, nil
}

func mockRow(ts, actor, action, bomID string) TimelineRow {
	tval, _ := time.Parse(time.RFC3339, ts)
	return TimelineRow{At: tval, Actor: actor, Action: action, BOMID: bomID}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubRepo{
		rows: []TimelineRow{
			mockRow("2025-06-10T10:00:00Z", "u1", "UPDATE_ITEM", "b1"),
			mockRow("2025-06-09T09:00:00Z", "u1", "ADD_ITEM", "b1"),
			mockRow("2025-06-08T08:00:00Z", "u2", "DELETE_ITEM", "b2"),
		},
	}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext {
		t.Fatalf("expected hasNext true")
	}
	if result.Paging.NextPage != 2 {
		t.Fatalf("expected nextPage 2, got %d", result.Paging.NextPage)
	}
	// One extra row is fetched to detect the next page.
	if repo.lastCall.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastCall.Limit)
	}
	if repo.lastCall.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastCall.Offset)
	}
}

func TestServiceTimelineSecondPageOffset(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{mockRow("2025-06-08T08:00:00Z", "u2", "COPY", "b2")}}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 10})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastCall.Offset != 20 {
		t.Fatalf("expected offset 20, got %d", repo.lastCall.Offset)
	}
	if result.Paging.PrevPage != 2 {
		t.Fatalf("expected prevPage 2, got %d", result.Paging.PrevPage)
	}
	if result.Paging.HasNext {
		t.Fatalf("expected hasNext false")
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)
	if _, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastCall.Limit != 51 {
		t.Fatalf("expected clamped limit 51, got %d", repo.lastCall.Limit)
	}
	if _, err := svc.Timeline(context.Background(), TimelineFilters{}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastCall.Limit != 21 {
		t.Fatalf("expected default limit 21, got %d", repo.lastCall.Limit)
	}
}

func TestServiceExportIsUnbounded(t *testing.T) {
	repo := &stubRepo{rows: []TimelineRow{
		mockRow("2025-06-10T10:00:00Z", "u1", "UPDATE_ITEM", "b1"),
		mockRow("2025-06-09T09:00:00Z", "u1", "ADD_ITEM", "b1"),
	}}
	svc := NewService(repo)
	rows, err := svc.Export(context.Background(), TimelineFilters{Actor: "u1"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if repo.lastCall.Limit != 0 {
		t.Fatalf("expected unbounded query, got limit %d", repo.lastCall.Limit)
	}
	if repo.lastCall.Filters.Actor != "u1" {
		t.Fatalf("actor filter lost: %+v", repo.lastCall.Filters)
	}
}

func TestCSVExporterWritesHeaderAndRows(t *testing.T) {
	rows := []TimelineRow{
		{
			At:      time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC),
			Actor:   "u1",
			Action:  "DELETE_ITEM",
			BOMID:   "b1",
			ItemID:  "i1",
			Reason:  "obsolete",
			Changes: []byte(`[{"field":"is_active","old":true,"new":false}]`),
		},
	}
	data, err := NewCSVExporter().WriteCSV(rows)
	if err != nil {
		t.Fatalf("write csv: %v", err)
	}
	got := string(data)
	want := "occurred_at,actor,action,bom_id,item_id,reason,changes\n" +
		"2025-06-10T10:00:00Z,u1,DELETE_ITEM,b1,i1,obsolete,\"[{\"\"field\"\":\"\"is_active\"\",\"\"old\"\":true,\"\"new\"\":false}]\"\n"
	if got != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", got, want)
	}
}
