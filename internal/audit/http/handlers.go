package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-mes/meridian-mes/internal/audit"
	"github.com/meridian-mes/meridian-mes/internal/platform/httpx"
)

const (
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Exporter writes audit timeline exports.
type Exporter interface {
	WriteCSV(rows []audit.TimelineRow) ([]byte, error)
}

// Handler serves audit timeline requests.
type Handler struct {
	logger   *slog.Logger
	service  TimelineService
	exporter Exporter
	now      func() time.Time
}

// NewHandler creates a new audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, exporter Exporter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		exporter: exporter,
		now:      time.Now,
	}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filters", err.Error())
		return
	}

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filters", err.Error())
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("export audit timeline", slog.Any("error", err))
		httpx.Internal(w)
		return
	}
	data, err := h.exporter.WriteCSV(rows)
	if err != nil {
		h.logger.Error("render audit csv", slog.Any("error", err))
		httpx.Internal(w)
		return
	}
	filename := fmt.Sprintf("bom-audit-%s.csv", h.now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()

	filters := audit.TimelineFilters{
		Actor:  strings.TrimSpace(q.Get("actor")),
		Action: strings.TrimSpace(q.Get("action")),
		BOMID:  strings.TrimSpace(q.Get("bom_id")),
	}

	from, err := parseDate(q.Get("from"))
	if err != nil {
		return audit.TimelineFilters{}, fmt.Errorf("invalid from date: %w", err)
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		return audit.TimelineFilters{}, fmt.Errorf("invalid to date: %w", err)
	}
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-defaultDateRange)
	}
	if to.Before(from) {
		return audit.TimelineFilters{}, fmt.Errorf("to date precedes from date")
	}
	if to.Sub(from) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, fmt.Errorf("date range exceeds %d days", maxDateRangeHours/24)
	}
	filters.From = from
	filters.To = to

	if page := q.Get("page"); page != "" {
		parsed, err := strconv.Atoi(page)
		if err != nil || parsed < 1 {
			return audit.TimelineFilters{}, fmt.Errorf("invalid page")
		}
		filters.Page = parsed
	}
	if size := q.Get("page_size"); size != "" {
		parsed, err := strconv.Atoi(size)
		if err != nil || parsed < 1 {
			return audit.TimelineFilters{}, fmt.Errorf("invalid page_size")
		}
		filters.PageSize = parsed
	}
	return filters, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
