package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/audit"
	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 50
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
	dateLayout       = "2006-01-02"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves the audit timeline and its CSV export.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export audit timeline", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-timeline.csv\"")
	if err := audit.WriteCSV(w, rows); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// parseFilters reads the query string. from and to are inclusive dates; the
// window defaults to the last seven days and may not exceed ninety.
func (h *Handler) parseFilters(w http.ResponseWriter, r *http.Request) (audit.TimelineFilters, bool) {
	filters, err := h.filtersFromQuery(r)
	if err != nil {
		var v validationError
		if errors.As(err, &v) {
			httpx.FieldProblem(w, map[string]string{v.field: v.message})
			return audit.TimelineFilters{}, false
		}
		h.handleServerError(w, "validate filters", err)
		return audit.TimelineFilters{}, false
	}
	return filters, true
}

func (h *Handler) filtersFromQuery(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format(dateLayout)
	}
	toDate, err := time.Parse(dateLayout, toStr)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "to", message: "must be a YYYY-MM-DD date"}
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toDate.Add(-defaultDateRange).Format(dateLayout)
	}
	fromDate, err := time.Parse(dateLayout, fromStr)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "from", message: "must be a YYYY-MM-DD date"}
	}
	if fromDate.After(toDate) {
		return audit.TimelineFilters{}, validationError{field: "from", message: "must not be after to"}
	}
	if toDate.Sub(fromDate) > maxDateRange {
		return audit.TimelineFilters{}, validationError{field: "from", message: "range must not exceed 90 days"}
	}

	var actorID int64
	if v := strings.TrimSpace(q.Get("actor_id")); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "actor_id", message: "must be a positive integer"}
		}
		actorID = parsed
	}
	page := 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "page", message: "must be a positive integer"}
		}
		page = parsed
	}
	pageSize := defaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, validationError{field: "page_size", message: "must be a positive integer"}
		}
		pageSize = min(parsed, maxPageSize)
	}
	if page > audit.MaxPage(pageSize) {
		return audit.TimelineFilters{}, validationError{field: "page", message: "is too large"}
	}

	return audit.TimelineFilters{
		From:     fromDate,
		To:       toDate.AddDate(0, 0, 1),
		ActorID:  actorID,
		Entity:   strings.TrimSpace(q.Get("entity")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

type validationError struct {
	field   string
	message string
}

func (validationError) Error() string {
	return "validation failed"
}
