package audithttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/audit"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
	err         error
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, s.err
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, s.err
}

func newAuditHandler(service *stubTimelineService) *Handler {
	handler := NewHandler(nil, service, rbac.Middleware{})
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 17, 30, 0, 0, time.UTC) }
	return handler
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	rows := []audit.TimelineRow{{ID: 1, At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 3, Action: "role.create", Entity: "role", EntityID: "1"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	handler := newAuditHandler(service)

	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Entries []audit.TimelineRow `json:"entries"`
		Paging  audit.PagingInfo    `json:"paging"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Action != "role.create" {
		t.Fatalf("unexpected entries %+v", body.Entries)
	}

	f := service.lastFilters
	if !f.From.Equal(time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected from 2024-03-08, got %s", f.From)
	}
	if !f.To.Equal(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected exclusive to 2024-03-16, got %s", f.To)
	}
	if f.Page != 1 || f.PageSize != defaultPageSize {
		t.Fatalf("unexpected paging filters %+v", f)
	}
}

func TestTimelineParsesFilters(t *testing.T) {
	service := &stubTimelineService{}
	handler := newAuditHandler(service)
	req := httptest.NewRequest(http.MethodGet, "/audit?from=2024-03-01&to=2024-03-02&actor_id=7&entity=user&action=user.delete&page=2&page_size=500", nil)
	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	f := service.lastFilters
	if f.ActorID != 7 || f.Entity != "user" || f.Action != "user.delete" {
		t.Fatalf("unexpected filters %+v", f)
	}
	if f.Page != 2 || f.PageSize != maxPageSize {
		t.Fatalf("expected page 2 size %d, got %+v", maxPageSize, f)
	}
	if !f.To.Equal(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected to to include the whole day, got %s", f.To)
	}
}

func TestTimelineRejectsInvalidFilters(t *testing.T) {
	cases := map[string]string{
		"/audit?to=15-03-2024":                        "to",
		"/audit?from=yesterday":                       "from",
		"/audit?from=2024-03-10&to=2024-03-01":        "from",
		"/audit?from=2023-01-01&to=2024-03-01":        "from",
		"/audit?actor_id=abc":                         "actor_id",
		"/audit?page=0":                               "page",
		"/audit?page_size=-1":                         "page_size",
		"/audit?page=461168601842738792":              "page",
		"/audit?page=9223372036854775807&page_size=2": "page",
	}
	for target, field := range cases {
		t.Run(target, func(t *testing.T) {
			handler := newAuditHandler(&stubTimelineService{})
			rr := httptest.NewRecorder()
			handler.handleTimeline(rr, httptest.NewRequest(http.MethodGet, target, nil))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), `"`+field+`"`) {
				t.Fatalf("expected field %q in problem, got %s", field, rr.Body.String())
			}
		})
	}
}

func TestTimelineServiceError(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{err: errors.New("db down")})
	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestExportWritesCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{
		{ID: 4, At: time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC), ActorID: 1, Action: "user.toggle", Entity: "user", EntityID: "2"},
	}}
	handler := newAuditHandler(service)
	rr := httptest.NewRecorder()
	handler.handleExport(rr, httptest.NewRequest(http.MethodGet, "/audit/export.csv?entity=user", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "audit-timeline.csv") {
		t.Fatalf("missing attachment filename")
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\r\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "4,2024-03-14T08:00:00Z,1,user.toggle,user,2,") {
		t.Fatalf("unexpected csv body %q", rr.Body.String())
	}
	if service.lastFilters.Entity != "user" {
		t.Fatalf("expected entity filter to reach export")
	}
}

func TestRateLimitKeyFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	key, err := rateLimitKey(req)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if key != "ip:10.1.2.3" {
		t.Fatalf("unexpected key %q", key)
	}
}
