package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

type stubTimelineRepo struct {
	rows       []TimelineRow
	lastParams WindowParams
	err        error
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	s.lastParams = params
	if s.err != nil {
		return nil, s.err
	}
	rows := s.rows
	if params.Limit > 0 && len(rows) > params.Limit {
		rows = rows[:params.Limit]
	}
	return rows, nil
}

func mockRow(id int64, action string) TimelineRow {
	return TimelineRow{ID: id, At: time.Date(2024, 3, 10, 10, 0, int(id), 0, time.UTC), ActorID: 1, Action: action, Entity: "role", EntityID: "7"}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{mockRow(3, "role.delete"), mockRow(2, "role.update"), mockRow(1, "role.create")}}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Entity: " role ", Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if repo.lastParams.Limit != 3 || repo.lastParams.Offset != 0 {
		t.Fatalf("expected limit 3 offset 0, got %+v", repo.lastParams)
	}
	if repo.lastParams.Entity != "role" {
		t.Fatalf("expected trimmed entity filter, got %q", repo.lastParams.Entity)
	}
}

func TestServiceTimelineDefaultsAndClamp(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if result.Paging.PageSize != maxPageSize {
		t.Fatalf("expected page size clamped to %d, got %d", maxPageSize, result.Paging.PageSize)
	}
	if result.Paging.PrevPage != 2 || result.Paging.HasNext {
		t.Fatalf("unexpected paging %+v", result.Paging)
	}
	if repo.lastParams.Offset != 2*maxPageSize {
		t.Fatalf("expected offset %d, got %d", 2*maxPageSize, repo.lastParams.Offset)
	}

	if _, err := svc.Timeline(context.Background(), TimelineFilters{}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastParams.Limit != defaultPageSize+1 {
		t.Fatalf("expected default limit %d, got %d", defaultPageSize+1, repo.lastParams.Limit)
	}
}

func TestServiceTimelineRejectsOverflowingPage(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	_, err := svc.Timeline(context.Background(), TimelineFilters{Page: MaxPage(10) + 1, PageSize: 10})
	if !errors.Is(err, ErrPageOutOfRange) {
		t.Fatalf("expected ErrPageOutOfRange, got %v", err)
	}
	if _, err := svc.Timeline(context.Background(), TimelineFilters{Page: MaxPage(10), PageSize: 10}); err != nil {
		t.Fatalf("largest page: %v", err)
	}
	if repo.lastParams.Offset < 0 {
		t.Fatalf("offset overflowed: %d", repo.lastParams.Offset)
	}
}

func TestServiceExportIsUnbounded(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{mockRow(2, "b"), mockRow(1, "a")}}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{Action: "b", PageSize: 1})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 2 || repo.lastParams.Limit != 0 {
		t.Fatalf("export must not page: rows=%d params=%+v", len(rows), repo.lastParams)
	}
}

func TestServiceWithoutRepository(t *testing.T) {
	if _, err := NewService(nil).Timeline(context.Background(), TimelineFilters{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	repo := &stubTimelineRepo{err: errors.New("boom")}
	if _, err := NewService(repo).Export(context.Background(), TimelineFilters{}); err == nil {
		t.Fatalf("expected repository error")
	}
}

func TestMemoryLogRecordsNewestFirst(t *testing.T) {
	log := NewMemoryLog(nil, 0)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, action := range []string{"user.create", "role.create", "user.delete"} {
		entity := strings.SplitN(action, ".", 2)[0]
		err := log.Record(ctx, shared.AuditLog{ActorID: int64(i + 1), Action: action, Entity: entity, EntityID: "1", At: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}

	rows, err := log.TimelineWindow(ctx, WindowParams{})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(rows) != 3 || rows[0].Action != "user.delete" || rows[2].Action != "user.create" {
		t.Fatalf("expected newest first, got %+v", rows)
	}

	rows, _ = log.TimelineWindow(ctx, WindowParams{Entity: "user"})
	if len(rows) != 2 {
		t.Fatalf("expected 2 user entries, got %d", len(rows))
	}
	rows, _ = log.TimelineWindow(ctx, WindowParams{ActorID: 2})
	if len(rows) != 1 || rows[0].Action != "role.create" {
		t.Fatalf("expected actor filter to match role.create, got %+v", rows)
	}
	rows, _ = log.TimelineWindow(ctx, WindowParams{From: base.Add(time.Minute), To: base.Add(2 * time.Minute)})
	if len(rows) != 1 || rows[0].Action != "role.create" {
		t.Fatalf("expected [from, to) window to match role.create, got %+v", rows)
	}
	rows, _ = log.TimelineWindow(ctx, WindowParams{Offset: 1, Limit: 1})
	if len(rows) != 1 || rows[0].Action != "role.create" {
		t.Fatalf("expected offset/limit to select role.create, got %+v", rows)
	}
}

func TestMemoryLogCapacityAndForwarding(t *testing.T) {
	next := NewMemoryLog(nil, 0)
	log := NewMemoryLog(next, 2)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		if err := log.Record(ctx, shared.AuditLog{Action: "user.update", Entity: "user", EntityID: id}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	rows, _ := log.TimelineWindow(ctx, WindowParams{})
	if len(rows) != 2 || rows[0].EntityID != "3" || rows[1].EntityID != "2" {
		t.Fatalf("expected the two newest entries, got %+v", rows)
	}
	if rows[0].ID != 3 {
		t.Fatalf("expected ids to keep increasing, got %d", rows[0].ID)
	}
	forwarded, _ := next.TimelineWindow(ctx, WindowParams{})
	if len(forwarded) != 3 {
		t.Fatalf("expected 3 forwarded entries, got %d", len(forwarded))
	}
}

func TestMemoryLogRejectsInvalidEntry(t *testing.T) {
	log := NewMemoryLog(shared.NewLogAuditRecorder(nil), 0)
	if err := log.Record(context.Background(), shared.AuditLog{Action: "user.update"}); err == nil {
		t.Fatalf("expected validation error")
	}
	rows, _ := log.TimelineWindow(context.Background(), WindowParams{})
	if len(rows) != 0 {
		t.Fatalf("invalid entry must not be stored")
	}
}

func TestWriteCSV(t *testing.T) {
	rows := []TimelineRow{
		{ID: 9, At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 4, Action: "role.create", Entity: "role", EntityID: "2", Meta: map[string]any{"name": "Clerks, Senior"}},
		{ID: 8, At: time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC), ActorID: 4, Action: "user.delete", Entity: "user", EntityID: "5"},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != "id,at,actor_id,action,entity,entity_id,meta" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][1] != "2024-03-10T10:00:00Z" || records[1][6] != `{"name":"Clerks, Senior"}` {
		t.Fatalf("unexpected first row %v", records[1])
	}
	if records[2][6] != "" {
		t.Fatalf("expected empty meta column, got %q", records[2][6])
	}
}
