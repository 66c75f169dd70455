package audit

import (
	"context"
	"errors"
	"math"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// ErrPageOutOfRange reports a page whose row offset does not fit in an int.
var ErrPageOutOfRange = errors.New("audit: page out of range")

// MaxPage returns the largest page number whose offset is representable for
// pageSize.
func MaxPage(pageSize int) int {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return (math.MaxInt-1)/pageSize + 1
}

// Repository reads recorded audit entries, newest first.
type Repository interface {
	TimelineWindow(ctx context.Context, params WindowParams) ([]TimelineRow, error)
}

// Service pages through the audit timeline.
type Service struct {
	repo Repository
}

// NewService builds a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries matching filters.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	if page > MaxPage(pageSize) {
		return Result{}, ErrPageOutOfRange
	}
	params := windowParams(filters)
	params.Offset = (page - 1) * pageSize
	params.Limit = pageSize + 1
	rows, err := s.repo.TimelineWindow(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every entry matching filters without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.TimelineWindow(ctx, windowParams(filters))
}

func windowParams(filters TimelineFilters) WindowParams {
	return WindowParams{
		From:    filters.From,
		To:      filters.To,
		ActorID: filters.ActorID,
		Entity:  strings.TrimSpace(filters.Entity),
		Action:  strings.TrimSpace(filters.Action),
	}
}
