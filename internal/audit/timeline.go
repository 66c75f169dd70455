package audit

import "time"

// TimelineFilters narrows an audit timeline query. To is exclusive.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one recorded mutation.
type TimelineRow struct {
	ID       int64          `json:"id"`
	At       time.Time      `json:"at"`
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo carries simple next/previous paging metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps one timeline page.
type Result struct {
	Rows   []TimelineRow `json:"entries"`
	Paging PagingInfo    `json:"paging"`
}

// WindowParams is the repository-level query. A Limit of zero means no limit.
type WindowParams struct {
	From    time.Time
	To      time.Time
	ActorID int64
	Entity  string
	Action  string
	Offset  int
	Limit   int
}

func (p WindowParams) matches(row TimelineRow) bool {
	if !p.From.IsZero() && row.At.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !row.At.Before(p.To) {
		return false
	}
	if p.ActorID != 0 && row.ActorID != p.ActorID {
		return false
	}
	if p.Entity != "" && row.Entity != p.Entity {
		return false
	}
	if p.Action != "" && row.Action != p.Action {
		return false
	}
	return true
}
