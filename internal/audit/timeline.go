// Package audit serves the trail of administrative mutations recorded in
// audit_logs.
package audit

import "time"

// TimelineFilters narrows a timeline query. Zero values match everything.
// To is exclusive.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Page     int
	PageSize int
}

// TimelineRow is one recorded mutation.
type TimelineRow struct {
	ID       int64          `json:"id"`
	At       time.Time      `json:"at"`
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo describes the page that was returned.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// Query is what a Repository executes. Limit 0 returns every match.
type Query struct {
	From     *time.Time
	To       *time.Time
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Limit    int
	Offset   int
}
