package audit

import (
	"encoding/json"
	"time"
)

// Log is one append-only audit record: which table row changed, by whom,
// with the before and after snapshots.
type Log struct {
	ID       int64           `json:"id"`
	ActorID  int64           `json:"actor_id"`
	Action   string          `json:"action"`
	Entity   string          `json:"entity"`
	EntityID string          `json:"entity_id"`
	Old      json.RawMessage `json:"old,omitempty"`
	New      json.RawMessage `json:"new,omitempty"`
	Meta     map[string]any  `json:"meta,omitempty"`
	At       time.Time       `json:"at"`
}

// TimelineFilters narrows the audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []Log      `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

func (f TimelineFilters) matches(l Log) bool {
	if !f.From.IsZero() && l.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && l.At.After(f.To) {
		return false
	}
	if f.ActorID != 0 && l.ActorID != f.ActorID {
		return false
	}
	if f.Entity != "" && l.Entity != f.Entity {
		return false
	}
	if f.EntityID != "" && l.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && l.Action != f.Action {
		return false
	}
	return true
}
