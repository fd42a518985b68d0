package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists audit logs. Insert joins the caller's transaction.
type Repository interface {
	Insert(ctx context.Context, log Log) (int64, error)
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Log, error)
}

// Service records and queries the audit trail.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates the audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Record appends a log entry. Called inside the mutating transaction so the
// trail commits or rolls back with the change it describes.
func (s *Service) Record(ctx context.Context, log Log) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit: log requires action/entity/entity_id")
	}
	if log.At.IsZero() {
		log.At = s.now()
	}
	_, err := s.repo.Insert(ctx, log)
	return err
}

// Snapshot marshals v for the Old/New fields. Nil stays nil.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return raw
}

// EntityID formats a numeric primary key.
func EntityID(id int64) string {
	return fmt.Sprintf("%d", id)
}

// Timeline returns one page of audit logs, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, filters, offset, pageSize+1)
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
	if rows == nil {
		rows = []Log{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}
