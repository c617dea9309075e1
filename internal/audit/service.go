package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	maxExportRows   = 10000
	// MaxPage bounds the OFFSET a timeline query can reach.
	MaxPage = 10000
)

// ErrInvalidRange is returned when From is after To.
var ErrInvalidRange = errors.New("audit: from must not be after to")

// Repository reads audit_logs.
type Repository interface {
	Timeline(ctx context.Context, q Query) ([]TimelineRow, error)
}

// Service coordinates timeline reads.
type Service struct {
	repo Repository
}

// NewService builds a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of matching rows, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if err := checkRange(filters); err != nil {
		return Result{}, err
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
	if page > MaxPage {
		page = MaxPage
	}
	q := buildQuery(filters)
	q.Limit = pageSize + 1
	q.Offset = (page - 1) * pageSize
	rows, err := s.repo.Timeline(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("audit: timeline: %w", err)
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
		rows = []TimelineRow{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching row up to a fixed cap, newest first.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if err := checkRange(filters); err != nil {
		return nil, err
	}
	q := buildQuery(filters)
	q.Limit = maxExportRows
	rows, err := s.repo.Timeline(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("audit: export: %w", err)
	}
	return rows, nil
}

func checkRange(f TimelineFilters) error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return ErrInvalidRange
	}
	return nil
}

func buildQuery(f TimelineFilters) Query {
	return Query{
		From:     optionalTime(f.From),
		To:       optionalTime(f.To),
		Actor:    strings.TrimSpace(f.Actor),
		Action:   strings.TrimSpace(f.Action),
		Entity:   strings.TrimSpace(f.Entity),
		EntityID: strings.TrimSpace(f.EntityID),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
