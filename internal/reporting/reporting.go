// Package reporting derives overdue sets and loan statistics, and serves the
// analytics queries of the activity journal.
package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"biblio/internal/apperr"
	"biblio/internal/journal"
	"biblio/internal/models"
	"biblio/internal/storage"
)

// Service computes read-side aggregates
type Service struct {
	loans   storage.LoanStore
	journal journal.Reader
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures Service
type Option func(*Service)

// WithClock overrides the clock used to decide overdue state
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithJournal enables the journal backed reports
func WithJournal(r journal.Reader) Option {
	return func(s *Service) {
		s.journal = r
	}
}

// NewService creates a reporting service
func NewService(loans storage.LoanStore, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		loans:  loans,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// overdueLoans scans every active loan and keeps the overdue ones, most
// overdue first
func (s *Service) overdueLoans(ctx context.Context) ([]models.LoanView, error) {
	active, err := s.loans.ListLoans(ctx, models.LoanFilter{Status: models.LoanActive})
	if err != nil {
		return nil, apperr.Storage("failed to list active loans", err)
	}

	now := s.now().UTC()
	overdue := make([]models.LoanView, 0)
	for _, v := range active {
		if v.IsOverdue(now) {
			v.Derive(now)
			overdue = append(overdue, v)
		}
	}
	sort.SliceStable(overdue, func(i, j int) bool {
		if !overdue[i].DueDate.Equal(overdue[j].DueDate) {
			return overdue[i].DueDate.Before(overdue[j].DueDate)
		}
		return overdue[i].ID < overdue[j].ID
	})
	return overdue, nil
}

// Overdue returns a page of the overdue set and the size of the whole set.
// Pagination is applied after filtering. A zero limit returns everything from
// offset on.
func (s *Service) Overdue(ctx context.Context, limit, offset int) ([]models.LoanView, int, error) {
	overdue, err := s.overdueLoans(ctx)
	if err != nil {
		return nil, 0, err
	}

	total := len(overdue)
	if offset >= total {
		return []models.LoanView{}, total, nil
	}
	page := overdue[offset:]
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}
	return page, total, nil
}

// Stats counts loans by state
func (s *Service) Stats(ctx context.Context) (*models.LoanStats, error) {
	var stats models.LoanStats

	counts := []struct {
		dst    *int
		status models.LoanStatus
	}{
		{&stats.Total, ""},
		{&stats.Active, models.LoanActive},
		{&stats.Returned, models.LoanReturned},
	}
	for _, c := range counts {
		n, err := s.loans.CountLoans(ctx, models.LoanFilter{Status: c.status})
		if err != nil {
			return nil, apperr.Storage("failed to count loans", err)
		}
		*c.dst = n
	}

	overdue, err := s.overdueLoans(ctx)
	if err != nil {
		return nil, err
	}
	stats.Overdue = len(overdue)
	stats.OverduePercentage = OverduePercentage(stats.Overdue, stats.Active)
	return &stats, nil
}

// OverduePercentage is round(overdue / active * 100), or 0 without active
// loans
func OverduePercentage(overdue, active int) int {
	if active == 0 {
		return 0
	}
	return int(math.Round(float64(overdue) / float64(active) * 100))
}

// TopBooks ranks books by how often they were lent within [since, until]
func (s *Service) TopBooks(ctx context.Context, limit int, since, until time.Time) ([]models.BookStat, error) {
	if s.journal == nil {
		return nil, apperr.Storage("activity journal is not configured", storage.ErrUnavailable)
	}
	if until.Before(since) {
		return nil, apperr.Validation("until: must not be before since")
	}

	stats, err := s.journal.TopBooks(ctx, limit, since, until)
	if err != nil {
		return nil, apperr.Storage("failed to rank books", fmt.Errorf("%w: %v", storage.ErrUnavailable, err))
	}
	if stats == nil {
		stats = []models.BookStat{}
	}
	return stats, nil
}

// RecentActivity returns a page of the latest loan events
func (s *Service) RecentActivity(ctx context.Context, limit, offset int) ([]models.LoanEvent, error) {
	if s.journal == nil {
		return nil, apperr.Storage("activity journal is not configured", storage.ErrUnavailable)
	}

	events, err := s.journal.RecentEvents(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Storage("failed to load activity", fmt.Errorf("%w: %v", storage.ErrUnavailable, err))
	}
	if events == nil {
		events = []models.LoanEvent{}
	}
	return events, nil
}
