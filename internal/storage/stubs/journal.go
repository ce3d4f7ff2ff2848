package stubs

import (
	"context"
	"sort"
	"sync"
	"time"

	"biblio/internal/models"
)

// MockJournal keeps loan events in memory
type MockJournal struct {
	mu     sync.RWMutex
	events []models.LoanEvent
}

// NewMockJournal creates an empty journal
func NewMockJournal() *MockJournal {
	return &MockJournal{events: make([]models.LoanEvent, 0)}
}

// Record appends an event
func (j *MockJournal) Record(ctx context.Context, event models.LoanEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, event)
	return nil
}

// RecentEvents returns a page of events, newest first
func (j *MockJournal) RecentEvents(ctx context.Context, limit, offset int) ([]models.LoanEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	sorted := make([]models.LoanEvent, len(j.events))
	copy(sorted, j.events)
	sort.SliceStable(sorted, func(i, k int) bool {
		return sorted[i].OccurredAt.After(sorted[k].OccurredAt)
	})

	return paginate(sorted, limit, offset), nil
}

// TopBooks ranks books by issued events within [start, end]
func (j *MockJournal) TopBooks(ctx context.Context, limit int, start, end time.Time) ([]models.BookStat, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	counts := make(map[int64]*models.BookStat)
	for _, e := range j.events {
		if e.Kind != models.EventIssued || e.OccurredAt.Before(start) || e.OccurredAt.After(end) {
			continue
		}
		stat, ok := counts[e.BookID]
		if !ok {
			stat = &models.BookStat{BookID: e.BookID}
			counts[e.BookID] = stat
		}
		// latest title wins, like argMax in the ClickHouse query
		stat.BookTitle = e.BookTitle
		stat.LoanCount++
	}

	stats := make([]models.BookStat, 0, len(counts))
	for _, s := range counts {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, k int) bool {
		if stats[i].LoanCount != stats[k].LoanCount {
			return stats[i].LoanCount > stats[k].LoanCount
		}
		return stats[i].BookTitle < stats[k].BookTitle
	})

	if limit > 0 && limit < len(stats) {
		stats = stats[:limit]
	}
	return stats, nil
}

// Events returns a copy of everything recorded
func (j *MockJournal) Events() []models.LoanEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]models.LoanEvent, len(j.events))
	copy(out, j.events)
	return out
}
