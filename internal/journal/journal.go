// Package journal records loan lifecycle events. Recording is best effort:
// callers log failures and never undo a committed loan operation.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"biblio/internal/models"
)

// Recorder appends loan events to a sink
type Recorder interface {
	Record(ctx context.Context, event models.LoanEvent) error
}

// Reader answers analytics queries over recorded events
type Reader interface {
	TopBooks(ctx context.Context, limit int, startDate, endDate time.Time) ([]models.BookStat, error)
	RecentEvents(ctx context.Context, limit, offset int) ([]models.LoanEvent, error)
}

// NewEvent builds an event with a fresh id
func NewEvent(kind models.LoanEventKind, loan models.Loan, bookTitle string, at time.Time) models.LoanEvent {
	return models.LoanEvent{
		EventID:    uuid.NewString(),
		Kind:       kind,
		LoanID:     loan.ID,
		BookID:     loan.BookID,
		MemberID:   loan.MemberID,
		BookTitle:  bookTitle,
		OccurredAt: at.UTC(),
	}
}

// Nop discards every event
type Nop struct{}

// Record does nothing
func (Nop) Record(context.Context, models.LoanEvent) error { return nil }

type sink struct {
	name     string
	recorder Recorder
}

// Fanout delivers each event to every registered sink
type Fanout struct {
	sinks []sink
}

// NewFanout creates an empty fan-out
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a named sink
func (f *Fanout) Add(name string, r Recorder) {
	f.sinks = append(f.sinks, sink{name: name, recorder: r})
}

// Len returns the number of sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Record delivers event to all sinks, even after a failure, and joins the
// errors
func (f *Fanout) Record(ctx context.Context, event models.LoanEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.recorder.Record(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
