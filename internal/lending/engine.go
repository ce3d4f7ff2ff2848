// Package lending implements the loan lifecycle: issuing, returning and
// deleting loans, and keeping each book's availability flag in step with its
// active loan.
package lending

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"biblio/internal/apperr"
	"biblio/internal/journal"
	"biblio/internal/models"
	"biblio/internal/storage"
)

const (
	DefaultLoanPeriod = 30 * 24 * time.Hour

	journalTimeout = 5 * time.Second
)

// Engine runs loan operations against a storage backend
type Engine struct {
	store      storage.Storage
	journal    journal.Recorder
	logger     *zap.Logger
	now        func() time.Time
	loanPeriod time.Duration
}

// Option configures Engine
type Option func(*Engine)

// WithClock overrides the engine clock
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLoanPeriod sets the default time between loan date and due date
func WithLoanPeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.loanPeriod = d
		}
	}
}

// WithJournal sets where lifecycle events are recorded
func WithJournal(r journal.Recorder) Option {
	return func(e *Engine) {
		e.journal = r
	}
}

// NewEngine creates a loan engine
func NewEngine(store storage.Storage, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		journal:    journal.Nop{},
		logger:     logger,
		now:        time.Now,
		loanPeriod: DefaultLoanPeriod,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine clock reading, in UTC at storage precision
func (e *Engine) Now() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// IssueRequest asks for a new loan. A nil DueDate means now plus the loan
// period.
type IssueRequest struct {
	BookID   int64
	MemberID int64
	DueDate  *time.Time
}

// IssueLoan lends a book to a member. Book and member must exist and the book
// must have no active loan. The loan insert and the availability flip commit
// together.
func (e *Engine) IssueLoan(ctx context.Context, req IssueRequest) (*models.Loan, error) {
	var c apperr.Checker
	c.Check(req.BookID > 0, "book_id", "is required")
	c.Check(req.MemberID > 0, "member_id", "is required")
	if err := c.Err(); err != nil {
		return nil, err
	}

	now := e.Now()
	due := now.Add(e.loanPeriod)
	if req.DueDate != nil {
		due = req.DueDate.UTC().Truncate(time.Microsecond)
	}

	var (
		loan  models.Loan
		title string
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context) error {
		book, err := e.store.LockBook(ctx, req.BookID)
		if err != nil {
			return notFoundOr(err, apperr.ErrBookNotFound, "failed to load book")
		}
		title = book.Title

		if _, err := e.store.GetMember(ctx, req.MemberID); err != nil {
			return notFoundOr(err, apperr.ErrMemberNotFound, "failed to load member")
		}

		available, err := e.IsBookAvailable(ctx, req.BookID)
		if err != nil {
			return err
		}
		if !available {
			return apperr.ErrBookUnavailable
		}

		loan = models.Loan{
			BookID:   req.BookID,
			MemberID: req.MemberID,
			LoanDate: now,
			DueDate:  due,
			Status:   models.LoanActive,
		}
		if err := e.store.CreateLoan(ctx, &loan); err != nil {
			if errors.Is(err, storage.ErrActiveLoanExists) {
				return apperr.ErrBookUnavailable
			}
			return apperr.Storage("failed to create loan", err)
		}

		if err := e.store.SetBookAvailable(ctx, req.BookID, false); err != nil {
			return apperr.Storage("failed to update book availability", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Loan issued",
		zap.Int64("loan_id", loan.ID),
		zap.Int64("book_id", loan.BookID),
		zap.Int64("member_id", loan.MemberID),
		zap.Time("due_date", loan.DueDate),
	)
	e.record(ctx, models.EventIssued, loan, title)
	return &loan, nil
}

// ReturnLoan closes an active loan and makes its book available again
func (e *Engine) ReturnLoan(ctx context.Context, loanID int64) (*models.Loan, error) {
	now := e.Now()

	var (
		loan  *models.Loan
		title string
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context) error {
		returned, err := e.store.MarkLoanReturned(ctx, loanID, now)
		if err != nil {
			return apperr.Storage("failed to return loan", err)
		}

		loan, err = e.store.GetLoan(ctx, loanID)
		if err != nil {
			return notFoundOr(err, apperr.ErrLoanNotFound, "failed to load loan")
		}
		if !returned {
			return apperr.ErrLoanAlreadyReturned
		}

		book, err := e.store.GetBook(ctx, loan.BookID)
		if err != nil {
			return notFoundOr(err, apperr.ErrBookNotFound, "failed to load book")
		}
		title = book.Title

		if err := e.store.SetBookAvailable(ctx, loan.BookID, true); err != nil {
			return apperr.Storage("failed to update book availability", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Loan returned", zap.Int64("loan_id", loan.ID), zap.Int64("book_id", loan.BookID))
	e.record(ctx, models.EventReturned, *loan, title)
	return loan, nil
}

// DeleteLoan removes a returned loan. Active loans must be returned first;
// book availability is not touched.
func (e *Engine) DeleteLoan(ctx context.Context, loanID int64) error {
	var (
		loan  *models.Loan
		title string
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		loan, err = e.store.GetLoan(ctx, loanID)
		if err != nil {
			return notFoundOr(err, apperr.ErrLoanNotFound, "failed to load loan")
		}
		if loan.Status == models.LoanActive {
			return apperr.ErrLoanNotReturned
		}

		if book, err := e.store.GetBook(ctx, loan.BookID); err == nil {
			title = book.Title
		}

		deleted, err := e.store.DeleteReturnedLoan(ctx, loanID)
		if err != nil {
			return apperr.Storage("failed to delete loan", err)
		}
		if !deleted {
			return apperr.ErrLoanNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("Loan deleted", zap.Int64("loan_id", loanID))
	e.record(ctx, models.EventDeleted, *loan, title)
	return nil
}

// IsBookAvailable reports whether no active loan references the book
func (e *Engine) IsBookAvailable(ctx context.Context, bookID int64) (bool, error) {
	n, err := e.store.CountActiveLoansForBook(ctx, bookID)
	if err != nil {
		return false, apperr.Storage("failed to count active loans", err)
	}
	return n == 0, nil
}

// ReconcileAvailability rewrites every availability flag that disagrees with
// the book's active loans and returns the repaired book ids
func (e *Engine) ReconcileAvailability(ctx context.Context) ([]int64, error) {
	mismatches, err := e.store.ListAvailabilityMismatches(ctx)
	if err != nil {
		return nil, apperr.Storage("failed to list availability mismatches", err)
	}

	repaired := make([]int64, 0, len(mismatches))
	for _, m := range mismatches {
		var fixed bool
		err := e.store.RunInTx(ctx, func(ctx context.Context) error {
			book, err := e.store.LockBook(ctx, m.BookID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			available, err := e.IsBookAvailable(ctx, m.BookID)
			if err != nil {
				return err
			}
			if book.Available == available {
				return nil
			}
			fixed = true
			return e.store.SetBookAvailable(ctx, m.BookID, available)
		})
		if err != nil {
			return repaired, apperr.Storage("failed to repair book availability", err)
		}
		if fixed {
			e.logger.Warn("Repaired book availability",
				zap.Int64("book_id", m.BookID),
				zap.Int("active_loans", m.ActiveLoans),
			)
			repaired = append(repaired, m.BookID)
		}
	}
	return repaired, nil
}

// record writes an event to the journal after commit. Failures are logged
// and swallowed.
func (e *Engine) record(ctx context.Context, kind models.LoanEventKind, loan models.Loan, title string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	event := journal.NewEvent(kind, loan, title, e.Now())
	if err := e.journal.Record(ctx, event); err != nil {
		e.logger.Warn("Failed to record loan event",
			zap.String("kind", string(kind)),
			zap.Int64("loan_id", loan.ID),
			zap.Error(err),
		)
	}
}

func notFoundOr(err error, notFound *apperr.Error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return notFound
	}
	return apperr.Storage(op, err)
}
