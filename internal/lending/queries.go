package lending

import (
	"context"
	"strings"

	"biblio/internal/apperr"
	"biblio/internal/models"
)

// GetLoan returns a loan with joined and derived fields
func (e *Engine) GetLoan(ctx context.Context, loanID int64) (*models.LoanView, error) {
	view, err := e.store.GetLoanView(ctx, loanID)
	if err != nil {
		return nil, notFoundOr(err, apperr.ErrLoanNotFound, "failed to load loan")
	}
	view.Derive(e.Now())
	return view, nil
}

// FindLoans returns a page of loans, newest first, and the total matching
// count
func (e *Engine) FindLoans(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, int, error) {
	if err := checkStatus(filter.Status); err != nil {
		return nil, 0, err
	}
	filter.Search = strings.TrimSpace(filter.Search)

	views, err := e.store.ListLoans(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Storage("failed to list loans", err)
	}
	total, err := e.store.CountLoans(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Storage("failed to count loans", err)
	}
	e.derive(views)
	return views, total, nil
}

// FindByBook returns the book and all of its loans, optionally narrowed by
// status
func (e *Engine) FindByBook(ctx context.Context, bookID int64, status models.LoanStatus) (*models.Book, []models.LoanView, error) {
	if err := checkStatus(status); err != nil {
		return nil, nil, err
	}
	book, err := e.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, nil, notFoundOr(err, apperr.ErrBookNotFound, "failed to load book")
	}
	views, err := e.store.ListLoansByBook(ctx, bookID, status)
	if err != nil {
		return nil, nil, apperr.Storage("failed to list loans by book", err)
	}
	e.derive(views)
	return book, views, nil
}

// FindByMember returns the member and all of their loans, optionally
// narrowed by status
func (e *Engine) FindByMember(ctx context.Context, memberID int64, status models.LoanStatus) (*models.Member, []models.LoanView, error) {
	if err := checkStatus(status); err != nil {
		return nil, nil, err
	}
	member, err := e.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, nil, notFoundOr(err, apperr.ErrMemberNotFound, "failed to load member")
	}
	views, err := e.store.ListLoansByMember(ctx, memberID, status)
	if err != nil {
		return nil, nil, apperr.Storage("failed to list loans by member", err)
	}
	e.derive(views)
	return member, views, nil
}

func (e *Engine) derive(views []models.LoanView) {
	now := e.Now()
	for i := range views {
		views[i].Derive(now)
	}
}

func checkStatus(status models.LoanStatus) error {
	if status == "" || status.Valid() {
		return nil
	}
	return apperr.Validation("status: must be 'active' or 'returned'")
}
