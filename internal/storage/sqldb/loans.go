package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"biblio/internal/models"
	"biblio/internal/storage"
)

const loansTable = "loans"

var loanColumns = []any{
	"id", "book_id", "member_id", "loan_date", "due_date", "return_date", "status", "created_at", "updated_at",
}

// loanViews selects loans joined with their book and member. Left joins keep
// a loan visible even if a referenced row is gone.
func (s *SQLDB) loanViews() *goqu.SelectDataset {
	return s.loanJoin().Select(
		goqu.I("l.id"),
		goqu.I("l.book_id"),
		goqu.I("l.member_id"),
		goqu.I("l.loan_date"),
		goqu.I("l.due_date"),
		goqu.I("l.return_date"),
		goqu.I("l.status"),
		goqu.I("l.created_at"),
		goqu.I("l.updated_at"),
		goqu.I("b.title").As("book_title"),
		goqu.I("b.author").As("book_author"),
		goqu.I("m.first_name").As("member_first_name"),
		goqu.I("m.last_name").As("member_last_name"),
	)
}

func (s *SQLDB) loanJoin() *goqu.SelectDataset {
	return s.builder.From(goqu.T(loansTable).As("l")).
		LeftJoin(goqu.T(booksTable).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		LeftJoin(goqu.T(membersTable).As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("l.member_id"))))
}

func (s *SQLDB) loanWhere(filter models.LoanFilter) []exp.Expression {
	var where []exp.Expression
	if filter.Status != "" {
		where = append(where, goqu.I("l.status").Eq(string(filter.Status)))
	}
	if filter.Search != "" {
		where = append(where, s.containsAny(filter.Search,
			goqu.I("b.title"), goqu.I("b.author"), goqu.I("m.first_name"), goqu.I("m.last_name")))
	}
	return where
}

func newestFirst(ds *goqu.SelectDataset) *goqu.SelectDataset {
	return ds.Order(goqu.I("l.loan_date").Desc(), goqu.I("l.id").Desc())
}

// CreateLoan inserts a loan. A second active loan for the same book yields
// ErrActiveLoanExists.
func (s *SQLDB) CreateLoan(ctx context.Context, loan *models.Loan) error {
	now := s.stamp()
	var returnDate any
	if loan.ReturnDate != nil {
		returnDate = loan.ReturnDate.UTC()
	}

	id, err := s.insert(ctx, loansTable, goqu.Record{
		"book_id":     loan.BookID,
		"member_id":   loan.MemberID,
		"loan_date":   loan.LoanDate.UTC(),
		"due_date":    loan.DueDate.UTC(),
		"return_date": returnDate,
		"status":      string(loan.Status),
		"created_at":  now,
		"updated_at":  now,
	})
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	loan.ID = id
	loan.CreatedAt = now
	loan.UpdatedAt = now
	return nil
}

// GetLoan retrieves the durable loan record
func (s *SQLDB) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	var loan models.Loan
	ds := s.builder.From(loansTable).Select(loanColumns...).Where(goqu.C("id").Eq(id))
	if err := s.get(ctx, &loan, ds); err != nil {
		return nil, err
	}
	return &loan, nil
}

// GetLoanView retrieves a loan with its joined display fields
func (s *SQLDB) GetLoanView(ctx context.Context, id int64) (*models.LoanView, error) {
	var view models.LoanView
	if err := s.get(ctx, &view, s.loanViews().Where(goqu.I("l.id").Eq(id))); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListLoans returns joined loans matching filter, most recent first
func (s *SQLDB) ListLoans(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, error) {
	ds := newestFirst(s.loanViews().Where(s.loanWhere(filter)...))
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	views := []models.LoanView{}
	if err := s.selectAll(ctx, &views, ds); err != nil {
		return nil, err
	}
	return views, nil
}

// CountLoans counts loans matching filter, ignoring limit and offset
func (s *SQLDB) CountLoans(ctx context.Context, filter models.LoanFilter) (int, error) {
	return s.count(ctx, s.loanJoin().Where(s.loanWhere(filter)...))
}

// ListLoansByBook returns every loan of a book, optionally narrowed by status
func (s *SQLDB) ListLoansByBook(ctx context.Context, bookID int64, status models.LoanStatus) ([]models.LoanView, error) {
	return s.listLoansBy(ctx, "l.book_id", bookID, status)
}

// ListLoansByMember returns every loan of a member, optionally narrowed by status
func (s *SQLDB) ListLoansByMember(ctx context.Context, memberID int64, status models.LoanStatus) ([]models.LoanView, error) {
	return s.listLoansBy(ctx, "l.member_id", memberID, status)
}

func (s *SQLDB) listLoansBy(ctx context.Context, column string, id int64, status models.LoanStatus) ([]models.LoanView, error) {
	where := append(s.loanWhere(models.LoanFilter{Status: status}), goqu.I(column).Eq(id))

	views := []models.LoanView{}
	if err := s.selectAll(ctx, &views, newestFirst(s.loanViews().Where(where...))); err != nil {
		return nil, err
	}
	return views, nil
}

// CountActiveLoansForBook counts active loans referencing a book
func (s *SQLDB) CountActiveLoansForBook(ctx context.Context, bookID int64) (int, error) {
	return s.count(ctx, s.builder.From(loansTable).Where(
		goqu.C("book_id").Eq(bookID),
		goqu.C("status").Eq(string(models.LoanActive)),
	))
}

// MarkLoanReturned closes an active loan in a single conditional update
func (s *SQLDB) MarkLoanReturned(ctx context.Context, id int64, at time.Time) (bool, error) {
	query, args, err := s.builder.Update(loansTable).
		Set(goqu.Record{
			"status":      string(models.LoanReturned),
			"return_date": at.UTC(),
			"updated_at":  s.stamp(),
		}).
		Where(
			goqu.C("id").Eq(id),
			goqu.C("status").Eq(string(models.LoanActive)),
		).
		Prepared(true).ToSQL()

	n, err := s.exec(ctx, query, args, err)
	if err != nil {
		return false, fmt.Errorf("failed to mark loan returned: %w", err)
	}
	return n > 0, nil
}

// DeleteReturnedLoan deletes a loan only if it has been returned
func (s *SQLDB) DeleteReturnedLoan(ctx context.Context, id int64) (bool, error) {
	query, args, err := s.builder.Delete(loansTable).
		Where(
			goqu.C("id").Eq(id),
			goqu.C("status").Eq(string(models.LoanReturned)),
		).
		Prepared(true).ToSQL()

	n, err := s.exec(ctx, query, args, err)
	if err != nil {
		return false, fmt.Errorf("failed to delete loan: %w", err)
	}
	return n > 0, nil
}

// ListAvailabilityMismatches compares each book's flag with its active loans
func (s *SQLDB) ListAvailabilityMismatches(ctx context.Context) ([]models.AvailabilityMismatch, error) {
	ds := s.builder.From(goqu.T(booksTable).As("b")).
		LeftJoin(goqu.T(loansTable).As("l"), goqu.On(
			goqu.I("l.book_id").Eq(goqu.I("b.id")),
			goqu.I("l.status").Eq(string(models.LoanActive)),
		)).
		Select(
			goqu.I("b.id").As("book_id"),
			goqu.I("b.available").As("available"),
			goqu.COUNT(goqu.I("l.id")).As("active_loans"),
		).
		GroupBy(goqu.I("b.id"), goqu.I("b.available")).
		Order(goqu.I("b.id").Asc())

	var rows []models.AvailabilityMismatch
	if err := s.selectAll(ctx, &rows, ds); err != nil {
		return nil, err
	}

	mismatches := []models.AvailabilityMismatch{}
	for _, row := range rows {
		if row.Available == (row.ActiveLoans > 0) {
			mismatches = append(mismatches, row)
		}
	}
	return mismatches, nil
}

var _ storage.LoanStore = (*SQLDB)(nil)
