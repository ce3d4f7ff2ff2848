package storage

import (
	"context"
	"errors"
	"time"

	"biblio/internal/models"
)

// Errors returned by Storage implementations. Driver specific errors are
// translated into these so services never look at driver types.
var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicate        = errors.New("unique constraint violated")
	ErrReferenced       = errors.New("record is referenced by another record")
	ErrActiveLoanExists = errors.New("book already has an active loan")
	ErrUnavailable      = errors.New("storage unavailable")
)

// BookStore holds book records and their availability flag
type BookStore interface {
	CreateBook(ctx context.Context, book *models.Book) error
	GetBook(ctx context.Context, id int64) (*models.Book, error)

	// LockBook loads a book and, inside a transaction, holds a row lock on it
	// until the transaction ends.
	LockBook(ctx context.Context, id int64) (*models.Book, error)
	GetBookByISBN(ctx context.Context, isbn string) (*models.Book, error)
	ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, error)
	CountBooks(ctx context.Context, search string) (int, error)
	UpdateBook(ctx context.Context, book *models.Book) error
	SetBookAvailable(ctx context.Context, id int64, available bool) error
	DeleteBook(ctx context.Context, id int64) error
}

// MemberStore holds member records
type MemberStore interface {
	CreateMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, id int64) (*models.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*models.Member, error)
	ListMembers(ctx context.Context, filter models.MemberFilter) ([]models.Member, error)
	CountMembers(ctx context.Context, search string) (int, error)
	UpdateMember(ctx context.Context, member *models.Member) error
	DeleteMember(ctx context.Context, id int64) error
}

// LoanStore holds loan records
type LoanStore interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id int64) (*models.Loan, error)
	GetLoanView(ctx context.Context, id int64) (*models.LoanView, error)

	// ListLoans returns joined rows ordered by loan date, most recent first
	ListLoans(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, error)
	CountLoans(ctx context.Context, filter models.LoanFilter) (int, error)
	ListLoansByBook(ctx context.Context, bookID int64, status models.LoanStatus) ([]models.LoanView, error)
	ListLoansByMember(ctx context.Context, memberID int64, status models.LoanStatus) ([]models.LoanView, error)
	CountActiveLoansForBook(ctx context.Context, bookID int64) (int, error)

	// MarkLoanReturned sets the return date and status of an active loan.
	// It reports false when no active loan with that id exists.
	MarkLoanReturned(ctx context.Context, id int64, at time.Time) (bool, error)

	// DeleteReturnedLoan removes a returned loan. It reports false when no
	// returned loan with that id exists.
	DeleteReturnedLoan(ctx context.Context, id int64) (bool, error)

	// ListAvailabilityMismatches returns books whose available flag disagrees
	// with the existence of an active loan.
	ListAvailabilityMismatches(ctx context.Context) ([]models.AvailabilityMismatch, error)
}

// Storage defines the interface for data storage operations
type Storage interface {
	BookStore
	MemberStore
	LoanStore

	// RunInTx runs fn in a transaction. Store calls made with the context
	// passed to fn join the transaction; an error from fn rolls it back.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
