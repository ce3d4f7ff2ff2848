package models

import (
	"math"
	"strings"
	"time"
)

// Book represents a book in the library catalog
type Book struct {
	ID              int64     `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	ISBN            *string   `json:"isbn" db:"isbn"`
	PublicationYear *int      `json:"publication_year" db:"publication_year"`
	Genre           *string   `json:"genre" db:"genre"`
	Available       bool      `json:"available" db:"available"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Member represents a registered library member
type Member struct {
	ID        int64     `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	Phone     *string   `json:"phone" db:"phone"`
	Address   *string   `json:"address" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName returns "first last"
func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// LoanStatus is the state of a loan
type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
)

// Valid reports whether s is a known status
func (s LoanStatus) Valid() bool {
	return s == LoanActive || s == LoanReturned
}

// Loan is the durable loan record. It holds references only; joined display
// fields live on LoanView.
type Loan struct {
	ID         int64      `json:"id" db:"id"`
	BookID     int64      `json:"book_id" db:"book_id"`
	MemberID   int64      `json:"member_id" db:"member_id"`
	LoanDate   time.Time  `json:"loan_date" db:"loan_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date" db:"return_date"`
	Status     LoanStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// IsOverdue reports whether the loan is still active past its due date
func (l Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanActive && now.After(l.DueDate)
}

// DaysLate returns the number of started days past the due date, or 0 if the
// loan is not overdue.
func (l Loan) DaysLate(now time.Time) int {
	if !l.IsOverdue(now) {
		return 0
	}
	return int(math.Ceil(now.Sub(l.DueDate).Hours() / 24))
}

// LoanView is the read model returned by loan queries
type LoanView struct {
	Loan
	BookTitle       *string `json:"book_title,omitempty" db:"book_title"`
	BookAuthor      *string `json:"book_author,omitempty" db:"book_author"`
	MemberFirstName *string `json:"member_first_name,omitempty" db:"member_first_name"`
	MemberLastName  *string `json:"member_last_name,omitempty" db:"member_last_name"`

	Overdue  bool `json:"overdue" db:"-"`
	DaysLate int  `json:"days_late" db:"-"`
}

// Derive fills the computed fields relative to now
func (v *LoanView) Derive(now time.Time) {
	v.Overdue = v.Loan.IsOverdue(now)
	v.DaysLate = v.Loan.DaysLate(now)
}

// LoanFilter narrows loan listings. A zero Limit means no limit.
type LoanFilter struct {
	Status LoanStatus
	Search string
	Limit  int
	Offset int
}

// LoanStats aggregates loan counts
type LoanStats struct {
	Total             int `json:"total"`
	Active            int `json:"active"`
	Returned          int `json:"returned"`
	Overdue           int `json:"overdue"`
	OverduePercentage int `json:"overdue_percentage"`
}

// BookFilter narrows book listings (search over title, author and genre)
type BookFilter struct {
	Search string
	Limit  int
	Offset int
}

// MemberFilter narrows member listings (search over names and email)
type MemberFilter struct {
	Search string
	Limit  int
	Offset int
}

// BookPatch lists the book fields a caller may change. Availability is owned
// by the loan lifecycle and is not patchable.
type BookPatch struct {
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	ISBN            *string `json:"isbn"`
	PublicationYear *int    `json:"publication_year"`
	Genre           *string `json:"genre"`
}

// Apply copies the set fields onto b
func (p BookPatch) Apply(b *Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.ISBN != nil {
		b.ISBN = emptyToNil(p.ISBN)
	}
	if p.PublicationYear != nil {
		b.PublicationYear = p.PublicationYear
	}
	if p.Genre != nil {
		b.Genre = emptyToNil(p.Genre)
	}
}

// MemberPatch lists the member fields a caller may change
type MemberPatch struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
}

// Apply copies the set fields onto m
func (p MemberPatch) Apply(m *Member) {
	if p.FirstName != nil {
		m.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		m.LastName = *p.LastName
	}
	if p.Email != nil {
		m.Email = *p.Email
	}
	if p.Phone != nil {
		m.Phone = emptyToNil(p.Phone)
	}
	if p.Address != nil {
		m.Address = emptyToNil(p.Address)
	}
}

// LoanEventKind names a loan lifecycle transition
type LoanEventKind string

const (
	EventIssued   LoanEventKind = "issued"
	EventReturned LoanEventKind = "returned"
	EventDeleted  LoanEventKind = "deleted"
)

// LoanEvent is an entry of the loan activity journal
type LoanEvent struct {
	EventID    string        `json:"event_id"`
	Kind       LoanEventKind `json:"kind"`
	LoanID     int64         `json:"loan_id"`
	BookID     int64         `json:"book_id"`
	MemberID   int64         `json:"member_id"`
	BookTitle  string        `json:"book_title"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// BookStat represents how often a book was lent
type BookStat struct {
	BookID    int64  `json:"book_id"`
	BookTitle string `json:"book_title"`
	LoanCount int    `json:"loan_count"`
}

// AvailabilityMismatch is a book whose flag disagrees with its active loans
type AvailabilityMismatch struct {
	BookID      int64 `db:"book_id"`
	Available   bool  `db:"available"`
	ActiveLoans int   `db:"active_loans"`
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
