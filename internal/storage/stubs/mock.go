package stubs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"biblio/internal/models"
	"biblio/internal/storage"
)

var _ storage.Storage = (*MockDB)(nil)

// MockDB is an in-memory implementation of storage.Storage for tests and
// USE_MOCK_DB runs. It enforces the same constraints as the SQL schema.
type MockDB struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	books   map[int64]models.Book
	members map[int64]models.Member
	loans   map[int64]models.Loan
	seq     sequences
	now     func() time.Time
}

// sequences mirrors the per-table id generators of the SQL schema
type sequences struct {
	book, member, loan int64
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		books:   make(map[int64]models.Book),
		members: make(map[int64]models.Member),
		loans:   make(map[int64]models.Loan),
		now:     time.Now,
	}
}

// Initialize does nothing; the mock starts empty
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// Ping always succeeds
func (m *MockDB) Ping(ctx context.Context) error {
	return nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

type txKey struct{}

// mockTx records how to undo each write made through its context
type mockTx struct {
	undo []func()
}

// RunInTx serializes transactions. When fn fails only the writes made with
// the transaction context are undone; concurrent writes outside it survive.
// Ids are not reused, like database sequences.
func (m *MockDB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*mockTx); ok {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &mockTx{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		m.rollback(tx)
		return err
	}
	return nil
}

func (m *MockDB) rollback(tx *mockTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

// track saves the current row id of table so a failing transaction in ctx
// can put it back. Callers hold m.mu.
func track[V any](ctx context.Context, table map[int64]V, id int64) {
	tx, ok := ctx.Value(txKey{}).(*mockTx)
	if !ok {
		return
	}
	prev, existed := table[id]
	tx.undo = append(tx.undo, func() {
		if existed {
			table[id] = prev
		} else {
			delete(table, id)
		}
	})
}

func (m *MockDB) stamp() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

func contains(field *string, search string) bool {
	return field != nil && strings.Contains(strings.ToLower(*field), search)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Books

// CreateBook creates a new book
func (m *MockDB) CreateBook(ctx context.Context, book *models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if book.ISBN != nil && m.isbnTaken(*book.ISBN, 0) {
		return storage.ErrDuplicate
	}
	now := m.stamp()
	m.seq.book++
	book.ID = m.seq.book
	book.CreatedAt = now
	book.UpdatedAt = now
	track(ctx, m.books, book.ID)
	m.books[book.ID] = *book
	return nil
}

func (m *MockDB) isbnTaken(isbn string, except int64) bool {
	for id, b := range m.books {
		if id != except && b.ISBN != nil && *b.ISBN == isbn {
			return true
		}
	}
	return false
}

// GetBook retrieves a book by id
func (m *MockDB) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &book, nil
}

// LockBook is GetBook; RunInTx already serializes writers
func (m *MockDB) LockBook(ctx context.Context, id int64) (*models.Book, error) {
	return m.GetBook(ctx, id)
}

// GetBookByISBN retrieves a book by isbn
func (m *MockDB) GetBookByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.books {
		if b.ISBN != nil && *b.ISBN == isbn {
			return &b, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockDB) matchingBooks(search string) []models.Book {
	search = strings.ToLower(search)
	books := []models.Book{}
	for _, b := range m.books {
		if search == "" || contains(&b.Title, search) || contains(&b.Author, search) || contains(b.Genre, search) {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})
	return books
}

// ListBooks returns books ordered by title
func (m *MockDB) ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginate(m.matchingBooks(filter.Search), filter.Limit, filter.Offset), nil
}

// CountBooks counts books matching search
func (m *MockDB) CountBooks(ctx context.Context, search string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matchingBooks(search)), nil
}

// UpdateBook writes the mutable fields of book, leaving availability alone
func (m *MockDB) UpdateBook(ctx context.Context, book *models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.books[book.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if book.ISBN != nil && m.isbnTaken(*book.ISBN, book.ID) {
		return storage.ErrDuplicate
	}
	current.Title = book.Title
	current.Author = book.Author
	current.ISBN = book.ISBN
	current.PublicationYear = book.PublicationYear
	current.Genre = book.Genre
	current.UpdatedAt = m.stamp()
	track(ctx, m.books, book.ID)
	m.books[book.ID] = current
	book.UpdatedAt = current.UpdatedAt
	return nil
}

// SetBookAvailable sets the availability flag of a book
func (m *MockDB) SetBookAvailable(ctx context.Context, id int64, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return storage.ErrNotFound
	}
	book.Available = available
	book.UpdatedAt = m.stamp()
	track(ctx, m.books, id)
	m.books[id] = book
	return nil
}

// DeleteBook removes a book not referenced by any loan
func (m *MockDB) DeleteBook(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return storage.ErrNotFound
	}
	for _, l := range m.loans {
		if l.BookID == id {
			return storage.ErrReferenced
		}
	}
	track(ctx, m.books, id)
	delete(m.books, id)
	return nil
}

// Members

// CreateMember creates a new member with a unique email
func (m *MockDB) CreateMember(ctx context.Context, member *models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emailTaken(member.Email, 0) {
		return storage.ErrDuplicate
	}
	now := m.stamp()
	m.seq.member++
	member.ID = m.seq.member
	member.CreatedAt = now
	member.UpdatedAt = now
	track(ctx, m.members, member.ID)
	m.members[member.ID] = *member
	return nil
}

func (m *MockDB) emailTaken(email string, except int64) bool {
	for id, mb := range m.members {
		if id != except && mb.Email == email {
			return true
		}
	}
	return false
}

// GetMember retrieves a member by id
func (m *MockDB) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &member, nil
}

// GetMemberByEmail retrieves a member by email
func (m *MockDB) GetMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mb := range m.members {
		if mb.Email == email {
			return &mb, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockDB) matchingMembers(search string) []models.Member {
	search = strings.ToLower(search)
	members := []models.Member{}
	for _, mb := range m.members {
		if search == "" || contains(&mb.FirstName, search) || contains(&mb.LastName, search) || contains(&mb.Email, search) {
			members = append(members, mb)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})
	return members
}

// ListMembers returns members ordered by last name, then first name
func (m *MockDB) ListMembers(ctx context.Context, filter models.MemberFilter) ([]models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginate(m.matchingMembers(filter.Search), filter.Limit, filter.Offset), nil
}

// CountMembers counts members matching search
func (m *MockDB) CountMembers(ctx context.Context, search string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matchingMembers(search)), nil
}

// UpdateMember writes all mutable member fields
func (m *MockDB) UpdateMember(ctx context.Context, member *models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.members[member.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if m.emailTaken(member.Email, member.ID) {
		return storage.ErrDuplicate
	}
	member.CreatedAt = current.CreatedAt
	member.UpdatedAt = m.stamp()
	track(ctx, m.members, member.ID)
	m.members[member.ID] = *member
	return nil
}

// DeleteMember removes a member not referenced by any loan
func (m *MockDB) DeleteMember(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[id]; !ok {
		return storage.ErrNotFound
	}
	for _, l := range m.loans {
		if l.MemberID == id {
			return storage.ErrReferenced
		}
	}
	track(ctx, m.members, id)
	delete(m.members, id)
	return nil
}

// Loans

// CreateLoan creates a loan, rejecting dangling references and a second
// active loan for the same book
func (m *MockDB) CreateLoan(ctx context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[loan.BookID]; !ok {
		return storage.ErrReferenced
	}
	if _, ok := m.members[loan.MemberID]; !ok {
		return storage.ErrReferenced
	}
	if loan.Status == models.LoanActive && m.activeLoansFor(loan.BookID) > 0 {
		return storage.ErrActiveLoanExists
	}

	now := m.stamp()
	m.seq.loan++
	loan.ID = m.seq.loan
	loan.CreatedAt = now
	loan.UpdatedAt = now
	track(ctx, m.loans, loan.ID)
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MockDB) activeLoansFor(bookID int64) int {
	n := 0
	for _, l := range m.loans {
		if l.BookID == bookID && l.Status == models.LoanActive {
			n++
		}
	}
	return n
}

// GetLoan retrieves the durable loan record
func (m *MockDB) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &loan, nil
}

// GetLoanView retrieves a loan with its joined display fields
func (m *MockDB) GetLoanView(ctx context.Context, id int64) (*models.LoanView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	view := m.view(loan)
	return &view, nil
}

func (m *MockDB) view(loan models.Loan) models.LoanView {
	v := models.LoanView{Loan: loan}
	if b, ok := m.books[loan.BookID]; ok {
		v.BookTitle = &b.Title
		v.BookAuthor = &b.Author
	}
	if mb, ok := m.members[loan.MemberID]; ok {
		v.MemberFirstName = &mb.FirstName
		v.MemberLastName = &mb.LastName
	}
	return v
}

// matchingLoans returns views satisfying keep, newest first
func (m *MockDB) matchingLoans(keep func(models.LoanView) bool) []models.LoanView {
	views := []models.LoanView{}
	for _, l := range m.loans {
		v := m.view(l)
		if keep(v) {
			views = append(views, v)
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].LoanDate.Equal(views[j].LoanDate) {
			return views[i].LoanDate.After(views[j].LoanDate)
		}
		return views[i].ID > views[j].ID
	})
	return views
}

func loanMatches(filter models.LoanFilter) func(models.LoanView) bool {
	search := strings.ToLower(filter.Search)
	return func(v models.LoanView) bool {
		if filter.Status != "" && v.Status != filter.Status {
			return false
		}
		if search == "" {
			return true
		}
		return contains(v.BookTitle, search) || contains(v.BookAuthor, search) ||
			contains(v.MemberFirstName, search) || contains(v.MemberLastName, search)
	}
}

// ListLoans returns joined loans matching filter, most recent first
func (m *MockDB) ListLoans(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginate(m.matchingLoans(loanMatches(filter)), filter.Limit, filter.Offset), nil
}

// CountLoans counts loans matching filter
func (m *MockDB) CountLoans(ctx context.Context, filter models.LoanFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matchingLoans(loanMatches(filter))), nil
}

// ListLoansByBook returns every loan of a book, optionally narrowed by status
func (m *MockDB) ListLoansByBook(ctx context.Context, bookID int64, status models.LoanStatus) ([]models.LoanView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byStatus := loanMatches(models.LoanFilter{Status: status})
	return m.matchingLoans(func(v models.LoanView) bool {
		return v.BookID == bookID && byStatus(v)
	}), nil
}

// ListLoansByMember returns every loan of a member, optionally narrowed by status
func (m *MockDB) ListLoansByMember(ctx context.Context, memberID int64, status models.LoanStatus) ([]models.LoanView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byStatus := loanMatches(models.LoanFilter{Status: status})
	return m.matchingLoans(func(v models.LoanView) bool {
		return v.MemberID == memberID && byStatus(v)
	}), nil
}

// CountActiveLoansForBook counts active loans referencing a book
func (m *MockDB) CountActiveLoansForBook(ctx context.Context, bookID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLoansFor(bookID), nil
}

// MarkLoanReturned closes an active loan
func (m *MockDB) MarkLoanReturned(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loan, ok := m.loans[id]
	if !ok || loan.Status != models.LoanActive {
		return false, nil
	}
	returned := at.UTC()
	loan.Status = models.LoanReturned
	loan.ReturnDate = &returned
	loan.UpdatedAt = m.stamp()
	track(ctx, m.loans, id)
	m.loans[id] = loan
	return true, nil
}

// DeleteReturnedLoan deletes a loan only if it has been returned
func (m *MockDB) DeleteReturnedLoan(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loan, ok := m.loans[id]
	if !ok || loan.Status != models.LoanReturned {
		return false, nil
	}
	track(ctx, m.loans, id)
	delete(m.loans, id)
	return true, nil
}

// ListAvailabilityMismatches compares each book's flag with its active loans
func (m *MockDB) ListAvailabilityMismatches(ctx context.Context) ([]models.AvailabilityMismatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mismatches := []models.AvailabilityMismatch{}
	for id, b := range m.books {
		active := m.activeLoansFor(id)
		if b.Available == (active > 0) {
			mismatches = append(mismatches, models.AvailabilityMismatch{
				BookID:      id,
				Available:   b.Available,
				ActiveLoans: active,
			})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool {
		return mismatches[i].BookID < mismatches[j].BookID
	})
	return mismatches, nil
}
