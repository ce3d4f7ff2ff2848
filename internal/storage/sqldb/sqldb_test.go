package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biblio/internal/models"
	"biblio/internal/storage"
)

// setupTestDB creates a migrated SQLite database in a temp directory
func setupTestDB(t *testing.T) (*SQLDB, func()) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "library.db")
	dsn := SQLiteDSN(path)

	db, err := NewSQLDB(ctx, DriverSQLite, dsn, WithLogger(zap.NewNop()), WithAutoMigrate(true))
	require.NoError(t, err, "Failed to open SQLite")
	require.NoError(t, db.Initialize(ctx), "Failed to run migrations")

	return db, func() {
		db.Close()
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func createBook(t *testing.T, db *SQLDB, title, author string) *models.Book {
	t.Helper()
	book := &models.Book{Title: title, Author: author, Available: true}
	require.NoError(t, db.CreateBook(context.Background(), book))
	return book
}

func createMember(t *testing.T, db *SQLDB, first, last, email string) *models.Member {
	t.Helper()
	member := &models.Member{FirstName: first, LastName: last, Email: email}
	require.NoError(t, db.CreateMember(context.Background(), member))
	return member
}

func createLoan(t *testing.T, db *SQLDB, bookID, memberID int64, loanDate time.Time) *models.Loan {
	t.Helper()
	loan := &models.Loan{
		BookID:   bookID,
		MemberID: memberID,
		LoanDate: loanDate,
		DueDate:  loanDate.Add(30 * 24 * time.Hour),
		Status:   models.LoanActive,
	}
	require.NoError(t, db.CreateLoan(context.Background(), loan))
	return loan
}

func TestDialectFor(t *testing.T) {
	testCases := []struct {
		driver  string
		dialect string
		wantErr bool
	}{
		{DriverSQLite, "sqlite3", false},
		{DriverPostgres, "postgres", false},
		{DriverPGX, "postgres", false},
		{"mysql", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.driver, func(t *testing.T) {
			dialect, err := DialectFor(tc.driver)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.dialect, dialect)
		})
	}
}

func TestBooks(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		book := &models.Book{
			Title:           "Il nome della rosa",
			Author:          "Umberto Eco",
			ISBN:            strPtr("978-8845292613"),
			PublicationYear: intPtr(1980),
			Available:       true,
		}
		require.NoError(t, db.CreateBook(ctx, book))
		assert.NotZero(t, book.ID)

		got, err := db.GetBook(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, "Il nome della rosa", got.Title)
		assert.Equal(t, "978-8845292613", *got.ISBN)
		assert.Equal(t, 1980, *got.PublicationYear)
		assert.Nil(t, got.Genre)
		assert.True(t, got.Available)

		byISBN, err := db.GetBookByISBN(ctx, "978-8845292613")
		require.NoError(t, err)
		assert.Equal(t, book.ID, byISBN.ID)
	})

	t.Run("duplicate isbn", func(t *testing.T) {
		book := &models.Book{Title: "Copy", Author: "Someone", ISBN: strPtr("978-8845292613"), Available: true}
		err := db.CreateBook(ctx, book)
		assert.ErrorIs(t, err, storage.ErrDuplicate)
	})

	t.Run("missing book", func(t *testing.T) {
		_, err := db.GetBook(ctx, 9999)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = db.SetBookAvailable(ctx, 9999, false)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("search is case insensitive", func(t *testing.T) {
		createBook(t, db, "Se questo è un uomo", "Primo Levi")

		books, err := db.ListBooks(ctx, models.BookFilter{Search: "LEVI"})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "Primo Levi", books[0].Author)

		n, err := db.CountBooks(ctx, "levi")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("update keeps availability", func(t *testing.T) {
		book := createBook(t, db, "Draft", "Anon")
		require.NoError(t, db.SetBookAvailable(ctx, book.ID, false))

		book.Title = "Final"
		book.Available = true
		require.NoError(t, db.UpdateBook(ctx, book))

		got, err := db.GetBook(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, "Final", got.Title)
		assert.False(t, got.Available)
	})
}

func TestMembers(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	mario := createMember(t, db, "Mario", "Rossi", "mario.rossi@email.com")
	createMember(t, db, "Giulia", "Bianchi", "giulia.bianchi@email.com")

	t.Run("duplicate email", func(t *testing.T) {
		err := db.CreateMember(ctx, &models.Member{FirstName: "M", LastName: "R", Email: "mario.rossi@email.com"})
		assert.ErrorIs(t, err, storage.ErrDuplicate)
	})

	t.Run("ordered by last name", func(t *testing.T) {
		members, err := db.ListMembers(ctx, models.MemberFilter{})
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "Bianchi", members[0].LastName)
		assert.Equal(t, "Rossi", members[1].LastName)
	})

	t.Run("get by email", func(t *testing.T) {
		got, err := db.GetMemberByEmail(ctx, "mario.rossi@email.com")
		require.NoError(t, err)
		assert.Equal(t, mario.ID, got.ID)
		assert.Equal(t, "Mario Rossi", got.FullName())
	})

	t.Run("delete referenced member", func(t *testing.T) {
		book := createBook(t, db, "Ref", "Ref")
		createLoan(t, db, book.ID, mario.ID, time.Now())

		err := db.DeleteMember(ctx, mario.ID)
		assert.ErrorIs(t, err, storage.ErrReferenced)
	})
}

func TestLoans(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	book := createBook(t, db, "Il Gattopardo", "Giuseppe Tomasi di Lampedusa")
	other := createBook(t, db, "I promessi sposi", "Alessandro Manzoni")
	member := createMember(t, db, "Luca", "Verdi", "luca.verdi@email.com")

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	first := createLoan(t, db, book.ID, member.ID, base)

	t.Run("one active loan per book", func(t *testing.T) {
		dup := &models.Loan{BookID: book.ID, MemberID: member.ID, LoanDate: base, DueDate: base, Status: models.LoanActive}
		err := db.CreateLoan(ctx, dup)
		assert.ErrorIs(t, err, storage.ErrActiveLoanExists)

		n, err := db.CountActiveLoansForBook(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("view carries joined fields", func(t *testing.T) {
		view, err := db.GetLoanView(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "Il Gattopardo", *view.BookTitle)
		assert.Equal(t, "Luca", *view.MemberFirstName)
		assert.Equal(t, models.LoanActive, view.Status)
		assert.Nil(t, view.ReturnDate)
		assert.True(t, view.LoanDate.Equal(base))
	})

	t.Run("return is conditional", func(t *testing.T) {
		at := base.Add(48 * time.Hour)
		ok, err := db.MarkLoanReturned(ctx, first.ID, at)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = db.MarkLoanReturned(ctx, first.ID, at)
		require.NoError(t, err)
		assert.False(t, ok)

		loan, err := db.GetLoan(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LoanReturned, loan.Status)
		require.NotNil(t, loan.ReturnDate)
		assert.True(t, loan.ReturnDate.Equal(at))
	})

	second := createLoan(t, db, other.ID, member.ID, base.Add(time.Hour))

	t.Run("list newest first with filters", func(t *testing.T) {
		all, err := db.ListLoans(ctx, models.LoanFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID)
		assert.Equal(t, first.ID, all[1].ID)

		active, err := db.ListLoans(ctx, models.LoanFilter{Status: models.LoanActive})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, second.ID, active[0].ID)

		found, err := db.ListLoans(ctx, models.LoanFilter{Search: "manzoni"})
		require.NoError(t, err)
		require.Len(t, found, 1)

		n, err := db.CountLoans(ctx, models.LoanFilter{Search: "verdi"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		page, err := db.ListLoans(ctx, models.LoanFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, first.ID, page[0].ID)
	})

	t.Run("by book and member", func(t *testing.T) {
		byBook, err := db.ListLoansByBook(ctx, book.ID, "")
		require.NoError(t, err)
		assert.Len(t, byBook, 1)

		byMember, err := db.ListLoansByMember(ctx, member.ID, models.LoanReturned)
		require.NoError(t, err)
		require.Len(t, byMember, 1)
		assert.Equal(t, first.ID, byMember[0].ID)
	})

	t.Run("delete only returned loans", func(t *testing.T) {
		ok, err := db.DeleteReturnedLoan(ctx, second.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = db.DeleteReturnedLoan(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = db.GetLoan(ctx, first.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("availability mismatches", func(t *testing.T) {
		// other has an active loan but is still flagged available
		mismatches, err := db.ListAvailabilityMismatches(ctx)
		require.NoError(t, err)
		require.Len(t, mismatches, 1)
		assert.Equal(t, other.ID, mismatches[0].BookID)
		assert.True(t, mismatches[0].Available)
		assert.Equal(t, 1, mismatches[0].ActiveLoans)
	})
}

func TestRunInTx(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("rollback on error", func(t *testing.T) {
		errBoom := errors.New("boom")
		err := db.RunInTx(ctx, func(ctx context.Context) error {
			book := &models.Book{Title: "Ghost", Author: "Nobody", Available: true}
			require.NoError(t, db.CreateBook(ctx, book))
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		n, err := db.CountBooks(ctx, "Ghost")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("commit and nested join", func(t *testing.T) {
		err := db.RunInTx(ctx, func(ctx context.Context) error {
			book := &models.Book{Title: "Kept", Author: "Somebody", Available: true}
			if err := db.CreateBook(ctx, book); err != nil {
				return err
			}
			return db.RunInTx(ctx, func(ctx context.Context) error {
				locked, err := db.LockBook(ctx, book.ID)
				if err != nil {
					return err
				}
				return db.SetBookAvailable(ctx, locked.ID, false)
			})
		})
		require.NoError(t, err)

		books, err := db.ListBooks(ctx, models.BookFilter{Search: "Kept"})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.False(t, books[0].Available)
	})
}

func TestSearchIsLiteralAndUnicodeCaseInsensitive(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	elisir := createBook(t, db, "Èlisir d'amore", "Felice Romani")
	percent := createBook(t, db, "100% Calvino", "Italo Calvino")
	member := createMember(t, db, "Ugo", "Foscolo", "ugo_foscolo@example.com")
	createMember(t, db, "Ada", "Negri", "ada.negri@example.com")
	now := time.Now().UTC()
	createLoan(t, db, elisir.ID, member.ID, now)
	createLoan(t, db, percent.ID, member.ID, now)

	t.Run("wildcards are literal", func(t *testing.T) {
		loans, err := db.ListLoans(ctx, models.LoanFilter{Search: "%"})
		require.NoError(t, err)
		require.Len(t, loans, 1)
		assert.Equal(t, percent.ID, loans[0].BookID)

		n, err := db.CountLoans(ctx, models.LoanFilter{Search: "_"})
		require.NoError(t, err)
		assert.Zero(t, n)

		members, err := db.ListMembers(ctx, models.MemberFilter{Search: "o_f"})
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, member.ID, members[0].ID)

		n, err = db.CountBooks(ctx, `\`)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("non-ASCII case folding", func(t *testing.T) {
		books, err := db.ListBooks(ctx, models.BookFilter{Search: "èlisir"})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, elisir.ID, books[0].ID)

		n, err := db.CountLoans(ctx, models.LoanFilter{Search: "ÈLISIR"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
