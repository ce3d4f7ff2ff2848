package stubs

import (
	"context"
	"errors"
	"testing"
	"time"

	"biblio/internal/models"
	"biblio/internal/storage"
)

func seed(t *testing.T, db *MockDB) (*models.Book, *models.Member) {
	t.Helper()
	ctx := context.Background()

	book := &models.Book{Title: "Il barone rampante", Author: "Italo Calvino", Available: true}
	if err := db.CreateBook(ctx, book); err != nil {
		t.Fatalf("Failed to create book: %v", err)
	}
	member := &models.Member{FirstName: "Mario", LastName: "Rossi", Email: "mario.rossi@email.com"}
	if err := db.CreateMember(ctx, member); err != nil {
		t.Fatalf("Failed to create member: %v", err)
	}
	return book, member
}

func TestMockDB_CreateBook(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	book, _ := seed(t, db)
	if book.ID == 0 {
		t.Fatal("Expected non-zero book ID")
	}

	books, err := db.ListBooks(ctx, models.BookFilter{})
	if err != nil {
		t.Fatalf("Failed to list books: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("Expected 1 book, got %d", len(books))
	}
	if !books[0].Available {
		t.Error("Expected book to be available by default")
	}

	isbn := "978-0000000001"
	first := &models.Book{Title: "A", Author: "B", ISBN: &isbn}
	if err := db.CreateBook(ctx, first); err != nil {
		t.Fatalf("Failed to create book: %v", err)
	}
	dup := &models.Book{Title: "C", Author: "D", ISBN: &isbn}
	if err := db.CreateBook(ctx, dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
}

func TestMockDB_SeparateSequences(t *testing.T) {
	db := NewMockDB()
	book, member := seed(t, db)

	if book.ID != member.ID {
		t.Errorf("Expected first book and first member to share id 1, got %d and %d", book.ID, member.ID)
	}
}

func TestMockDB_ListMembers(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	for _, m := range []models.Member{
		{FirstName: "Luca", LastName: "Verdi", Email: "luca@example.com"},
		{FirstName: "Giulia", LastName: "Bianchi", Email: "giulia@example.com"},
		{FirstName: "Anna", LastName: "Bianchi", Email: "anna@example.com"},
	} {
		m := m
		if err := db.CreateMember(ctx, &m); err != nil {
			t.Fatalf("Failed to create member: %v", err)
		}
	}

	members, err := db.ListMembers(ctx, models.MemberFilter{})
	if err != nil {
		t.Fatalf("Failed to list members: %v", err)
	}

	want := []string{"Anna", "Giulia", "Luca"}
	for i, m := range members {
		if m.FirstName != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], m.FirstName)
		}
	}

	page, err := db.ListMembers(ctx, models.MemberFilter{Search: "BIANCHI", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Failed to list members: %v", err)
	}
	if len(page) != 1 || page[0].FirstName != "Giulia" {
		t.Errorf("Expected Giulia on the second page, got %+v", page)
	}

	count, err := db.CountMembers(ctx, "bianchi")
	if err != nil {
		t.Fatalf("Failed to count members: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 members, got %d", count)
	}
}

func TestMockDB_LoanConstraints(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	book, member := seed(t, db)

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	loan := &models.Loan{BookID: book.ID, MemberID: member.ID, LoanDate: now, DueDate: now.AddDate(0, 0, 30), Status: models.LoanActive}
	if err := db.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	second := &models.Loan{BookID: book.ID, MemberID: member.ID, LoanDate: now, DueDate: now, Status: models.LoanActive}
	if err := db.CreateLoan(ctx, second); !errors.Is(err, storage.ErrActiveLoanExists) {
		t.Errorf("Expected ErrActiveLoanExists, got %v", err)
	}

	dangling := &models.Loan{BookID: 42, MemberID: member.ID, LoanDate: now, DueDate: now, Status: models.LoanActive}
	if err := db.CreateLoan(ctx, dangling); !errors.Is(err, storage.ErrReferenced) {
		t.Errorf("Expected ErrReferenced, got %v", err)
	}

	if err := db.DeleteBook(ctx, book.ID); !errors.Is(err, storage.ErrReferenced) {
		t.Errorf("Expected ErrReferenced when deleting a lent book, got %v", err)
	}

	if ok, _ := db.DeleteReturnedLoan(ctx, loan.ID); ok {
		t.Error("Expected active loan to survive DeleteReturnedLoan")
	}

	ok, err := db.MarkLoanReturned(ctx, loan.ID, now.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("Expected loan to be returned, got %v %v", ok, err)
	}
	if ok, _ := db.MarkLoanReturned(ctx, loan.ID, now); ok {
		t.Error("Expected second return to report false")
	}

	view, err := db.GetLoanView(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan view: %v", err)
	}
	if view.BookTitle == nil || *view.BookTitle != "Il barone rampante" {
		t.Errorf("Expected joined book title, got %v", view.BookTitle)
	}
	if view.ReturnDate == nil {
		t.Error("Expected return date to be set")
	}
}

func TestMockDB_RunInTxRollsBack(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	book, _ := seed(t, db)

	errBoom := errors.New("boom")
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		if err := db.SetBookAvailable(ctx, book.ID, false); err != nil {
			return err
		}
		extra := &models.Book{Title: "Ghost", Author: "Nobody"}
		if err := db.CreateBook(ctx, extra); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected errBoom, got %v", err)
	}

	got, err := db.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("Failed to get book: %v", err)
	}
	if !got.Available {
		t.Error("Expected availability change to be rolled back")
	}

	count, _ := db.CountBooks(ctx, "")
	if count != 1 {
		t.Errorf("Expected 1 book after rollback, got %d", count)
	}

	next := &models.Book{Title: "Next", Author: "Someone"}
	if err := db.CreateBook(ctx, next); err != nil {
		t.Fatalf("Failed to create book: %v", err)
	}
	if next.ID != 3 {
		t.Errorf("Expected ids not to be reused after rollback, got %d", next.ID)
	}
}

func TestMockDB_RollbackKeepsWritesOutsideTx(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	book, member := seed(t, db)

	errBoom := errors.New("boom")
	var outside *models.Book
	err := db.RunInTx(ctx, func(txCtx context.Context) error {
		loan := &models.Loan{BookID: book.ID, MemberID: member.ID, Status: models.LoanActive}
		if err := db.CreateLoan(txCtx, loan); err != nil {
			return err
		}
		// Another request writing concurrently without the transaction
		outside = &models.Book{Title: "Se una notte d'inverno un viaggiatore", Author: "Italo Calvino", Available: true}
		if err := db.CreateBook(ctx, outside); err != nil {
			return err
		}
		if err := db.SetBookAvailable(ctx, book.ID, true); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected errBoom, got %v", err)
	}

	if _, err := db.GetBook(ctx, outside.ID); err != nil {
		t.Errorf("Expected book created outside the transaction to survive, got %v", err)
	}
	count, _ := db.CountBooks(ctx, "")
	if count != 2 {
		t.Errorf("Expected 2 books after rollback, got %d", count)
	}
	loans, _ := db.CountLoans(ctx, models.LoanFilter{})
	if loans != 0 {
		t.Errorf("Expected loan created in the transaction to be rolled back, got %d", loans)
	}
}

func TestMockDB_RollbackRestoresDeletes(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	book, member := seed(t, db)

	err := db.RunInTx(ctx, func(ctx context.Context) error {
		if err := db.DeleteMember(ctx, member.ID); err != nil {
			return err
		}
		book.Title = "Il visconte dimezzato"
		if err := db.UpdateBook(ctx, book); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("Expected error from transaction")
	}

	if _, err := db.GetMember(ctx, member.ID); err != nil {
		t.Errorf("Expected deleted member to be restored, got %v", err)
	}
	got, err := db.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("Failed to get book: %v", err)
	}
	if got.Title != "Il barone rampante" {
		t.Errorf("Expected title update to be rolled back, got %q", got.Title)
	}
}

func TestMockDB_AvailabilityMismatches(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	book, _ := seed(t, db)

	if err := db.SetBookAvailable(ctx, book.ID, false); err != nil {
		t.Fatalf("Failed to set availability: %v", err)
	}

	mismatches, err := db.ListAvailabilityMismatches(ctx)
	if err != nil {
		t.Fatalf("Failed to list mismatches: %v", err)
	}
	if len(mismatches) != 1 || mismatches[0].BookID != book.ID || mismatches[0].ActiveLoans != 0 {
		t.Errorf("Expected one mismatch for book %d, got %+v", book.ID, mismatches)
	}
}

func TestMockJournal_TopBooks(t *testing.T) {
	j := NewMockJournal()
	ctx := context.Background()
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	events := []models.LoanEvent{
		{Kind: models.EventIssued, BookID: 1, BookTitle: "A", OccurredAt: base},
		{Kind: models.EventIssued, BookID: 2, BookTitle: "B", OccurredAt: base.Add(time.Hour)},
		{Kind: models.EventIssued, BookID: 2, BookTitle: "B", OccurredAt: base.Add(2 * time.Hour)},
		{Kind: models.EventReturned, BookID: 1, BookTitle: "A", OccurredAt: base.Add(3 * time.Hour)},
		{Kind: models.EventIssued, BookID: 3, BookTitle: "C", OccurredAt: base.AddDate(0, 1, 0)},
	}
	for _, e := range events {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Failed to record event: %v", err)
		}
	}

	stats, err := j.TopBooks(ctx, 10, base.Add(-time.Hour), base.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("Failed to get top books: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("Expected 2 books, got %d", len(stats))
	}
	if stats[0].BookID != 2 || stats[0].LoanCount != 2 {
		t.Errorf("Expected book 2 first with 2 loans, got %+v", stats[0])
	}

	recent, err := j.RecentEvents(ctx, 2, 0)
	if err != nil {
		t.Fatalf("Failed to get recent events: %v", err)
	}
	if len(recent) != 2 || recent[0].BookID != 3 {
		t.Errorf("Expected newest event first, got %+v", recent)
	}

	older, err := j.RecentEvents(ctx, 2, 2)
	if err != nil {
		t.Fatalf("Failed to get recent events: %v", err)
	}
	if len(older) != 2 || !older[0].OccurredAt.Equal(base.Add(2*time.Hour)) || !older[1].OccurredAt.Equal(base.Add(time.Hour)) {
		t.Errorf("Expected second page to continue after the first, got %+v", older)
	}
}
