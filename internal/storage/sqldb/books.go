package sqldb

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"biblio/internal/models"
	"biblio/internal/storage"
)

const booksTable = "books"

var bookColumns = []any{
	"id", "title", "author", "isbn", "publication_year", "genre", "available", "created_at", "updated_at",
}

func (s *SQLDB) books() *goqu.SelectDataset {
	return s.builder.From(booksTable).Select(bookColumns...)
}

func (s *SQLDB) bookSearch(search string) exp.Expression {
	if search == "" {
		return nil
	}
	return s.containsAny(search, goqu.C("title"), goqu.C("author"), goqu.C("genre"))
}

// CreateBook inserts a book and sets its generated id and timestamps
func (s *SQLDB) CreateBook(ctx context.Context, book *models.Book) error {
	now := s.stamp()
	id, err := s.insert(ctx, booksTable, goqu.Record{
		"title":            book.Title,
		"author":           book.Author,
		"isbn":             nullableString(book.ISBN),
		"publication_year": nullableInt(book.PublicationYear),
		"genre":            nullableString(book.Genre),
		"available":        book.Available,
		"created_at":       now,
		"updated_at":       now,
	})
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	book.ID = id
	book.CreatedAt = now
	book.UpdatedAt = now
	return nil
}

// GetBook retrieves a book by id
func (s *SQLDB) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	var book models.Book
	if err := s.get(ctx, &book, s.books().Where(goqu.C("id").Eq(id))); err != nil {
		return nil, err
	}
	return &book, nil
}

// LockBook retrieves a book holding a row lock for the current transaction.
// SQLite has no row locks; its single connection already serializes writers.
func (s *SQLDB) LockBook(ctx context.Context, id int64) (*models.Book, error) {
	ds := s.books().Where(goqu.C("id").Eq(id))
	if s.dialect == dialectPostgres {
		ds = ds.ForUpdate(exp.Wait)
	}
	var book models.Book
	if err := s.get(ctx, &book, ds); err != nil {
		return nil, err
	}
	return &book, nil
}

// GetBookByISBN retrieves a book by isbn
func (s *SQLDB) GetBookByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	var book models.Book
	if err := s.get(ctx, &book, s.books().Where(goqu.C("isbn").Eq(isbn))); err != nil {
		return nil, err
	}
	return &book, nil
}

// ListBooks returns books ordered by title
func (s *SQLDB) ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, error) {
	ds := s.books().Order(goqu.C("title").Asc(), goqu.C("id").Asc())
	if where := s.bookSearch(filter.Search); where != nil {
		ds = ds.Where(where)
	}
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	books := []models.Book{}
	if err := s.selectAll(ctx, &books, ds); err != nil {
		return nil, err
	}
	return books, nil
}

// CountBooks counts books matching search
func (s *SQLDB) CountBooks(ctx context.Context, search string) (int, error) {
	ds := s.builder.From(booksTable)
	if where := s.bookSearch(search); where != nil {
		ds = ds.Where(where)
	}
	return s.count(ctx, ds)
}

// UpdateBook writes the mutable fields of book. The availability flag is left
// alone; see SetBookAvailable.
func (s *SQLDB) UpdateBook(ctx context.Context, book *models.Book) error {
	now := s.stamp()
	query, args, err := s.builder.Update(booksTable).
		Set(goqu.Record{
			"title":            book.Title,
			"author":           book.Author,
			"isbn":             nullableString(book.ISBN),
			"publication_year": nullableInt(book.PublicationYear),
			"genre":            nullableString(book.Genre),
			"updated_at":       now,
		}).
		Where(goqu.C("id").Eq(book.ID)).
		Prepared(true).ToSQL()

	n, err := s.exec(ctx, query, args, err)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	book.UpdatedAt = now
	return nil
}

// SetBookAvailable sets the availability flag of a book
func (s *SQLDB) SetBookAvailable(ctx context.Context, id int64, available bool) error {
	query, args, err := s.builder.Update(booksTable).
		Set(goqu.Record{"available": available, "updated_at": s.stamp()}).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()

	n, err := s.exec(ctx, query, args, err)
	if err != nil {
		return fmt.Errorf("failed to update book availability: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteBook removes a book. Books referenced by loans yield ErrReferenced.
func (s *SQLDB) DeleteBook(ctx context.Context, id int64) error {
	query, args, err := s.builder.Delete(booksTable).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()

	n, err := s.exec(ctx, query, args, err)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
