package catalog

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"biblio/internal/apperr"
	"biblio/internal/models"
	"biblio/internal/storage"
)

const minPublicationYear = 1000

// ListBooks returns a page of books and the total matching count
func (s *Service) ListBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, int, error) {
	filter.Search = strings.TrimSpace(filter.Search)

	books, err := s.store.ListBooks(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Storage("failed to list books", err)
	}
	total, err := s.store.CountBooks(ctx, filter.Search)
	if err != nil {
		return nil, 0, apperr.Storage("failed to count books", err)
	}
	return books, total, nil
}

// SearchBooks is ListBooks with a mandatory search term
func (s *Service) SearchBooks(ctx context.Context, filter models.BookFilter) ([]models.Book, int, error) {
	if strings.TrimSpace(filter.Search) == "" {
		return nil, 0, apperr.Validation("q: search term is required")
	}
	return s.ListBooks(ctx, filter)
}

// GetBook retrieves a book by id
func (s *Service) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, translate("failed to load book", err, apperr.ErrBookNotFound, nil, nil)
	}
	return book, nil
}

// CreateBook validates and stores a new, available book
func (s *Service) CreateBook(ctx context.Context, book *models.Book) error {
	normalizeBook(book)
	if err := s.validateBook(book); err != nil {
		return err
	}
	book.Available = true

	if err := s.store.CreateBook(ctx, book); err != nil {
		return translate("failed to create book", err, nil, apperr.ErrISBNTaken, nil)
	}
	s.logger.Info("Book created", zap.Int64("book_id", book.ID), zap.String("title", book.Title))
	return nil
}

// UpdateBook applies patch to a book
func (s *Service) UpdateBook(ctx context.Context, id int64, patch models.BookPatch) (*models.Book, error) {
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(book)
	normalizeBook(book)
	if err := s.validateBook(book); err != nil {
		return nil, err
	}

	if err := s.store.UpdateBook(ctx, book); err != nil {
		return nil, translate("failed to update book", err, apperr.ErrBookNotFound, apperr.ErrISBNTaken, nil)
	}
	return book, nil
}

// DeleteBook removes a book that no loan references
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	if err := s.store.DeleteBook(ctx, id); err != nil {
		return translate("failed to delete book", err, apperr.ErrBookNotFound, nil, apperr.ErrBookInUse)
	}
	s.logger.Info("Book deleted", zap.Int64("book_id", id))
	return nil
}

func normalizeBook(b *models.Book) {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.ISBN = trimmedOrNil(b.ISBN)
	b.Genre = trimmedOrNil(b.Genre)
}

func (s *Service) validateBook(b *models.Book) error {
	var c apperr.Checker
	c.Check(b.Title != "", "title", "is required")
	c.Check(b.Author != "", "author", "is required")
	if b.PublicationYear != nil {
		year := *b.PublicationYear
		c.Check(year >= minPublicationYear && year <= s.now().Year(), "publication_year", "must be a valid year")
	}
	return c.Err()
}

// bookExists reports whether a book with the given isbn is already stored
func (s *Service) bookExists(ctx context.Context, isbn *string) (bool, error) {
	if isbn == nil {
		return false, nil
	}
	_, err := s.store.GetBookByISBN(ctx, *isbn)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
