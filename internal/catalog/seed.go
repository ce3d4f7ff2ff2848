package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"biblio/internal/models"
)

type sampleBook struct {
	title, author, isbn, genre string
	year                       int
}

var sampleBooks = []sampleBook{
	{"Il Signore degli Anelli", "J.R.R. Tolkien", "978-88-04-12345-6", "Fantasy", 1954},
	{"1984", "George Orwell", "978-88-04-12346-3", "Distopia", 1949},
	{"Il Piccolo Principe", "Antoine de Saint-Exupéry", "", "Favola", 1943},
	{"Dune", "Frank Herbert", "978-88-04-12348-7", "Fantascienza", 1965},
	{"Neuromante", "William Gibson", "", "Cyberpunk", 1984},
	{"Manuale di Programmazione", "Autore Sconosciuto", "", "Tecnico", 2020},
}

var sampleMembers = []models.Member{
	{FirstName: "Mario", LastName: "Rossi", Email: "mario.rossi@email.com", Phone: ptr("333-1234567"), Address: ptr("Via Roma 1, Milano")},
	{FirstName: "Giulia", LastName: "Bianchi", Email: "giulia.bianchi@email.com", Phone: ptr("333-2345678"), Address: ptr("Via Milano 2, Roma")},
	{FirstName: "Luca", LastName: "Verdi", Email: "luca.verdi@email.com", Phone: ptr("333-3456789"), Address: ptr("Via Napoli 3, Firenze")},
}

// Seed inserts the sample catalog. Books with a known ISBN and members with a
// known email are skipped, so Seed can run on every start.
func (s *Service) Seed(ctx context.Context) error {
	books, members := 0, 0

	for _, sb := range sampleBooks {
		book := &models.Book{Title: sb.title, Author: sb.author, Genre: ptr(sb.genre), PublicationYear: &sb.year}
		if sb.isbn != "" {
			book.ISBN = ptr(sb.isbn)
			exists, err := s.bookExists(ctx, book.ISBN)
			if err != nil {
				return fmt.Errorf("failed to check sample book: %w", err)
			}
			if exists {
				continue
			}
		} else {
			n, err := s.store.CountBooks(ctx, sb.title)
			if err != nil {
				return fmt.Errorf("failed to check sample book: %w", err)
			}
			if n > 0 {
				continue
			}
		}
		if err := s.CreateBook(ctx, book); err != nil {
			return fmt.Errorf("failed to seed book %q: %w", sb.title, err)
		}
		books++
	}

	for _, sm := range sampleMembers {
		member := sm
		taken, err := s.emailTaken(ctx, member.Email, 0)
		if err != nil {
			return fmt.Errorf("failed to check sample member: %w", err)
		}
		if taken {
			continue
		}
		if err := s.CreateMember(ctx, &member); err != nil {
			return fmt.Errorf("failed to seed member %s: %w", member.Email, err)
		}
		members++
	}

	s.logger.Info("Sample data seeded", zap.Int("books", books), zap.Int("members", members))
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
