// Package catalog manages the book and member registries.
package catalog

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"biblio/internal/apperr"
	"biblio/internal/storage"
)

// Service exposes book and member CRUD with validation
type Service struct {
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
}

// Option configures Service
type Option func(*Service)

// WithClock overrides the clock used to validate publication years
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a catalog service
func NewService(store storage.Storage, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// translate maps storage failures onto named domain errors
func translate(op string, err error, notFound, duplicate, referenced *apperr.Error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, storage.ErrDuplicate) && duplicate != nil:
		return duplicate
	case errors.Is(err, storage.ErrReferenced) && referenced != nil:
		return referenced
	default:
		return apperr.Storage(op, err)
	}
}
