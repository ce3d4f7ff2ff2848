package catalog

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"biblio/internal/apperr"
	"biblio/internal/models"
	"biblio/internal/storage"
)

const minPhoneDigits = 7

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[\d\s\-+()]+$`)
)

// ListMembers returns a page of members and the total matching count
func (s *Service) ListMembers(ctx context.Context, filter models.MemberFilter) ([]models.Member, int, error) {
	filter.Search = strings.TrimSpace(filter.Search)

	members, err := s.store.ListMembers(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Storage("failed to list members", err)
	}
	total, err := s.store.CountMembers(ctx, filter.Search)
	if err != nil {
		return nil, 0, apperr.Storage("failed to count members", err)
	}
	return members, total, nil
}

// SearchMembers is ListMembers with a mandatory search term
func (s *Service) SearchMembers(ctx context.Context, filter models.MemberFilter) ([]models.Member, int, error) {
	if strings.TrimSpace(filter.Search) == "" {
		return nil, 0, apperr.Validation("q: search term is required")
	}
	return s.ListMembers(ctx, filter)
}

// GetMember retrieves a member by id
func (s *Service) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	member, err := s.store.GetMember(ctx, id)
	if err != nil {
		return nil, translate("failed to load member", err, apperr.ErrMemberNotFound, nil, nil)
	}
	return member, nil
}

// GetMemberByEmail retrieves a member by email
func (s *Service) GetMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	member, err := s.store.GetMemberByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, translate("failed to load member", err, apperr.ErrMemberNotFound, nil, nil)
	}
	return member, nil
}

// CreateMember validates and stores a member with an unused email
func (s *Service) CreateMember(ctx context.Context, member *models.Member) error {
	normalizeMember(member)
	if err := validateMember(member); err != nil {
		return err
	}

	taken, err := s.emailTaken(ctx, member.Email, 0)
	if err != nil {
		return apperr.Storage("failed to check email", err)
	}
	if taken {
		return apperr.ErrEmailTaken
	}

	if err := s.store.CreateMember(ctx, member); err != nil {
		return translate("failed to create member", err, nil, apperr.ErrEmailTaken, nil)
	}
	s.logger.Info("Member created", zap.Int64("member_id", member.ID))
	return nil
}

// UpdateMember applies patch to a member. The new email must not belong to
// another member.
func (s *Service) UpdateMember(ctx context.Context, id int64, patch models.MemberPatch) (*models.Member, error) {
	member, err := s.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(member)
	normalizeMember(member)
	if err := validateMember(member); err != nil {
		return nil, err
	}

	taken, err := s.emailTaken(ctx, member.Email, member.ID)
	if err != nil {
		return nil, apperr.Storage("failed to check email", err)
	}
	if taken {
		return nil, apperr.ErrEmailTaken
	}

	if err := s.store.UpdateMember(ctx, member); err != nil {
		return nil, translate("failed to update member", err, apperr.ErrMemberNotFound, apperr.ErrEmailTaken, nil)
	}
	return member, nil
}

// DeleteMember removes a member that no loan references
func (s *Service) DeleteMember(ctx context.Context, id int64) error {
	if err := s.store.DeleteMember(ctx, id); err != nil {
		return translate("failed to delete member", err, apperr.ErrMemberNotFound, nil, apperr.ErrMemberInUse)
	}
	s.logger.Info("Member deleted", zap.Int64("member_id", id))
	return nil
}

func (s *Service) emailTaken(ctx context.Context, email string, except int64) (bool, error) {
	existing, err := s.store.GetMemberByEmail(ctx, email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	default:
		return existing.ID != except, nil
	}
}

func normalizeMember(m *models.Member) {
	m.FirstName = strings.TrimSpace(m.FirstName)
	m.LastName = strings.TrimSpace(m.LastName)
	m.Email = strings.TrimSpace(m.Email)
	m.Phone = trimmedOrNil(m.Phone)
	m.Address = trimmedOrNil(m.Address)
}

func validateMember(m *models.Member) error {
	var c apperr.Checker
	c.Check(m.FirstName != "", "first_name", "is required")
	c.Check(m.LastName != "", "last_name", "is required")
	if m.Email == "" {
		c.Check(false, "email", "is required")
	} else {
		c.Check(emailPattern.MatchString(m.Email), "email", "must be a valid address")
	}
	if m.Phone != nil {
		c.Check(validPhone(*m.Phone), "phone", "must be a valid phone number")
	}
	return c.Err()
}

func validPhone(phone string) bool {
	if !phonePattern.MatchString(phone) {
		return false
	}
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits
}
