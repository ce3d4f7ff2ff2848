package sqldb

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"biblio/internal/models"
	"biblio/internal/storage"
)

const membersTable = "members"

var memberColumns = []any{
	"id", "first_name", "last_name", "email", "phone", "address", "created_at", "updated_at",
}

func (s *SQLDB) members() *goqu.SelectDataset {
	return s.builder.From(membersTable).Select(memberColumns...)
}

func (s *SQLDB) memberSearch(search string) exp.Expression {
	if search == "" {
		return nil
	}
	return s.containsAny(search, goqu.C("first_name"), goqu.C("last_name"), goqu.C("email"))
}

// CreateMember inserts a member. A taken email yields ErrDuplicate.
func (s *SQLDB) CreateMember(ctx context.Context, member *models.Member) error {
	now := s.stamp()
	id, err := s.insert(ctx, membersTable, goqu.Record{
		"first_name": member.FirstName,
		"last_name":  member.LastName,
		"email":      member.Email,
		"phone":      nullableString(member.Phone),
		"address":    nullableString(member.Address),
		"created_at": now,
		"updated_at": now,
	})
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	member.ID = id
	member.CreatedAt = now
	member.UpdatedAt = now
	return nil
}

// GetMember retrieves a member by id
func (s *SQLDB) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	var member models.Member
	if err := s.get(ctx, &member, s.members().Where(goqu.C("id").Eq(id))); err != nil {
		return nil, err
	}
	return &member, nil
}

// GetMemberByEmail retrieves a member by email
func (s *SQLDB) GetMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	var member models.Member
	if err := s.get(ctx, &member, s.members().Where(goqu.C("email").Eq(email))); err != nil {
		return nil, err
	}
	return &member, nil
}

// ListMembers returns members ordered by last name, then first name
func (s *SQLDB) ListMembers(ctx context.Context, filter models.MemberFilter) ([]models.Member, error) {
	ds := s.members().Order(goqu.C("last_name").Asc(), goqu.C("first_name").Asc(), goqu.C("id").Asc())
	if where := s.memberSearch(filter.Search); where != nil {
		ds = ds.Where(where)
	}
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	members := []models.Member{}
	if err := s.selectAll(ctx, &members, ds); err != nil {
		return nil, err
	}
	return members, nil
}

// CountMembers counts members matching search
func (s *SQLDB) CountMembers(ctx context.Context, search string) (int, error) {
	ds := s.builder.From(membersTable)
	if where := s.memberSearch(search); where != nil {
		ds = ds.Where(where)
	}
	return s.count(ctx, ds)
}

// UpdateMember writes all mutable member fields
func (s *SQLDB) UpdateMember(ctx context.Context, member *models.Member) error {
	now := s.stamp()
	query, args, err := s.builder.Update(membersTable).
		Set(goqu.Record{
			"first_name": member.FirstName,
			"last_name":  member.LastName,
			"email":      member.Email,
			"phone":      nullableString(member.Phone),
			"address":    nullableString(member.Address),
			"updated_at": now,
		}).
		Where(goqu.C("id").Eq(member.ID)).
		Prepared(true).ToSQL()

	n, err := s.exec(ctx, query, args, err)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	member.UpdatedAt = now
	return nil
}

// DeleteMember removes a member. Members referenced by loans yield ErrReferenced.
func (s *SQLDB) DeleteMember(ctx context.Context, id int64) error {
	query, args, err := s.builder.Delete(membersTable).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()

	n, err := s.exec(ctx, query, args, err)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
