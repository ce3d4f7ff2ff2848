package lending

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biblio/internal/apperr"
	"biblio/internal/models"
)

func TestFindLoans(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()

	rosa := f.book(t, "Il nome della rosa")
	dune := f.book(t, "Dune")
	member := f.member(t, "q@example.com")

	first, err := f.engine.IssueLoan(ctx, IssueRequest{BookID: rosa.ID, MemberID: member.ID})
	require.NoError(t, err)
	f.advance(time.Hour)
	second, err := f.engine.IssueLoan(ctx, IssueRequest{BookID: dune.ID, MemberID: member.ID})
	require.NoError(t, err)
	_, err = f.engine.ReturnLoan(ctx, first.ID)
	require.NoError(t, err)

	t.Run("newest first", func(t *testing.T) {
		views, total, err := f.engine.FindLoans(ctx, models.LoanFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, views, 2)
		assert.Equal(t, second.ID, views[0].ID)
		assert.Equal(t, "Dune", *views[0].BookTitle)
	})

	t.Run("status and search", func(t *testing.T) {
		views, total, err := f.engine.FindLoans(ctx, models.LoanFilter{Status: models.LoanReturned, Search: " ROSA "})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, views, 1)
		assert.Equal(t, first.ID, views[0].ID)
		assert.False(t, views[0].Overdue)
	})

	t.Run("page total ignores limit", func(t *testing.T) {
		views, total, err := f.engine.FindLoans(ctx, models.LoanFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, views, 1)
		assert.Equal(t, first.ID, views[0].ID)
	})

	t.Run("bad status", func(t *testing.T) {
		_, _, err := f.engine.FindLoans(ctx, models.LoanFilter{Status: "lost"})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("by book", func(t *testing.T) {
		book, views, err := f.engine.FindByBook(ctx, rosa.ID, "")
		require.NoError(t, err)
		assert.Equal(t, rosa.ID, book.ID)
		assert.Len(t, views, 1)

		_, _, err = f.engine.FindByBook(ctx, 999, "")
		assert.ErrorIs(t, err, apperr.ErrBookNotFound)
	})

	t.Run("by member", func(t *testing.T) {
		m, views, err := f.engine.FindByMember(ctx, member.ID, models.LoanActive)
		require.NoError(t, err)
		assert.Equal(t, member.ID, m.ID)
		require.Len(t, views, 1)
		assert.Equal(t, second.ID, views[0].ID)

		_, _, err = f.engine.FindByMember(ctx, 999, "")
		assert.ErrorIs(t, err, apperr.ErrMemberNotFound)
	})
}

func TestOverdueDerivation(t *testing.T) {
	f := newMockFixture(t)
	ctx := context.Background()
	book := f.book(t, "Slow read")
	member := f.member(t, "slow@example.com")

	loan, err := f.engine.IssueLoan(ctx, IssueRequest{BookID: book.ID, MemberID: member.ID})
	require.NoError(t, err)

	testCases := []struct {
		name     string
		after    time.Duration
		overdue  bool
		daysLate int
	}{
		{"exactly at due date", DefaultLoanPeriod, false, 0},
		{"one minute late", DefaultLoanPeriod + time.Minute, true, 1},
		{"one day late", DefaultLoanPeriod + 24*time.Hour, true, 1},
		{"a day and a bit", DefaultLoanPeriod + 25*time.Hour, true, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			*f.clock = testNow.Add(tc.after)
			view, err := f.engine.GetLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.overdue, view.Overdue)
			assert.Equal(t, tc.daysLate, view.DaysLate)
		})
	}

	// once returned a loan is never overdue again
	_, err = f.engine.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	*f.clock = testNow.AddDate(1, 0, 0)
	view, err := f.engine.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, view.Overdue)
	assert.Zero(t, view.DaysLate)
}
