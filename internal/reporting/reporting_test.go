package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biblio/internal/apperr"
	"biblio/internal/models"
	"biblio/internal/storage"
	"biblio/internal/storage/stubs"
)

var testNow = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

// seedLoans creates one book and loan per due offset. Negative offsets are in
// the past. Returned loans are closed immediately.
func seedLoans(t *testing.T, db *stubs.MockDB, dues []time.Duration, returned []bool) []models.Loan {
	t.Helper()
	ctx := context.Background()

	member := &models.Member{FirstName: "Giulia", LastName: "Bianchi", Email: "giulia@example.com"}
	require.NoError(t, db.CreateMember(ctx, member))

	var loans []models.Loan
	for i, due := range dues {
		book := &models.Book{Title: "Book", Author: "Author", Available: true}
		require.NoError(t, db.CreateBook(ctx, book))

		loan := models.Loan{
			BookID:   book.ID,
			MemberID: member.ID,
			LoanDate: testNow.Add(-40 * 24 * time.Hour).Add(time.Duration(i) * time.Minute),
			DueDate:  testNow.Add(due),
			Status:   models.LoanActive,
		}
		require.NoError(t, db.CreateLoan(ctx, &loan))
		if returned[i] {
			ok, err := db.MarkLoanReturned(ctx, loan.ID, testNow)
			require.NoError(t, err)
			require.True(t, ok)
		}
		loans = append(loans, loan)
	}
	return loans
}

func newTestService(db storage.LoanStore, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(db, zap.NewNop(), opts...)
}

func TestOverduePercentage(t *testing.T) {
	testCases := []struct {
		overdue, active, want int
	}{
		{0, 0, 0},
		{0, 5, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{1, 200, 1},
		{4, 4, 100},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, OverduePercentage(tc.overdue, tc.active), "%d/%d", tc.overdue, tc.active)
	}
}

func TestOverduePaginatesAfterFiltering(t *testing.T) {
	db := stubs.NewMockDB()
	day := 24 * time.Hour

	// on-time loans sit between the overdue ones, so a page taken before
	// filtering would come up short
	loans := seedLoans(t, db,
		[]time.Duration{-3 * day, -1 * day, -5 * day, 2 * day, 3 * day, -2 * day},
		[]bool{false, false, true, false, false, false},
	)
	svc := newTestService(db)
	ctx := context.Background()

	all, total, err := svc.Overdue(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, loans[0].ID, all[0].ID)
	assert.Equal(t, loans[5].ID, all[1].ID)
	assert.Equal(t, loans[1].ID, all[2].ID)
	assert.Equal(t, 3, all[0].DaysLate)
	assert.True(t, all[0].Overdue)

	page, total, err := svc.Overdue(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, loans[5].ID, page[0].ID)

	empty, total, err := svc.Overdue(ctx, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, empty)
}

func TestStats(t *testing.T) {
	db := stubs.NewMockDB()
	day := 24 * time.Hour
	seedLoans(t, db,
		[]time.Duration{-day, day, 2 * day, -day, -3 * day},
		[]bool{false, false, false, true, true},
	)
	svc := newTestService(db)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.LoanStats{
		Total:             5,
		Active:            3,
		Returned:          2,
		Overdue:           1,
		OverduePercentage: 33,
	}, *stats)
}

func TestStatsEmpty(t *testing.T) {
	stats, err := newTestService(stubs.NewMockDB()).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.LoanStats{}, *stats)
}

func TestTopBooks(t *testing.T) {
	ctx := context.Background()

	t.Run("without journal", func(t *testing.T) {
		_, err := newTestService(stubs.NewMockDB()).TopBooks(ctx, 10, testNow.AddDate(0, -1, 0), testNow)
		assert.ErrorIs(t, err, storage.ErrUnavailable)

		_, err = newTestService(stubs.NewMockDB()).RecentActivity(ctx, 10, 0)
		assert.ErrorIs(t, err, storage.ErrUnavailable)
	})

	j := stubs.NewMockJournal()
	for i, id := range []int64{1, 2, 2, 3, 2, 1} {
		require.NoError(t, j.Record(ctx, models.LoanEvent{
			EventID:    "e",
			Kind:       models.EventIssued,
			LoanID:     int64(i + 1),
			BookID:     id,
			BookTitle:  map[int64]string{1: "Uno", 2: "Due", 3: "Tre"}[id],
			OccurredAt: testNow.Add(-time.Duration(i) * time.Hour),
		}))
	}
	svc := newTestService(stubs.NewMockDB(), WithJournal(j))

	t.Run("ranked", func(t *testing.T) {
		stats, err := svc.TopBooks(ctx, 2, testNow.AddDate(0, 0, -1), testNow)
		require.NoError(t, err)
		require.Len(t, stats, 2)
		assert.Equal(t, models.BookStat{BookID: 2, BookTitle: "Due", LoanCount: 3}, stats[0])
		assert.Equal(t, models.BookStat{BookID: 1, BookTitle: "Uno", LoanCount: 2}, stats[1])
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := svc.TopBooks(ctx, 2, testNow, testNow.AddDate(0, 0, -1))
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("recent activity", func(t *testing.T) {
		events, err := svc.RecentActivity(ctx, 3, 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(1), events[0].LoanID)
	})
}
