package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/subscription"
	"github.com/trezcool/masomo-billing/core/term"
	emailsvc "github.com/trezcool/masomo-billing/services/email"
	"github.com/trezcool/masomo-billing/storage/database/sqlx"
	"github.com/trezcool/masomo-billing/storage/roster/staticroster"
	"github.com/trezcool/masomo-billing/tests"
)

func newSubscription(studentID string, gen int, createdAt time.Time) subscription.Subscription {
	return subscription.Subscription{
		ID:             uuid.New().String(),
		StudentID:      studentID,
		Generation:     gen,
		Status:         subscription.StatusPending,
		ConfirmationID: "TX-1",
		StartDate:      createdAt,
		EndDate:        time.Date(2024, 4, 30, 23, 59, 59, 999999000, time.UTC),
		TermLabel:      "Term 1",
		Plan:           "masomo-term",
		CreatedAt:      createdAt,
		Version:        1,
	}
}

func TestSubscriptionRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewSubscriptionRepository(db)
	ctx := context.Background()
	feb15 := time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC)

	_, err := repo.Current(ctx, "stud-a")
	assert.Equal(t, subscription.ErrNotFound, errors.Cause(err))

	first := testutil.SeedSubscription(t, repo, newSubscription("stud-a", 1, feb15))

	// generation already taken
	_, err = repo.Create(ctx, newSubscription("stud-a", 1, feb15))
	assert.Equal(t, core.ErrVersionConflict, errors.Cause(err))

	reviewed := first
	reviewed.Status = subscription.StatusApproved
	reviewed.ApprovedAt = null.TimeFrom(feb15.Add(time.Hour))
	reviewed.ReviewedBy = null.StringFrom("admin-1")
	reviewed.Version++
	require.NoError(t, repo.Update(ctx, reviewed, first.Version))

	err = repo.Update(ctx, reviewed, first.Version)
	assert.Equal(t, core.ErrVersionConflict, errors.Cause(err))

	ghost := newSubscription("stud-a", 9, feb15)
	err = repo.Update(ctx, ghost, 1)
	assert.Equal(t, subscription.ErrNotFound, errors.Cause(err))

	cur, err := repo.Current(ctx, "stud-a")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusApproved, cur.Status)
	assert.Equal(t, "admin-1", cur.ReviewedBy.String)
	assert.True(t, cur.ApprovedAt.Valid)
	assert.True(t, cur.EndDate.Equal(first.EndDate))

	testutil.SeedSubscription(t, repo, newSubscription("stud-a", 2, feb15.AddDate(0, 3, 0)))
	testutil.SeedSubscription(t, repo, newSubscription("stud-b", 1, feb15.Add(time.Minute)))

	history, err := repo.History(ctx, "stud-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Generation)

	pending, err := repo.QueryByStatus(ctx, subscription.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "stud-b", pending[0].StudentID)
}

// term ends come back from postgres unchanged, so expiry happens at the same instant as in memory.
func TestSubscriptionRepository_keepsTermEnd(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewSubscriptionRepository(db)
	conf := core.NewTestConfig()
	svc := subscription.NewService(
		conf, repo, subscription.NopCache{}, staticroster.FromIDs("stud-a", "stud-b"), testutil.NewValidator(),
		emailsvc.NewConsoleServiceMock(conf), new(testutil.Logger), core.NopMetrics{},
	)
	ctx := context.Background()

	tests := []struct {
		studentID string
		now       time.Time
	}{
		{studentID: "stud-a", now: time.Date(2024, 2, 15, 10, 0, 0, 123456789, time.UTC)},
		{studentID: "stud-b", now: time.Date(2024, 8, 31, 23, 59, 59, 999999999, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.studentID, func(t *testing.T) {
			subscription.NowFunc = func() time.Time { return tt.now }
			defer func() { subscription.NowFunc = time.Now }()

			created, err := svc.Submit(ctx, tt.studentID, subscription.NewSubscription{ConfirmationID: "TX-1"})
			require.NoError(t, err)
			approved, err := svc.Approve(ctx, tt.studentID, core.Actor{ID: "admin-1"})
			require.NoError(t, err)

			stored, err := repo.Current(ctx, tt.studentID)
			require.NoError(t, err)
			assert.True(t, stored.EndDate.Equal(term.MustFor(tt.now).End), "end = %v", stored.EndDate)
			assert.True(t, stored.EndDate.Equal(created.EndDate))
			assert.True(t, stored.StartDate.Equal(created.StartDate))
			assert.True(t, stored.ApprovedAt.Time.Equal(approved.ApprovedAt.Time))

			nextTermStart := stored.EndDate.Add(term.Resolution)
			assert.Equal(t, subscription.StatusApproved, stored.EffectiveStatus(stored.EndDate))
			assert.Equal(t, subscription.StatusExpired, stored.EffectiveStatus(nextTermStart))

			entitled, err := svc.IsEntitled(ctx, tt.studentID, nextTermStart)
			require.NoError(t, err)
			assert.False(t, entitled)
		})
	}
}
