package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/subscription"
)

const (
	subscriptionColumns = "id, student_id, generation, status, confirmation_id, start_date, end_date, term_label, plan, created_at, approved_at, reviewed_by, version"

	insertSubscriptionQuery = `INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES (:id, :student_id, :generation, :status, :confirmation_id, :start_date, :end_date, :term_label, :plan, :created_at, :approved_at, :reviewed_by, :version)`
)

type subscriptionRow struct {
	ID             string      `db:"id"`
	StudentID      string      `db:"student_id"`
	Generation     int         `db:"generation"`
	Status         string      `db:"status"`
	ConfirmationID string      `db:"confirmation_id"`
	StartDate      time.Time   `db:"start_date"`
	EndDate        time.Time   `db:"end_date"`
	TermLabel      string      `db:"term_label"`
	Plan           string      `db:"plan"`
	CreatedAt      time.Time   `db:"created_at"`
	ApprovedAt     null.Time   `db:"approved_at"`
	ReviewedBy     null.String `db:"reviewed_by"`
	Version        int         `db:"version"`
}

func boilSubscription(sub subscription.Subscription) subscriptionRow {
	return subscriptionRow{
		ID:             sub.ID,
		StudentID:      sub.StudentID,
		Generation:     sub.Generation,
		Status:         string(sub.Status),
		ConfirmationID: sub.ConfirmationID,
		StartDate:      sub.StartDate,
		EndDate:        sub.EndDate,
		TermLabel:      sub.TermLabel,
		Plan:           sub.Plan,
		CreatedAt:      sub.CreatedAt,
		ApprovedAt:     sub.ApprovedAt,
		ReviewedBy:     sub.ReviewedBy,
		Version:        sub.Version,
	}
}

func unboilSubscription(r subscriptionRow) subscription.Subscription {
	sub := subscription.Subscription{
		ID:             r.ID,
		StudentID:      r.StudentID,
		Generation:     r.Generation,
		Status:         subscription.Status(r.Status),
		ConfirmationID: r.ConfirmationID,
		StartDate:      r.StartDate.UTC(),
		EndDate:        r.EndDate.UTC(),
		TermLabel:      r.TermLabel,
		Plan:           r.Plan,
		CreatedAt:      r.CreatedAt.UTC(),
		ApprovedAt:     r.ApprovedAt,
		ReviewedBy:     r.ReviewedBy,
		Version:        r.Version,
	}
	if sub.ApprovedAt.Valid {
		sub.ApprovedAt.Time = sub.ApprovedAt.Time.UTC()
	}
	return sub
}

func unboilSubscriptions(rows []subscriptionRow) []subscription.Subscription {
	subs := make([]subscription.Subscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, unboilSubscription(r))
	}
	return subs
}

type subscriptionRepository struct {
	db *sqlx.DB
}

var _ subscription.Repository = (*subscriptionRepository)(nil)

func NewSubscriptionRepository(db *sqlx.DB) subscription.Repository {
	return &subscriptionRepository{db: db}
}

func (repo *subscriptionRepository) Current(ctx context.Context, studentID string) (subscription.Subscription, error) {
	var row subscriptionRow
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE student_id = $1 ORDER BY generation DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, studentID); err != nil {
		return subscription.Subscription{}, trapNoRowsErr(err, subscription.ErrNotFound)
	}
	return unboilSubscription(row), nil
}

func (repo *subscriptionRepository) History(ctx context.Context, studentID string) ([]subscription.Subscription, error) {
	var rows []subscriptionRow
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE student_id = $1 ORDER BY generation DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, studentID); err != nil {
		return nil, errors.Wrap(err, "selecting subscriptions")
	}
	return unboilSubscriptions(rows), nil
}

func (repo *subscriptionRepository) QueryByStatus(ctx context.Context, status subscription.Status) ([]subscription.Subscription, error) {
	var rows []subscriptionRow
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status = $1 ORDER BY created_at`
	if err := repo.db.SelectContext(ctx, &rows, q, string(status)); err != nil {
		return nil, errors.Wrap(err, "selecting subscriptions")
	}
	return unboilSubscriptions(rows), nil
}

func (repo *subscriptionRepository) Create(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	if _, err := repo.db.NamedExecContext(ctx, insertSubscriptionQuery, boilSubscription(sub)); err != nil {
		return subscription.Subscription{}, errors.Wrap(trapUniqueViolation(err), "inserting subscription")
	}
	return sub, nil
}

func (repo *subscriptionRepository) Update(ctx context.Context, sub subscription.Subscription, expectedVersion int) error {
	res, err := repo.db.ExecContext(
		ctx,
		`UPDATE subscriptions SET status = $1, approved_at = $2, reviewed_by = $3, version = $4 WHERE id = $5 AND version = $6`,
		string(sub.Status), sub.ApprovedAt, sub.ReviewedBy, sub.Version, sub.ID, expectedVersion,
	)
	if err != nil {
		return errors.Wrap(err, "updating subscription")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "updating subscription")
	}
	if n == 1 {
		return nil
	}

	var found bool
	if err = repo.db.GetContext(ctx, &found, `SELECT true FROM subscriptions WHERE id = $1`, sub.ID); err != nil {
		return trapNoRowsErr(err, subscription.ErrNotFound)
	}
	return core.ErrVersionConflict
}
