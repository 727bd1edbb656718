package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/subscription"
)

type subscriptionRepository struct {
	db *DB
	t  *subscriptionTable
}

func NewSubscriptionRepository(db *DB) subscription.Repository {
	return &subscriptionRepository{db: db, t: db.subscription}
}

func (repo *subscriptionRepository) Current(ctx context.Context, studentID string) (subscription.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return subscription.Subscription{}, err
	}

	repo.t.RLock()
	defer repo.t.RUnlock()

	subs := repo.t.table[studentID]
	if len(subs) == 0 {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return subs[len(subs)-1], nil
}

func (repo *subscriptionRepository) History(ctx context.Context, studentID string) ([]subscription.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo.t.RLock()
	defer repo.t.RUnlock()

	subs := repo.t.table[studentID]
	history := make([]subscription.Subscription, 0, len(subs))
	for i := len(subs) - 1; i >= 0; i-- {
		history = append(history, subs[i])
	}
	return history, nil
}

func (repo *subscriptionRepository) QueryByStatus(ctx context.Context, status subscription.Status) ([]subscription.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo.t.RLock()
	defer repo.t.RUnlock()

	found := make([]subscription.Subscription, 0)
	for _, subs := range repo.t.table {
		for _, sub := range subs {
			if sub.Status == status {
				found = append(found, sub)
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	return found, nil
}

func (repo *subscriptionRepository) Create(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return subscription.Subscription{}, err
	}

	repo.t.Lock()
	defer repo.t.Unlock()

	subs := repo.t.table[sub.StudentID]
	if sub.Generation != len(subs)+1 {
		return subscription.Subscription{}, core.ErrVersionConflict
	}
	if err := repo.db.checkFault("subscriptions", 0); err != nil {
		return subscription.Subscription{}, err
	}
	repo.t.table[sub.StudentID] = append(subs, sub)
	return sub, nil
}

func (repo *subscriptionRepository) Update(ctx context.Context, sub subscription.Subscription, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	repo.t.Lock()
	defer repo.t.Unlock()

	subs := repo.t.table[sub.StudentID]
	i := sub.Generation - 1
	if i < 0 || i >= len(subs) || subs[i].ID != sub.ID {
		return subscription.ErrNotFound
	}
	if subs[i].Version != expectedVersion {
		return core.ErrVersionConflict
	}
	if err := repo.db.checkFault("subscriptions", i); err != nil {
		return err
	}
	subs[i] = sub
	return nil
}
