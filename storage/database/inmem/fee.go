package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
)

type feeRepository struct {
	db *DB
	t  *feeTables
}

func NewFeeRepository(db *DB) fee.Repository {
	return &feeRepository{db: db, t: db.fee}
}

func copyLedger(l *fee.Ledger) fee.Ledger {
	cp := *l
	cp.Payments = make([]fee.Payment, len(l.Payments))
	copy(cp.Payments, l.Payments)
	return cp
}

func (repo *feeRepository) CreateSchedule(ctx context.Context, sched fee.Schedule, ledgers []fee.Ledger) (fee.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return fee.Schedule{}, err
	}

	repo.t.Lock()
	defer repo.t.Unlock()

	// stage every row first; nothing is visible until all of them passed
	sched.Generation = len(repo.t.schedules) + 1
	if err := repo.db.checkFault("fee_schedules", 0); err != nil {
		return fee.Schedule{}, err
	}

	staged := make([]*fee.Ledger, 0, len(ledgers))
	seen := make(map[string]struct{}, len(ledgers))
	for i := range ledgers {
		if err := repo.db.checkFault("ledgers", i); err != nil {
			return fee.Schedule{}, err
		}
		l := ledgers[i]
		if _, dup := seen[l.StudentID]; dup {
			return fee.Schedule{}, errors.Errorf("duplicate ledger for student %s", l.StudentID)
		}
		if _, exists := repo.t.ledgers[l.ID]; exists {
			return fee.Schedule{}, errors.Errorf("duplicate ledger id %s", l.ID)
		}
		seen[l.StudentID] = struct{}{}

		l.ScheduleID = sched.ID
		l.Generation = sched.Generation
		cp := copyLedger(&l)
		staged = append(staged, &cp)
	}
	if err := ctx.Err(); err != nil {
		return fee.Schedule{}, err
	}

	// commit
	sched.StudentCount = len(staged)
	repo.t.schedules = append(repo.t.schedules, sched)
	for _, l := range staged {
		repo.t.ledgers[l.ID] = l
		repo.t.studentLedgers[l.StudentID] = append(repo.t.studentLedgers[l.StudentID], l.ID)
	}
	return sched, nil
}

func (repo *feeRepository) CurrentSchedule(ctx context.Context) (fee.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return fee.Schedule{}, err
	}

	repo.t.RLock()
	defer repo.t.RUnlock()

	if n := len(repo.t.schedules); n > 0 {
		return repo.t.schedules[n-1], nil
	}
	return fee.Schedule{}, fee.ErrNoSchedule
}

func (repo *feeRepository) GetCurrentLedger(ctx context.Context, studentID string) (fee.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return fee.Ledger{}, err
	}

	repo.t.RLock()
	defer repo.t.RUnlock()

	ids := repo.t.studentLedgers[studentID]
	if len(ids) == 0 {
		return fee.Ledger{}, fee.ErrNoLedger
	}
	return copyLedger(repo.t.ledgers[ids[len(ids)-1]]), nil
}

func (repo *feeRepository) LedgerHistory(ctx context.Context, studentID string) ([]fee.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo.t.RLock()
	defer repo.t.RUnlock()

	ids := repo.t.studentLedgers[studentID]
	ledgers := make([]fee.Ledger, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		ledgers = append(ledgers, copyLedger(repo.t.ledgers[ids[i]]))
	}
	return ledgers, nil
}

func (repo *feeRepository) QueryLedgers(ctx context.Context, filter fee.LedgerFilter, orderings ...core.DBOrdering) ([]fee.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo.t.RLock()
	defer repo.t.RUnlock()

	ledgers := make([]fee.Ledger, 0)
	for _, l := range repo.t.ledgers {
		if filter.ScheduleID != "" && l.ScheduleID != filter.ScheduleID {
			continue
		}
		if filter.StudentID != "" && l.StudentID != filter.StudentID {
			continue
		}
		if filter.Outstanding && l.IsSettled() {
			continue
		}
		ledgers = append(ledgers, copyLedger(l))
	}

	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "generation"}, {Field: "student_id", Ascending: true}}
	}
	sort.SliceStable(ledgers, func(i, j int) bool {
		for _, ord := range orderings {
			c := compareLedgers(ledgers[i], ledgers[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return ledgers[i].ID < ledgers[j].ID
	})
	return ledgers, nil
}

func compareLedgers(a, b fee.Ledger, field string) int {
	switch field {
	case "student_id":
		return strings.Compare(a.StudentID, b.StudentID)
	case "generation":
		return a.Generation - b.Generation
	case "posted_at":
		return compareInt64(a.PostedAt.UnixNano(), b.PostedAt.UnixNano())
	case "updated_at":
		return compareInt64(a.UpdatedAt.UnixNano(), b.UpdatedAt.UnixNano())
	case "remaining_amount":
		return a.RemainingAmount.Cmp(b.RemainingAmount)
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (repo *feeRepository) AddPayment(ctx context.Context, updated fee.Ledger, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	repo.t.Lock()
	defer repo.t.Unlock()

	stored, ok := repo.t.ledgers[updated.ID]
	if !ok {
		return fee.ErrNoLedger
	}
	if stored.Version != expectedVersion {
		return core.ErrVersionConflict
	}
	if err := repo.db.checkFault("ledger_payments", len(updated.Payments)-1); err != nil {
		return err
	}

	cp := copyLedger(&updated)
	repo.t.ledgers[updated.ID] = &cp
	return nil
}
