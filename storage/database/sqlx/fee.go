package sqlxrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
)

// ledgers are inserted by batches to stay below postgres' bind parameters limit
const insertBatchSize = 1000

const (
	scheduleColumns = "id, generation, amount, description, posted_at, posted_by, student_count"
	ledgerColumns   = "id, student_id, schedule_id, generation, total_amount, remaining_amount, description, posted_at, updated_at, version"
	paymentColumns  = "id, ledger_id, sequence, amount, reference, applied_at"

	insertScheduleQuery = `INSERT INTO fee_schedules (` + scheduleColumns + `)
		VALUES (:id, :generation, :amount, :description, :posted_at, :posted_by, :student_count)`
	insertLedgersQuery = `INSERT INTO ledgers (` + ledgerColumns + `)
		VALUES (:id, :student_id, :schedule_id, :generation, :total_amount, :remaining_amount, :description, :posted_at, :updated_at, :version)`
	insertPaymentQuery = `INSERT INTO ledger_payments (` + paymentColumns + `)
		VALUES (:id, :ledger_id, :sequence, :amount, :reference, :applied_at)`
)

type (
	scheduleRow struct {
		ID           string          `db:"id"`
		Generation   int             `db:"generation"`
		Amount       decimal.Decimal `db:"amount"`
		Description  string          `db:"description"`
		PostedAt     time.Time       `db:"posted_at"`
		PostedBy     string          `db:"posted_by"`
		StudentCount int             `db:"student_count"`
	}

	ledgerRow struct {
		ID              string          `db:"id"`
		StudentID       string          `db:"student_id"`
		ScheduleID      string          `db:"schedule_id"`
		Generation      int             `db:"generation"`
		TotalAmount     decimal.Decimal `db:"total_amount"`
		RemainingAmount decimal.Decimal `db:"remaining_amount"`
		Description     string          `db:"description"`
		PostedAt        time.Time       `db:"posted_at"`
		UpdatedAt       time.Time       `db:"updated_at"`
		Version         int             `db:"version"`
	}

	paymentRow struct {
		ID        string          `db:"id"`
		LedgerID  string          `db:"ledger_id"`
		Sequence  int             `db:"sequence"`
		Amount    decimal.Decimal `db:"amount"`
		Reference string          `db:"reference"`
		AppliedAt time.Time       `db:"applied_at"`
	}
)

func boilSchedule(s fee.Schedule) scheduleRow {
	return scheduleRow(s)
}

func unboilSchedule(r scheduleRow) fee.Schedule {
	s := fee.Schedule(r)
	s.PostedAt = s.PostedAt.UTC()
	return s
}

func boilLedger(l fee.Ledger) ledgerRow {
	return ledgerRow{
		ID:              l.ID,
		StudentID:       l.StudentID,
		ScheduleID:      l.ScheduleID,
		Generation:      l.Generation,
		TotalAmount:     l.TotalAmount,
		RemainingAmount: l.RemainingAmount,
		Description:     l.Description,
		PostedAt:        l.PostedAt,
		UpdatedAt:       l.UpdatedAt,
		Version:         l.Version,
	}
}

func unboilLedger(r ledgerRow) fee.Ledger {
	return fee.Ledger{
		ID:              r.ID,
		StudentID:       r.StudentID,
		ScheduleID:      r.ScheduleID,
		Generation:      r.Generation,
		TotalAmount:     r.TotalAmount,
		RemainingAmount: r.RemainingAmount,
		Description:     r.Description,
		PostedAt:        r.PostedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		Payments:        []fee.Payment{},
		Version:         r.Version,
	}
}

func boilPayment(p fee.Payment) paymentRow {
	return paymentRow(p)
}

func unboilPayment(r paymentRow) fee.Payment {
	p := fee.Payment(r)
	p.AppliedAt = p.AppliedAt.UTC()
	return p
}

type feeRepository struct {
	db *sqlx.DB
}

var _ fee.Repository = (*feeRepository)(nil)

func NewFeeRepository(db *sqlx.DB) fee.Repository {
	return &feeRepository{db: db}
}

func (repo *feeRepository) CreateSchedule(ctx context.Context, sched fee.Schedule, ledgers []fee.Ledger) (fee.Schedule, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var gen int
		if err := tx.GetContext(ctx, &gen, `SELECT COALESCE(MAX(generation), 0) + 1 FROM fee_schedules`); err != nil {
			return errors.Wrap(err, "selecting next generation")
		}
		sched.Generation = gen
		sched.StudentCount = len(ledgers)

		// a concurrent post inserting the same generation fails on the unique index
		if _, err := tx.NamedExecContext(ctx, insertScheduleQuery, boilSchedule(sched)); err != nil {
			return errors.Wrap(trapUniqueViolation(err), "inserting fee schedule")
		}

		rows := make([]ledgerRow, 0, len(ledgers))
		for _, l := range ledgers {
			l.ScheduleID = sched.ID
			l.Generation = gen
			rows = append(rows, boilLedger(l))
		}
		for start := 0; start < len(rows); start += insertBatchSize {
			end := min(start+insertBatchSize, len(rows))
			if _, err := tx.NamedExecContext(ctx, insertLedgersQuery, rows[start:end]); err != nil {
				return errors.Wrap(err, "inserting ledgers")
			}
		}
		return nil
	})
	if err != nil {
		return fee.Schedule{}, err
	}
	return sched, nil
}

func (repo *feeRepository) CurrentSchedule(ctx context.Context) (fee.Schedule, error) {
	var row scheduleRow
	q := `SELECT ` + scheduleColumns + ` FROM fee_schedules ORDER BY generation DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q); err != nil {
		return fee.Schedule{}, trapNoRowsErr(err, fee.ErrNoSchedule)
	}
	return unboilSchedule(row), nil
}

func (repo *feeRepository) GetCurrentLedger(ctx context.Context, studentID string) (fee.Ledger, error) {
	var row ledgerRow
	q := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE student_id = $1 ORDER BY generation DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, studentID); err != nil {
		return fee.Ledger{}, trapNoRowsErr(err, fee.ErrNoLedger)
	}

	ledgers, err := repo.withPayments(ctx, []ledgerRow{row})
	if err != nil {
		return fee.Ledger{}, err
	}
	return ledgers[0], nil
}

func (repo *feeRepository) LedgerHistory(ctx context.Context, studentID string) ([]fee.Ledger, error) {
	var rows []ledgerRow
	q := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE student_id = $1 ORDER BY generation DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, studentID); err != nil {
		return nil, errors.Wrap(err, "selecting ledgers")
	}
	return repo.withPayments(ctx, rows)
}

func (repo *feeRepository) QueryLedgers(ctx context.Context, filter fee.LedgerFilter, orderings ...core.DBOrdering) ([]fee.Ledger, error) {
	conds := make([]string, 0, 3)
	args := make([]interface{}, 0, 2)
	if filter.ScheduleID != "" {
		args = append(args, filter.ScheduleID)
		conds = append(conds, fmt.Sprintf("schedule_id::text = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conds = append(conds, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Outstanding {
		conds = append(conds, "remaining_amount > 0")
	}

	q := `SELECT ` + ledgerColumns + ` FROM ledgers`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderBy(orderings, "generation DESC, student_id ASC")

	var rows []ledgerRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting ledgers")
	}
	return repo.withPayments(ctx, rows)
}

// withPayments loads the payments of every ledger in rows, in sequence order.
func (repo *feeRepository) withPayments(ctx context.Context, rows []ledgerRow) ([]fee.Ledger, error) {
	ledgers := make([]fee.Ledger, 0, len(rows))
	if len(rows) == 0 {
		return ledgers, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var pmtRows []paymentRow
	q := `SELECT ` + paymentColumns + ` FROM ledger_payments WHERE ledger_id::text = ANY($1) ORDER BY ledger_id, sequence`
	if err := repo.db.SelectContext(ctx, &pmtRows, q, pq.Array(ids)); err != nil {
		return nil, errors.Wrap(err, "selecting payments")
	}

	byLedger := make(map[string][]fee.Payment, len(rows))
	for _, r := range pmtRows {
		byLedger[r.LedgerID] = append(byLedger[r.LedgerID], unboilPayment(r))
	}
	for _, r := range rows {
		l := unboilLedger(r)
		if pmts, ok := byLedger[r.ID]; ok {
			l.Payments = pmts
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, nil
}

func (repo *feeRepository) AddPayment(ctx context.Context, updated fee.Ledger, expectedVersion int) error {
	if len(updated.Payments) == 0 {
		return errors.New("ledger has no payment to add")
	}
	pmt := updated.Payments[len(updated.Payments)-1]

	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var version int
		if err := tx.GetContext(ctx, &version, `SELECT version FROM ledgers WHERE id = $1 FOR UPDATE`, updated.ID); err != nil {
			return errors.Wrap(trapNoRowsErr(err, fee.ErrNoLedger), "locking ledger")
		}
		if version != expectedVersion {
			return core.ErrVersionConflict
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE ledgers SET remaining_amount = $1, updated_at = $2, version = $3 WHERE id = $4 AND version = $5`,
			updated.RemainingAmount, updated.UpdatedAt, updated.Version, updated.ID, expectedVersion,
		)
		if err != nil {
			return errors.Wrap(err, "updating ledger")
		}
		if n, err := res.RowsAffected(); err != nil {
			return errors.Wrap(err, "updating ledger")
		} else if n != 1 {
			return core.ErrVersionConflict
		}

		if _, err = tx.NamedExecContext(ctx, insertPaymentQuery, boilPayment(pmt)); err != nil {
			return errors.Wrap(trapUniqueViolation(err), "inserting payment")
		}
		return nil
	})
}
