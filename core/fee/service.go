package fee

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/keylock"
	"github.com/trezcool/masomo-billing/core/roster"
)

var (
	// errors
	ErrNoSchedule    = errors.New("no fee schedule has been posted")
	ErrNoLedger      = errors.New("student has no ledger")
	ErrOverpayment   = errors.New("payment exceeds the remaining balance")
	ErrInvalidAmount = errors.New("amount must be positive")

	NowFunc = time.Now // mockable

	maxConflictRetries = 1
)

type (
	Repository interface {
		// CreateSchedule stores sched and all of its ledgers atomically: either every row is written or none.
		// It assigns the next generation to the schedule and its ledgers.
		CreateSchedule(ctx context.Context, sched Schedule, ledgers []Ledger) (Schedule, error)
		// CurrentSchedule returns ErrNoSchedule when nothing was posted yet.
		CurrentSchedule(ctx context.Context) (Schedule, error)
		// GetCurrentLedger returns the student's ledger of highest generation, or ErrNoLedger.
		GetCurrentLedger(ctx context.Context, studentID string) (Ledger, error)
		LedgerHistory(ctx context.Context, studentID string) ([]Ledger, error)
		QueryLedgers(ctx context.Context, filter LedgerFilter, orderings ...core.DBOrdering) ([]Ledger, error)
		// AddPayment stores the last payment of updated along with its new balance.
		// It returns core.ErrVersionConflict if the stored ledger is no longer at expectedVersion.
		AddPayment(ctx context.Context, updated Ledger, expectedVersion int) error
	}

	Service struct {
		repo     Repository
		roster   roster.Provider
		locks    *keylock.Locker
		validate *validator.Validate
		mailSvc  core.EmailService
		logger   core.Logger
		metrics  core.Metrics
		conf     *core.Config
	}
)

func NewService(
	conf *core.Config,
	repo Repository,
	rp roster.Provider,
	validate *validator.Validate,
	mailSvc core.EmailService,
	logger core.Logger,
	metrics core.Metrics,
) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(conf, "conf"),
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(rp, "rp"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(metrics, "metrics"),
	).CheckAndPanic()

	return &Service{
		repo:     repo,
		roster:   rp,
		locks:    keylock.New(),
		validate: validate,
		mailSvc:  mailSvc,
		logger:   logger,
		metrics:  metrics,
		conf:     conf,
	}
}

// PostSchedule charges amount to every active student, as a new schedule generation.
// The roster is read first; if it cannot be read nothing is written.
func (svc *Service) PostSchedule(ctx context.Context, ns NewSchedule, actor core.Actor) (Schedule, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return Schedule{}, err
	}

	ids, err := svc.roster.ActiveStudents(ctx)
	if err != nil {
		svc.metrics.OperationFailed("post_schedule")
		if errors.Cause(err) != roster.ErrUnavailable {
			err = roster.Unavailable(err)
		}
		return Schedule{}, core.NewDependencyError(errors.Wrap(err, "reading active students"), true)
	}
	ids = roster.Dedupe(ids)
	if err = roster.CheckIDs(ids); err != nil {
		svc.metrics.OperationFailed("post_schedule")
		return Schedule{}, core.NewDependencyError(roster.Unavailable(err), false)
	}

	var sched Schedule
	for attempt := 0; ; attempt++ {
		newSched, ledgers := svc.buildSchedule(ns, actor, ids)
		sched, err = svc.repo.CreateSchedule(ctx, newSched, ledgers)
		if err == nil {
			break
		}
		// another schedule took our generation
		if errors.Cause(err) == core.ErrVersionConflict && attempt < maxConflictRetries {
			continue
		}
		svc.metrics.OperationFailed("post_schedule")
		return Schedule{}, svc.storageError(ctx, err, "creating fee schedule")
	}

	svc.metrics.FeeSchedulePosted(sched.StudentCount)
	svc.logger.Info(
		fmt.Sprintf("fee schedule %d posted to %d students (amount %s)", sched.Generation, sched.StudentCount, sched.Amount),
		actor,
	)
	svc.notifyAdmins(sched)
	return sched, nil
}

func (svc *Service) buildSchedule(ns NewSchedule, actor core.Actor, studentIDs []string) (Schedule, []Ledger) {
	now := NowFunc().UTC()
	sched := Schedule{
		ID:           uuid.New().String(),
		Amount:       ns.Amount,
		Description:  ns.Description,
		PostedAt:     now,
		PostedBy:     actor.ID,
		StudentCount: len(studentIDs),
	}
	ledgers := make([]Ledger, 0, len(studentIDs))
	for _, id := range studentIDs {
		ledgers = append(ledgers, Ledger{
			ID:              uuid.New().String(),
			StudentID:       id,
			ScheduleID:      sched.ID,
			TotalAmount:     ns.Amount,
			RemainingAmount: ns.Amount,
			Description:     ns.Description,
			PostedAt:        now,
			UpdatedAt:       now,
			Payments:        []Payment{},
			Version:         1,
		})
	}
	return sched, ledgers
}

func (svc *Service) notifyAdmins(sched Schedule) {
	if len(svc.conf.Billing.AdminEmails) == 0 {
		return
	}
	to := make([]mail.Address, 0, len(svc.conf.Billing.AdminEmails))
	for _, email := range svc.conf.Billing.AdminEmails {
		to = append(to, mail.Address{Address: email})
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      to,
		Subject: fmt.Sprintf("%s: fee schedule %d posted", svc.conf.AppName, sched.Generation),
		BodyStr: fmt.Sprintf(
			"%q (%s) was posted to %d students on %s.",
			sched.Description, sched.Amount, sched.StudentCount, sched.PostedAt.Format(time.RFC1123),
		),
	})
}

// ApplyPayment records a payment against the student's current ledger.
// Payments for the same student are applied one at a time, in arrival order.
func (svc *Service) ApplyPayment(ctx context.Context, studentID string, np NewPayment) (Ledger, error) {
	if err := np.Validate(svc.validate); err != nil {
		return Ledger{}, err
	}

	unlock, err := svc.locks.Lock(ctx, studentID)
	if err != nil {
		return Ledger{}, core.NewDependencyError(errors.Wrap(err, "waiting for ledger"), true)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		ldgr, err := svc.currentLedger(ctx, studentID)
		if err != nil {
			return Ledger{}, err
		}

		pmt := Payment{
			ID:        uuid.New().String(),
			Amount:    np.Amount,
			Reference: np.Reference,
			AppliedAt: NowFunc().UTC(),
		}
		updated, err := ldgr.WithPayment(pmt)
		switch err {
		case nil:
		case ErrOverpayment:
			return Ledger{}, core.NewConflictError(err)
		default:
			return Ledger{}, core.NewValidationError(err, core.FieldError{Field: "amount", Error: err.Error()})
		}

		err = svc.repo.AddPayment(ctx, updated, ldgr.Version)
		if err == nil {
			svc.metrics.PaymentApplied()
			return updated, nil
		}
		if errors.Cause(err) == core.ErrVersionConflict {
			if attempt < maxConflictRetries {
				continue
			}
			svc.metrics.OperationFailed("apply_payment")
			return Ledger{}, core.NewConflictError(errors.Wrap(err, "applying payment"))
		}
		svc.metrics.OperationFailed("apply_payment")
		return Ledger{}, svc.storageError(ctx, err, "applying payment")
	}
}

// GetLedger returns the student's current ledger.
func (svc *Service) GetLedger(ctx context.Context, studentID string) (Ledger, error) {
	return svc.currentLedger(ctx, studentID)
}

// LedgerHistory returns all of the student's ledgers, newest generation first.
func (svc *Service) LedgerHistory(ctx context.Context, studentID string) ([]Ledger, error) {
	ledgers, err := svc.repo.LedgerHistory(ctx, studentID)
	if err != nil {
		return nil, svc.storageError(ctx, err, "querying ledger history")
	}
	for _, l := range ledgers {
		if err = svc.checkLedger(l); err != nil {
			return nil, err
		}
	}
	return ledgers, nil
}

func (svc *Service) ListLedgers(ctx context.Context, filter LedgerFilter, orderings ...core.DBOrdering) ([]Ledger, error) {
	filter.Clean()
	ledgers, err := svc.repo.QueryLedgers(ctx, filter, core.CleanOrderings(orderings, LedgerOrderings)...)
	if err != nil {
		return nil, svc.storageError(ctx, err, "querying ledgers")
	}
	return ledgers, nil
}

func (svc *Service) CurrentSchedule(ctx context.Context) (Schedule, error) {
	sched, err := svc.repo.CurrentSchedule(ctx)
	if err != nil {
		if errors.Cause(err) == ErrNoSchedule {
			return Schedule{}, core.NewNotFoundError(ErrNoSchedule)
		}
		return Schedule{}, svc.storageError(ctx, err, "getting current schedule")
	}
	return sched, nil
}

func (svc *Service) currentLedger(ctx context.Context, studentID string) (Ledger, error) {
	ldgr, err := svc.repo.GetCurrentLedger(ctx, studentID)
	if err != nil {
		if errors.Cause(err) == ErrNoLedger {
			return Ledger{}, core.NewNotFoundError(ErrNoLedger)
		}
		return Ledger{}, svc.storageError(ctx, err, "getting current ledger")
	}
	if err = svc.checkLedger(ldgr); err != nil {
		return Ledger{}, err
	}
	return ldgr, nil
}

// checkLedger reports stored ledgers that break the balance rules. They are never repaired here.
func (svc *Service) checkLedger(l Ledger) error {
	if err := l.CheckInvariants(); err != nil {
		svc.metrics.OperationFailed("ledger_invariant")
		svc.logger.Error("corrupted ledger", err, map[string]interface{}{"ledger_id": l.ID, "student_id": l.StudentID})
		return core.NewInvariantError(err)
	}
	return nil
}

// storageError classifies repository failures: deadlines and cancellations may be retried by the caller.
func (svc *Service) storageError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil || errors.Cause(err) == context.DeadlineExceeded {
		return core.NewDependencyError(errors.Wrap(err, msg), true)
	}
	return errors.Wrap(err, msg)
}
