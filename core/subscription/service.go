package subscription

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/roster"
	"github.com/trezcool/masomo-billing/core/term"
)

var (
	// errors
	ErrNotFound       = errors.New("subscription not found")
	ErrAlreadyPending = errors.New("student already has a pending or active subscription")
	ErrNotPending     = errors.New("student has no pending subscription")

	NowFunc = time.Now // mockable

	maxConflictRetries = 1
)

type (
	Repository interface {
		// Current returns the student's subscription of highest generation, or ErrNotFound.
		Current(ctx context.Context, studentID string) (Subscription, error)
		// History returns all of the student's subscriptions, newest generation first.
		History(ctx context.Context, studentID string) ([]Subscription, error)
		// QueryByStatus filters on the stored status.
		QueryByStatus(ctx context.Context, status Status) ([]Subscription, error)
		// Create inserts sub as a new generation.
		// It returns core.ErrVersionConflict if that generation already exists.
		Create(ctx context.Context, sub Subscription) (Subscription, error)
		// Update stores the review of sub. It returns core.ErrVersionConflict if the stored
		// subscription is no longer at expectedVersion.
		Update(ctx context.Context, sub Subscription, expectedVersion int) error
	}

	// Cache holds students' current subscription records. A cached zero Subscription means "none".
	Cache interface {
		Get(ctx context.Context, studentID string) (Subscription, bool, error)
		// Set stores sub unless the cached record supersedes it, atomically.
		// A record read before a review committed can then never replace the reviewed one.
		Set(ctx context.Context, studentID string, sub Subscription) error
		Delete(ctx context.Context, studentID string) error
	}

	Service struct {
		repo     Repository
		cache    Cache
		roster   roster.Provider
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
	cache Cache,
	rp roster.Provider,
	validate *validator.Validate,
	mailSvc core.EmailService,
	logger core.Logger,
	metrics core.Metrics,
) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(conf, "conf"),
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(cache, "cache"),
		vala.IsNotNil(rp, "rp"),
		vala.IsNotNil(validate, "validate"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(metrics, "metrics"),
	).CheckAndPanic()

	return &Service{
		repo:     repo,
		cache:    cache,
		roster:   rp,
		validate: validate,
		mailSvc:  mailSvc,
		logger:   logger,
		metrics:  metrics,
		conf:     conf,
	}
}

// Submit records a payment confirmation as a new pending subscription for the current term.
func (svc *Service) Submit(ctx context.Context, studentID string, ns NewSubscription) (Subscription, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return Subscription{}, err
	}
	if !roster.ValidID(studentID) {
		return Subscription{}, core.NewValidationError(roster.ErrInvalidID, core.FieldError{Field: "student_id", Error: roster.ErrInvalidID.Error()})
	}

	for attempt := 0; ; attempt++ {
		now := NowFunc()
		cur, err := svc.current(ctx, studentID)
		if err != nil {
			return Subscription{}, err
		}
		if !CanTransition(cur.EffectiveStatus(now), StatusPending) {
			return Subscription{}, core.NewConflictError(ErrAlreadyPending)
		}

		trm, err := term.For(now.In(svc.conf.Billing.Location()))
		if err != nil {
			return Subscription{}, errors.Wrap(err, "computing term")
		}
		stamp := now.UTC().Truncate(term.Resolution)
		sub := Subscription{
			ID:             uuid.New().String(),
			StudentID:      studentID,
			Generation:     cur.Generation + 1,
			Status:         StatusPending,
			ConfirmationID: ns.ConfirmationID,
			StartDate:      stamp,
			EndDate:        trm.End.UTC(),
			TermLabel:      trm.Label,
			Plan:           svc.conf.Billing.Plan,
			CreatedAt:      stamp,
			Version:        1,
		}

		created, err := svc.repo.Create(ctx, sub)
		if err != nil {
			// a concurrent submission took this generation: re-check against it
			if errors.Cause(err) == core.ErrVersionConflict && attempt < maxConflictRetries {
				continue
			}
			svc.metrics.OperationFailed("submit_subscription")
			if errors.Cause(err) == core.ErrVersionConflict {
				return Subscription{}, core.NewConflictError(errors.Wrap(err, "creating subscription"))
			}
			return Subscription{}, svc.storageError(ctx, err, "creating subscription")
		}

		svc.refresh(ctx, created)
		svc.metrics.SubscriptionChanged(string(StatusPending))
		svc.logger.Info(fmt.Sprintf("student %s submitted confirmation %q for %s", studentID, created.ConfirmationID, created.TermLabel))
		return created, nil
	}
}

// Approve grants the pending subscription. Its term window is kept as submitted.
func (svc *Service) Approve(ctx context.Context, studentID string, actor core.Actor) (Subscription, error) {
	return svc.review(ctx, studentID, actor, StatusApproved)
}

func (svc *Service) Reject(ctx context.Context, studentID string, actor core.Actor) (Subscription, error) {
	return svc.review(ctx, studentID, actor, StatusRejected)
}

func (svc *Service) review(ctx context.Context, studentID string, actor core.Actor, to Status) (Subscription, error) {
	op := "review_subscription"

	for attempt := 0; ; attempt++ {
		now := NowFunc()
		cur, err := svc.current(ctx, studentID)
		if err != nil {
			return Subscription{}, err
		}
		if cur.EffectiveStatus(now) != StatusPending || !CanTransition(StatusPending, to) {
			return Subscription{}, core.NewNotFoundError(ErrNotPending)
		}

		updated := cur
		updated.Status = to
		updated.ReviewedBy = null.StringFrom(actor.ID)
		if to == StatusApproved {
			updated.ApprovedAt = null.TimeFrom(now.UTC().Truncate(term.Resolution))
		}
		updated.Version++

		if err = svc.repo.Update(ctx, updated, cur.Version); err != nil {
			if errors.Cause(err) == core.ErrVersionConflict {
				if attempt < maxConflictRetries {
					continue
				}
				svc.metrics.OperationFailed(op)
				return Subscription{}, core.NewConflictError(errors.Wrap(err, "updating subscription"))
			}
			svc.metrics.OperationFailed(op)
			return Subscription{}, svc.storageError(ctx, err, "updating subscription")
		}

		svc.refresh(ctx, updated)
		svc.metrics.SubscriptionChanged(string(to))
		svc.logger.Info(fmt.Sprintf("subscription %d of student %s %s", updated.Generation, studentID, to), actor)
		svc.notifyStudent(ctx, updated)
		return updated, nil
	}
}

// Current returns the student's latest subscription, whatever its status.
func (svc *Service) Current(ctx context.Context, studentID string) (Subscription, error) {
	sub, err := svc.current(ctx, studentID)
	if err != nil {
		return Subscription{}, err
	}
	if sub.ID == "" {
		return Subscription{}, core.NewNotFoundError(ErrNotFound)
	}
	return sub, nil
}

func (svc *Service) History(ctx context.Context, studentID string) ([]Subscription, error) {
	subs, err := svc.repo.History(ctx, studentID)
	if err != nil {
		return nil, svc.storageError(ctx, err, "querying subscription history")
	}
	return subs, nil
}

// Pending returns the subscriptions awaiting review at now. Those whose term already ended are left out.
func (svc *Service) Pending(ctx context.Context, now time.Time) ([]Subscription, error) {
	subs, err := svc.repo.QueryByStatus(ctx, StatusPending)
	if err != nil {
		return nil, svc.storageError(ctx, err, "querying pending subscriptions")
	}
	pending := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.EffectiveStatus(now) == StatusPending {
			pending = append(pending, sub)
		}
	}
	return pending, nil
}

// IsEntitled reports whether the student holds an approved subscription that has not expired at now.
// It never writes: expiry is derived from the record on every call.
func (svc *Service) IsEntitled(ctx context.Context, studentID string, now time.Time) (bool, error) {
	sub, err := svc.cachedCurrent(ctx, studentID)
	if err != nil {
		return false, err
	}
	entitled := sub.EffectiveStatus(now) == StatusApproved
	svc.metrics.EntitlementChecked(entitled)
	return entitled, nil
}

// current returns a zero Subscription if the student never subscribed.
func (svc *Service) current(ctx context.Context, studentID string) (Subscription, error) {
	sub, err := svc.repo.Current(ctx, studentID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Subscription{}, nil
		}
		return Subscription{}, svc.storageError(ctx, err, "getting current subscription")
	}
	return sub, nil
}

func (svc *Service) cachedCurrent(ctx context.Context, studentID string) (Subscription, error) {
	sub, ok, err := svc.cache.Get(ctx, studentID)
	if err != nil {
		svc.logger.Warn("reading subscription cache", err)
	}
	if ok {
		return sub, nil
	}

	if sub, err = svc.current(ctx, studentID); err != nil {
		return Subscription{}, err
	}
	if err = svc.cache.Set(ctx, studentID, sub); err != nil {
		svc.logger.Warn("writing subscription cache", err)
	}
	return sub, nil
}

// refresh writes a just stored record through to the cache, dropping the entry if that fails.
func (svc *Service) refresh(ctx context.Context, sub Subscription) {
	err := svc.cache.Set(ctx, sub.StudentID, sub)
	if err == nil {
		return
	}
	svc.logger.Warn(fmt.Sprintf("caching subscription of student %s", sub.StudentID), err)
	if err = svc.cache.Delete(ctx, sub.StudentID); err != nil {
		svc.logger.Warn(fmt.Sprintf("invalidating cached subscription of student %s", sub.StudentID), err)
	}
}

func (svc *Service) notifyStudent(ctx context.Context, sub Subscription) {
	stud, err := svc.roster.Student(ctx, sub.StudentID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("looking up student %s for notification", sub.StudentID), err)
		return
	}
	addr, ok := stud.Address()
	if !ok {
		return
	}

	var body string
	switch sub.Status {
	case StatusApproved:
		body = fmt.Sprintf(
			"Hi %s,\n\nYour payment confirmation %s was approved. Your %s access is active until %s.",
			stud.Name, sub.ConfirmationID, sub.TermLabel, sub.EndDate.In(svc.conf.Billing.Location()).Format("January 2, 2006"),
		)
	default:
		body = fmt.Sprintf(
			"Hi %s,\n\nYour payment confirmation %s was not approved. Please contact the school office.",
			stud.Name, sub.ConfirmationID,
		)
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{addr},
		Subject: fmt.Sprintf("%s: subscription %s", svc.conf.AppName, sub.Status),
		BodyStr: body,
	})
}

// storageError classifies repository failures: deadlines and cancellations may be retried by the caller.
func (svc *Service) storageError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil || errors.Cause(err) == context.DeadlineExceeded {
		return core.NewDependencyError(errors.Wrap(err, msg), true)
	}
	return errors.Wrap(err, msg)
}

// NopCache never holds anything.
type NopCache struct{}

var _ Cache = NopCache{}

func (NopCache) Get(context.Context, string) (Subscription, bool, error) { return Subscription{}, false, nil }
func (NopCache) Set(context.Context, string, Subscription) error         { return nil }
func (NopCache) Delete(context.Context, string) error                    { return nil }
