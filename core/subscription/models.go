package subscription

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-billing/core"
)

type Status string

const (
	StatusNone     Status = "none"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired" // derived at read time, never stored
)

// Subscription is a student's paid access for one term. Renewals create a new Generation;
// stored records are never rewritten except to record the admin decision.
type Subscription struct {
	ID             string      `json:"id"`
	StudentID      string      `json:"student_id"`
	Generation     int         `json:"generation"`
	Status         Status      `json:"status"`
	ConfirmationID string      `json:"confirmation_id"`
	StartDate      time.Time   `json:"start_date"`
	EndDate        time.Time   `json:"end_date"`
	TermLabel      string      `json:"term_label"`
	Plan           string      `json:"plan"`
	CreatedAt      time.Time   `json:"created_at"`
	ApprovedAt     null.Time   `json:"approved_at"`
	ReviewedBy     null.String `json:"reviewed_by"`
	Version        int         `json:"-"`
}

// EffectiveStatus returns the status as seen at now: anything past its EndDate is expired.
func (sub Subscription) EffectiveStatus(now time.Time) Status {
	if sub.ID == "" {
		return StatusNone
	}
	if now.After(sub.EndDate) {
		return StatusExpired
	}
	return sub.Status
}

// Supersedes reports whether sub is a later state of the student's subscriptions than other:
// a higher generation, or the same generation at a higher version.
func (sub Subscription) Supersedes(other Subscription) bool {
	if sub.Generation != other.Generation {
		return sub.Generation > other.Generation
	}
	return sub.Version > other.Version
}

// View is a Subscription along with its status at the time it was read.
type View struct {
	Subscription
	EffectiveStatus Status `json:"effective_status"`
}

func NewView(sub Subscription, now time.Time) View {
	return View{Subscription: sub, EffectiveStatus: sub.EffectiveStatus(now)}
}

type transition struct {
	from, to Status
}

var transitions = map[transition]bool{
	{StatusNone, StatusPending}:     true, // first submission
	{StatusPending, StatusApproved}: true,
	{StatusPending, StatusRejected}: true,
	{StatusPending, StatusExpired}:  true, // term ended before review
	{StatusApproved, StatusExpired}: true,
	{StatusRejected, StatusPending}: true, // resubmission
	{StatusRejected, StatusExpired}: true,
	{StatusExpired, StatusPending}:  true, // renewal
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[transition{from, to}]
}

// NewSubscription contains information needed to submit a payment confirmation.
type NewSubscription struct {
	ConfirmationID string `json:"confirmation_id" validate:"required,notblank,max=64"`
}

func (ns *NewSubscription) Validate(validate *validator.Validate) error {
	ns.ConfirmationID = core.CleanString(ns.ConfirmationID)
	return validate.Struct(ns)
}
