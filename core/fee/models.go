package fee

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
)

// Schedule is a posted tuition fee. The schedule with the highest Generation is the current one.
type Schedule struct {
	ID           string          `json:"id"`
	Generation   int             `json:"generation"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	PostedAt     time.Time       `json:"posted_at"` // UTC
	PostedBy     string          `json:"posted_by"`
	StudentCount int             `json:"student_count"`
}

// Ledger is a student's balance against one posted Schedule.
type Ledger struct {
	ID              string          `json:"id"`
	StudentID       string          `json:"student_id"`
	ScheduleID      string          `json:"schedule_id"`
	Generation      int             `json:"generation"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Description     string          `json:"description"`
	PostedAt        time.Time       `json:"posted_at"`  // UTC
	UpdatedAt       time.Time       `json:"updated_at"` // UTC
	Payments        []Payment       `json:"payments"`
	Version         int             `json:"-"`
}

// Payment is an amount applied to a Ledger. Sequence is 1-based and follows application order.
type Payment struct {
	ID        string          `json:"id"`
	LedgerID  string          `json:"-"`
	Sequence  int             `json:"sequence"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	AppliedAt time.Time       `json:"applied_at"` // UTC
}

// Paid returns the sum of all applied payments.
func (l Ledger) Paid() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range l.Payments {
		paid = paid.Add(p.Amount)
	}
	return paid
}

func (l Ledger) IsSettled() bool {
	return l.RemainingAmount.IsZero()
}

// CheckInvariants verifies 0 <= remaining <= total and remaining == total - paid.
func (l Ledger) CheckInvariants() error {
	switch {
	case l.RemainingAmount.IsNegative():
		return errors.Errorf("ledger %s: negative remaining amount %s", l.ID, l.RemainingAmount)
	case l.RemainingAmount.GreaterThan(l.TotalAmount):
		return errors.Errorf("ledger %s: remaining amount %s exceeds total %s", l.ID, l.RemainingAmount, l.TotalAmount)
	case !l.TotalAmount.Sub(l.Paid()).Equal(l.RemainingAmount):
		return errors.Errorf("ledger %s: remaining amount %s does not match total %s minus payments %s",
			l.ID, l.RemainingAmount, l.TotalAmount, l.Paid())
	}
	for i, p := range l.Payments {
		if p.Sequence != i+1 {
			return errors.Errorf("ledger %s: payment %s out of sequence", l.ID, p.ID)
		}
	}
	return nil
}

// WithPayment returns a copy of the ledger with p applied. l is left untouched.
func (l Ledger) WithPayment(p Payment) (Ledger, error) {
	if !p.Amount.IsPositive() {
		return l, ErrInvalidAmount
	}
	if p.Amount.GreaterThan(l.RemainingAmount) {
		return l, ErrOverpayment
	}

	payments := make([]Payment, len(l.Payments), len(l.Payments)+1)
	copy(payments, l.Payments)
	p.LedgerID = l.ID
	p.Sequence = len(payments) + 1
	l.Payments = append(payments, p)

	l.RemainingAmount = l.RemainingAmount.Sub(p.Amount)
	l.UpdatedAt = p.AppliedAt
	l.Version++
	return l, nil
}

// MaxAmount bounds fees and payments to what numeric(12,2) columns hold.
var MaxAmount = decimal.New(1, 10)

// NewSchedule contains information needed to post a new fee Schedule.
type NewSchedule struct {
	Amount      decimal.Decimal `json:"amount" validate:"dgt0,dlt=10000000000,cents"`
	Description string          `json:"description" validate:"required,notblank,max=255"`
}

func (ns *NewSchedule) Validate(validate *validator.Validate) error {
	ns.Description = core.CleanString(ns.Description)
	return validate.Struct(ns)
}

// NewPayment contains information needed to apply a payment.
type NewPayment struct {
	Amount    decimal.Decimal `json:"amount" validate:"dgt0,dlt=10000000000,cents"`
	Reference string          `json:"reference" validate:"max=64"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.Reference = core.CleanString(np.Reference)
	return validate.Struct(np)
}

// LedgerFilter narrows ledger listings. Empty fields match everything.
type LedgerFilter struct {
	ScheduleID  string `query:"schedule_id"`
	StudentID   string `query:"student_id"`
	Outstanding bool   `query:"outstanding"` // only ledgers with a remaining balance
}

func (lf *LedgerFilter) Clean() {
	lf.ScheduleID = core.CleanString(lf.ScheduleID)
	lf.StudentID = core.CleanString(lf.StudentID)
}

// LedgerOrderings maps the fields ledgers can be sorted on to their columns.
var LedgerOrderings = map[string]string{
	"student_id":       "student_id",
	"generation":       "generation",
	"posted_at":        "posted_at",
	"updated_at":       "updated_at",
	"remaining_amount": "remaining_amount",
}
