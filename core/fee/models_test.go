package fee

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-billing/core"
)

func newValidator() *validator.Validate {
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	InitValidators(validate, translator)
	return validate
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newLedger(total string) Ledger {
	return Ledger{
		ID:              "ldgr-1",
		StudentID:       "stud-1",
		TotalAmount:     dec(total),
		RemainingAmount: dec(total),
		Payments:        []Payment{},
		Version:         1,
	}
}

func TestLedger_WithPayment_keepsInvariants(t *testing.T) {
	amounts := []string{"10", "0.50", "7.25", "2.25", "30"}

	l := newLedger("50")
	paid := decimal.Zero
	for i, a := range amounts {
		next, err := l.WithPayment(Payment{ID: a, Amount: dec(a), AppliedAt: time.Now()})
		require.NoError(t, err)

		paid = paid.Add(dec(a))
		assert.NoError(t, next.CheckInvariants())
		assert.True(t, next.RemainingAmount.Equal(dec("50").Sub(paid)), "remaining after %s", a)
		assert.Equal(t, i+1, next.Payments[i].Sequence)
		assert.Equal(t, l.Version+1, next.Version)
		l = next
	}
	assert.True(t, l.IsSettled())
}

func TestLedger_WithPayment_leavesOriginalUntouched(t *testing.T) {
	l := newLedger("50")
	next, err := l.WithPayment(Payment{Amount: dec("20")})
	require.NoError(t, err)

	assert.Len(t, l.Payments, 0)
	assert.True(t, l.RemainingAmount.Equal(dec("50")))
	assert.Len(t, next.Payments, 1)
	assert.True(t, next.RemainingAmount.Equal(dec("30")))
}

func TestLedger_WithPayment_errors(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr error
	}{
		{name: "zero", amount: "0", wantErr: ErrInvalidAmount},
		{name: "negative", amount: "-5", wantErr: ErrInvalidAmount},
		{name: "overpayment", amount: "50.01", wantErr: ErrOverpayment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger("50")
			got, err := l.WithPayment(Payment{Amount: dec(tt.amount)})
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, l, got)
		})
	}
}

func TestLedger_WithPayment_exactPayoff(t *testing.T) {
	l := newLedger("50")
	got, err := l.WithPayment(Payment{Amount: dec("50")})
	require.NoError(t, err)
	assert.True(t, got.IsSettled())
	assert.NoError(t, got.CheckInvariants())
}

func TestLedger_CheckInvariants(t *testing.T) {
	pmt := func(seq int, amount string) Payment { return Payment{Sequence: seq, Amount: dec(amount)} }

	tests := []struct {
		name    string
		ledger  Ledger
		wantErr bool
	}{
		{
			name:   "fresh",
			ledger: newLedger("50"),
		},
		{
			name:   "partially paid",
			ledger: Ledger{TotalAmount: dec("50"), RemainingAmount: dec("30"), Payments: []Payment{pmt(1, "20")}},
		},
		{
			name:    "remaining above total",
			ledger:  Ledger{TotalAmount: dec("50"), RemainingAmount: dec("60")},
			wantErr: true,
		},
		{
			name:    "negative remaining",
			ledger:  Ledger{TotalAmount: dec("50"), RemainingAmount: dec("-10"), Payments: []Payment{pmt(1, "60")}},
			wantErr: true,
		},
		{
			name:    "payments do not add up",
			ledger:  Ledger{TotalAmount: dec("50"), RemainingAmount: dec("40"), Payments: []Payment{pmt(1, "20")}},
			wantErr: true,
		},
		{
			name:    "out of sequence",
			ledger:  Ledger{TotalAmount: dec("50"), RemainingAmount: dec("20"), Payments: []Payment{pmt(2, "10"), pmt(1, "20")}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ledger.CheckInvariants()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSchedule_Validate(t *testing.T) {
	validate := newValidator()

	tests := []struct {
		name       string
		data       NewSchedule
		wantFields []string
	}{
		{name: "valid", data: NewSchedule{Amount: dec("50"), Description: "  Term Fee "}},
		{name: "zero amount", data: NewSchedule{Amount: dec("0"), Description: "Term Fee"}, wantFields: []string{"amount"}},
		{name: "negative amount", data: NewSchedule{Amount: dec("-1"), Description: "Term Fee"}, wantFields: []string{"amount"}},
		{name: "sub-cent amount", data: NewSchedule{Amount: dec("10.001"), Description: "Term Fee"}, wantFields: []string{"amount"}},
		{name: "largest amount", data: NewSchedule{Amount: MaxAmount.Sub(dec("0.01")), Description: "Term Fee"}},
		{name: "amount too large", data: NewSchedule{Amount: MaxAmount, Description: "Term Fee"}, wantFields: []string{"amount"}},
		{name: "amount overflowing storage", data: NewSchedule{Amount: dec("1e11"), Description: "Term Fee"}, wantFields: []string{"amount"}},
		{name: "blank description", data: NewSchedule{Amount: dec("50"), Description: "   "}, wantFields: []string{"description"}},
		{name: "nothing", data: NewSchedule{}, wantFields: []string{"amount", "description"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate(validate)
			if len(tt.wantFields) == 0 {
				require.NoError(t, err)
				assert.Equal(t, "Term Fee", tt.data.Description)
				return
			}
			vErrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok, "err = %v", err)
			fields := make([]string, 0, len(vErrs))
			for _, fe := range vErrs {
				fields = append(fields, fe.Field())
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestNewPayment_Validate(t *testing.T) {
	validate := newValidator()

	np := NewPayment{Amount: dec("20"), Reference: " RCPT-001 "}
	require.NoError(t, np.Validate(validate))
	assert.Equal(t, "RCPT-001", np.Reference)

	np = NewPayment{Amount: dec("0")}
	assert.Error(t, np.Validate(validate))

	translator := core.NewTranslator()
	validate = core.NewValidator(translator)
	InitValidators(validate, translator)

	np = NewPayment{Amount: MaxAmount}
	err := np.Validate(validate)
	require.Error(t, err)
	vErrs, ok := err.(validator.ValidationErrors)
	require.True(t, ok, "err = %v", err)
	assert.Equal(t, "amount must be less than 10000000000", vErrs[0].Translate(translator))
}
