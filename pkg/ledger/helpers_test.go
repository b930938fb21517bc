package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firstDue is the first due date used by most fixtures.
var firstDue = time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

func assertSameMoney(t *testing.T, want, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want.StringFixed(2), got.StringFixed(2), msgAndArgs...)
}

// newLoan builds an active ledger whose first installment falls due on start.
// Prepayment is allowed after three months with a 2% fee; the grace period is
// five days and no late fee is configured.
func newLoan(t *testing.T, principal, rate string, tenure int, start time.Time) *models.Ledger {
	t.Helper()
	p, r := dec(principal), dec(rate)
	installments, emi, err := BuildSchedule(Terms{
		Principal:    p,
		AnnualRate:   r,
		TenureMonths: tenure,
		StartDate:    start,
	})
	require.NoError(t, err)

	l := &models.Ledger{
		ID:                 uuid.New(),
		SubmissionID:       "sub-" + uuid.NewString(),
		BorrowerID:         "borrower-1",
		DisbursedAmount:    p,
		AnnualRate:         r,
		TenureMonths:       tenure,
		InitialEMI:         emi,
		CurrentAnnualRate:  r,
		CurrentEMI:         emi,
		DisbursementDate:   start.AddDate(0, -1, 0),
		RepaymentStartDate: start,
		Penalty:            models.PenaltyConfig{GracePeriodDays: 5},
		Prepayment: models.PrepaymentConfig{
			AllowPrepayment:    true,
			LockInPeriodMonths: 3,
			FeeType:            models.FeeTypePercentage,
			FeeValue:           dec("2"),
		},
		Status:       models.StatusActive,
		Installments: installments,
	}
	NewEngine().Recompute(l, start.AddDate(0, 0, -10))
	return l
}

// scenarioLoan is the 120000 at 12% over 12 months loan.
func scenarioLoan(t *testing.T) *models.Ledger {
	return newLoan(t, "120000", "12", 12, firstDue)
}

func pay(t *testing.T, e Engine, l *models.Ledger, amount decimal.Decimal, now time.Time) *models.PaymentTransaction {
	t.Helper()
	txn, err := e.ApplyPayment(l, PaymentRequest{Amount: amount, Method: "upi"}, now)
	require.NoError(t, err)
	return txn
}

func assertKind(t *testing.T, want apperr.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, apperr.KindOf(err), "unexpected error kind for %v", err)
}
