package ledger

import (
	"testing"

	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestructure_RegeneratesRemainingSchedule(t *testing.T) {
	e := NewEngine()
	l := scenarioLoan(t)
	now := firstDue.AddDate(0, 0, -5)
	pay(t, e, l, l.InitialEMI, now)

	event, err := e.Restructure(l, RestructureRequest{
		NewAnnualRate:   dec("10"),
		NewTenureMonths: 6,
		Reason:          "income shock",
		ApprovedBy:      "credit-head",
	}, now)
	require.NoError(t, err)

	assertMoney(t, "110538.15", event.OutstandingPrincipal)
	assert.Equal(t, 13, event.FirstNewInstallment)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, event.CancelledInstallments)
	assertMoney(t, "12.00", event.PreviousAnnualRate)
	assertMoney(t, "10661.85", event.PreviousEMI)
	assert.True(t, event.CarriedInterest.IsZero())
	assert.Equal(t, firstDue.AddDate(0, 1, 0), event.EffectiveFrom)

	wantEMI, err := ComputeEMI(dec("110538.15"), dec("10"), 6)
	require.NoError(t, err)
	assertSameMoney(t, wantEMI, event.NewEMI)
	assertSameMoney(t, wantEMI, l.CurrentEMI)
	assertMoney(t, "10.00", l.CurrentAnnualRate)
	assertMoney(t, "10.00", l.EffectiveAnnualRate())

	require.Len(t, l.Installments, 18)
	assert.Equal(t, models.InstallmentPaid, l.Installments[0].Status)
	newPrincipal := decimal.Zero
	for _, inst := range l.Installments[1:12] {
		assert.Equal(t, models.InstallmentCancelled, inst.Status)
	}
	for k, inst := range l.Installments[12:] {
		assert.Equal(t, 13+k, inst.Number)
		assert.Equal(t, firstDue.AddDate(0, 1+k, 0), inst.DueDate)
		newPrincipal = newPrincipal.Add(inst.PrincipalDue)
	}
	assertMoney(t, "110538.15", newPrincipal)

	assert.Equal(t, models.StatusRestructured, l.Status)
	change := l.StatusHistory[len(l.StatusHistory)-1]
	assert.Equal(t, "credit-head", change.Actor)
	assert.Equal(t, "income shock", change.Reason)
	require.NotNil(t, l.NextDueDate)
	assert.Equal(t, l.Installments[12].DueDate, *l.NextDueDate)
	assertMoney(t, "110538.15", l.CurrentOutstandingPrincipal)
}

func TestRestructure_CarriesPastDueCharges(t *testing.T) {
	e := NewEngine()
	l := scenarioLoan(t)
	now := firstDue.AddDate(0, 1, 10)
	// 500 of installment 1's interest is paid; installment 2 is untouched.
	pay(t, e, l, dec("500"), now)
	l.Installments[0].PenaltyDue = dec("100")

	event, err := e.Restructure(l, RestructureRequest{
		NewAnnualRate:   dec("12"),
		NewTenureMonths: 12,
		Reason:          "realign",
		ApprovedBy:      "ops",
	}, now)
	require.NoError(t, err)

	wantInterest := l.Installments[0].InterestDue.Sub(dec("500")).Add(l.Installments[1].InterestDue)
	assertSameMoney(t, wantInterest, event.CarriedInterest)
	assertMoney(t, "100.00", event.CarriedPenalty)
	assertMoney(t, "120000.00", event.OutstandingPrincipal)

	first, ok := l.Installment(event.FirstNewInstallment)
	require.True(t, ok)
	assertMoney(t, "100.00", first.PenaltyDue)
	assertSameMoney(t, round2(dec("1200")).Add(wantInterest), first.InterestDue)

	// Paid amounts stay on the cancelled installment.
	assertMoney(t, "500.00", l.Installments[0].InterestPaid)
	assert.Equal(t, models.InstallmentCancelled, l.Installments[0].Status)
	assertMoney(t, "500.00", l.TotalInterestRepaid)
}

func TestRestructure_TwiceAndThenRepay(t *testing.T) {
	e := NewEngine()
	l := scenarioLoan(t)
	now := firstDue.AddDate(0, 0, -5)
	req := RestructureRequest{NewAnnualRate: dec("9"), NewTenureMonths: 4, Reason: "relief", ApprovedBy: "ops"}

	_, err := e.Restructure(l, req, now)
	require.NoError(t, err)
	_, err = e.Restructure(l, req, now)
	require.NoError(t, err)

	assert.Len(t, l.Restructures, 2)
	assert.Len(t, l.StatusHistory, 2)
	assert.Equal(t, models.StatusRestructured, l.StatusHistory[1].From)
	assert.Equal(t, models.StatusRestructured, l.StatusHistory[1].To)

	pay(t, e, l, TotalRemainingDue(l.Installments), now)
	assert.Equal(t, models.StatusFullyRepaid, l.Status)
	assertMoney(t, "120000.00", l.TotalPrincipalRepaid)
}

func TestRestructure_Errors(t *testing.T) {
	e := NewEngine()
	now := firstDue.AddDate(0, 0, -5)

	tests := []struct {
		name  string
		setup func(l *models.Ledger)
		req   RestructureRequest
		kind  apperr.Kind
	}{
		{
			name: "negative rate",
			req:  RestructureRequest{NewAnnualRate: dec("-1"), NewTenureMonths: 6, Reason: "r", ApprovedBy: "a"},
			kind: apperr.KindValidation,
		},
		{
			name: "no tenure",
			req:  RestructureRequest{NewAnnualRate: dec("10"), Reason: "r", ApprovedBy: "a"},
			kind: apperr.KindValidation,
		},
		{
			name: "no approver",
			req:  RestructureRequest{NewAnnualRate: dec("10"), NewTenureMonths: 6, Reason: "r"},
			kind: apperr.KindValidation,
		},
		{
			name: "first due date in the past",
			req:  RestructureRequest{NewAnnualRate: dec("10"), NewTenureMonths: 6, Reason: "r", ApprovedBy: "a", FirstDueDate: now},
			kind: apperr.KindValidation,
		},
		{
			name:  "closed ledger",
			setup: func(l *models.Ledger) { l.Status = models.StatusForeclosed },
			req:   RestructureRequest{NewAnnualRate: dec("10"), NewTenureMonths: 6, Reason: "r", ApprovedBy: "a"},
			kind:  apperr.KindStateConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := scenarioLoan(t)
			if tt.setup != nil {
				tt.setup(l)
			}
			_, err := e.Restructure(l, tt.req, now)
			assertKind(t, tt.kind, err)
			assert.Len(t, l.Installments, 12)
		})
	}
}
