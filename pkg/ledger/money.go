package ledger

import (
	"sort"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance for comparing money amounts.
var Epsilon = decimal.New(1, -2)

var (
	hundred       = decimal.NewFromInt(100)
	twelveHundred = decimal.NewFromInt(1200)
)

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// validMoney reports whether d has at most two decimal places.
func validMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// approxZero reports |d| <= Epsilon.
func approxZero(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// monthlyRate converts an annual percentage rate to a monthly fraction.
func monthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.Div(twelveHundred)
}

func percentOf(base, pct decimal.Decimal) decimal.Decimal {
	return round2(base.Mul(pct).Div(hundred))
}

// takeUpTo takes as much of available as is needed to cover want and returns
// the taken amount and what is left over.
func takeUpTo(available, want decimal.Decimal) (taken, left decimal.Decimal) {
	if !want.IsPositive() || !available.IsPositive() {
		return decimal.Zero, available
	}
	if available.GreaterThanOrEqual(want) {
		return want, available.Sub(want)
	}
	return available, decimal.Zero
}

// dateOnly truncates t to its calendar date in UTC.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// addMonths moves t by n calendar months, clamping the day to the end of a
// shorter month: Jan 31 + 1 month is Feb 28 (or 29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysBetween(from, to time.Time) int {
	return int(dateOnly(to).Sub(dateOnly(from)).Hours() / 24)
}

// dueOrder returns installment indices sorted by due date, then number.
func dueOrder(installments []models.Installment) []int {
	idx := make([]int, len(installments))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := installments[idx[a]], installments[idx[b]]
		if !ia.DueDate.Equal(ib.DueDate) {
			return ia.DueDate.Before(ib.DueDate)
		}
		return ia.Number < ib.Number
	})
	return idx
}

// nextUnsettled is the earliest-due installment that still expects money.
func nextUnsettled(installments []models.Installment) *models.Installment {
	for _, i := range dueOrder(installments) {
		if !installments[i].Status.IsSettled() {
			return &installments[i]
		}
	}
	return nil
}

// TotalRemainingDue sums the remaining amounts of all unsettled installments.
func TotalRemainingDue(installments []models.Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		if inst.Status.IsSettled() {
			continue
		}
		total = total.Add(inst.RemainingTotal())
	}
	return total
}
