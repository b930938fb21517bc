package ledger

import (
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// Totals are the ledger-level aggregates derived from the detail records.
type Totals struct {
	PrincipalRepaid      decimal.Decimal
	InterestRepaid       decimal.Decimal
	PenaltyRepaid        decimal.Decimal
	FeesCollected        decimal.Decimal
	PrincipalWaived      decimal.Decimal
	InterestWaived       decimal.Decimal
	PenaltyWaived        decimal.Decimal
	OutstandingPrincipal decimal.Decimal
}

// Aggregate folds the transaction log and installments into ledger totals.
// Repaid amounts come from completed transactions, waived amounts from the
// installments. It has no side effects.
func Aggregate(disbursed decimal.Decimal, installments []models.Installment, transactions []models.PaymentTransaction) Totals {
	var t Totals
	for _, txn := range transactions {
		if txn.Status != models.TransactionStatusCompleted {
			continue
		}
		t.PrincipalRepaid = t.PrincipalRepaid.Add(txn.PrincipalComponent)
		t.InterestRepaid = t.InterestRepaid.Add(txn.InterestComponent)
		t.PenaltyRepaid = t.PenaltyRepaid.Add(txn.PenaltyComponent)
		t.FeesCollected = t.FeesCollected.Add(txn.FeeComponent)
	}
	for _, inst := range installments {
		t.PrincipalWaived = t.PrincipalWaived.Add(inst.PrincipalWaived)
		t.InterestWaived = t.InterestWaived.Add(inst.InterestWaived)
		t.PenaltyWaived = t.PenaltyWaived.Add(inst.PenaltyWaived)
	}
	t.OutstandingPrincipal = nonNegative(disbursed.Sub(t.PrincipalRepaid).Sub(t.PrincipalWaived))
	return t
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ClassifyInstallment derives an installment's status. An installment is
// settled only when nothing at all remains; Epsilon never closes one.
//
//	cancelled                              -> Cancelled
//	settled, nothing waived                -> Paid
//	settled, nothing paid                  -> Waived
//	settled, both                          -> per SettlementPolicy
//	unsettled, due before today            -> Overdue
//	unsettled, something paid or waived    -> Partially Paid
//	otherwise                              -> Pending
func (e Engine) ClassifyInstallment(inst models.Installment, now time.Time) models.InstallmentStatus {
	if inst.Status == models.InstallmentCancelled {
		return models.InstallmentCancelled
	}

	paid, waived := inst.TotalPaid(), inst.TotalWaived()
	if inst.RemainingTotal().IsZero() {
		switch {
		case !waived.IsPositive():
			return models.InstallmentPaid
		case !paid.IsPositive():
			return models.InstallmentWaived
		}
		switch e.Settlement {
		case SettlementPaid:
			return models.InstallmentPaid
		case SettlementWaived:
			return models.InstallmentWaived
		default:
			if waived.GreaterThan(paid) {
				return models.InstallmentWaived
			}
			return models.InstallmentPaid
		}
	}

	if dateOnly(inst.DueDate).Before(dateOnly(now)) {
		return models.InstallmentOverdue
	}
	if paid.IsPositive() || waived.IsPositive() {
		return models.InstallmentPartiallyPaid
	}
	return models.InstallmentPending
}

// Recompute refreshes installment statuses, ledger totals and the next-due
// pointer from the detail records. Calling it twice yields the same ledger.
func (e Engine) Recompute(l *models.Ledger, now time.Time) {
	for i := range l.Installments {
		l.Installments[i].Status = e.ClassifyInstallment(l.Installments[i], now)
	}

	t := Aggregate(l.DisbursedAmount, l.Installments, l.Transactions)
	l.TotalPrincipalRepaid = t.PrincipalRepaid
	l.TotalInterestRepaid = t.InterestRepaid
	l.TotalPenaltyRepaid = t.PenaltyRepaid
	l.TotalFeesCollected = t.FeesCollected
	l.TotalPrincipalWaived = t.PrincipalWaived
	l.TotalInterestWaived = t.InterestWaived
	l.TotalPenaltyWaived = t.PenaltyWaived
	l.CurrentOutstandingPrincipal = t.OutstandingPrincipal

	next := nextUnsettled(l.Installments)
	if next == nil {
		l.CurrentOutstandingPrincipal = decimal.Zero
		l.NextDueDate = nil
		l.NextEMIAmount = decimal.Zero
		return
	}
	due := next.DueDate
	l.NextDueDate = &due
	l.NextEMIAmount = next.RemainingTotal()
}
