package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// PaymentRequest is an incoming repayment.
type PaymentRequest struct {
	Amount    decimal.Decimal
	Method    string
	Reference string
}

// AdminPaymentRequest is a payment recorded by an administrator, optionally
// back-dated.
type AdminPaymentRequest struct {
	PaymentRequest
	RecordedBy string
	Note       string
	Timestamp  time.Time
}

// ApplyPayment allocates a payment across unsettled installments in due-date
// order, interest first, then principal, then penalty. Money left after the
// last unsettled installment is kept as the transaction's unallocated amount;
// it is never carried to future installments.
func (e Engine) ApplyPayment(l *models.Ledger, req PaymentRequest, now time.Time) (*models.PaymentTransaction, error) {
	txn := models.PaymentTransaction{
		Kind:      models.TransactionKindPayment,
		Method:    req.Method,
		Reference: req.Reference,
		Timestamp: now,
	}
	return e.allocate(l, txn, req.Amount, now)
}

// ApplyAdminPayment runs an administrator-recorded payment through the same
// waterfall as ApplyPayment.
func (e Engine) ApplyAdminPayment(l *models.Ledger, req AdminPaymentRequest, now time.Time) (*models.PaymentTransaction, error) {
	if strings.TrimSpace(req.RecordedBy) == "" {
		return nil, apperr.Validation("admin transaction requires the recording actor")
	}
	at := req.Timestamp
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		return nil, apperr.Validation("admin transaction cannot be dated in the future")
	}
	txn := models.PaymentTransaction{
		Kind:       models.TransactionKindAdmin,
		Method:     req.Method,
		Reference:  req.Reference,
		RecordedBy: req.RecordedBy,
		Note:       req.Note,
		Timestamp:  at,
	}
	return e.allocate(l, txn, req.Amount, now)
}

func (e Engine) allocate(l *models.Ledger, txn models.PaymentTransaction, amount decimal.Decimal, now time.Time) (*models.PaymentTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("payment amount must be positive")
	}
	if !validMoney(amount) {
		return nil, apperr.Validation("payment amount %s has more than two decimal places", amount)
	}
	if strings.TrimSpace(txn.Method) == "" {
		return nil, apperr.Validation("payment method is required")
	}
	if l.Status.IsTerminal() {
		return nil, apperr.Conflict("ledger %s is %s and accepts no payments", l.ID, l.Status)
	}
	due := TotalRemainingDue(l.Installments)
	if !due.IsPositive() {
		return nil, apperr.Conflict("ledger %s has nothing due", l.ID)
	}
	if amount.GreaterThan(due.Add(Epsilon)) {
		return nil, apperr.Conflict("payment %s exceeds remaining due %s", amount.StringFixed(2), due.StringFixed(2))
	}

	left := amount
	var taken decimal.Decimal
	for _, i := range dueOrder(l.Installments) {
		if !left.IsPositive() {
			break
		}
		inst := &l.Installments[i]
		if inst.Status.IsSettled() {
			continue
		}

		taken, left = takeUpTo(left, inst.RemainingInterest())
		inst.InterestPaid = inst.InterestPaid.Add(taken)
		txn.InterestComponent = txn.InterestComponent.Add(taken)

		taken, left = takeUpTo(left, inst.RemainingPrincipal())
		inst.PrincipalPaid = inst.PrincipalPaid.Add(taken)
		txn.PrincipalComponent = txn.PrincipalComponent.Add(taken)

		taken, left = takeUpTo(left, inst.RemainingPenalty())
		inst.PenaltyPaid = inst.PenaltyPaid.Add(taken)
		txn.PenaltyComponent = txn.PenaltyComponent.Add(taken)

		if inst.RemainingTotal().IsZero() && inst.PaidDate == nil {
			paidAt := txn.Timestamp
			inst.PaidDate = &paidAt
		}
	}

	txn.ID = uuid.New()
	txn.AmountReceived = amount
	txn.UnallocatedAmount = left
	txn.Status = models.TransactionStatusCompleted
	l.Transactions = append(l.Transactions, txn)

	e.Recompute(l, now)
	if err := e.applyDerivedStatus(l, now, "payment "+txn.ID.String()); err != nil {
		return nil, err
	}
	return &txn, nil
}
