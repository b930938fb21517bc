package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// ForeclosureRequest carries the settlement payment for an early closure.
type ForeclosureRequest struct {
	Amount    decimal.Decimal
	Method    string
	Reference string
	Actor     string
}

// QuoteForeclosure prices an early full settlement: outstanding principal,
// interest accrued but not yet paid, unpaid penalties and the prepayment fee.
// ValidUntil is informational; ConfirmForeclosure re-prices at confirm time.
func (e Engine) QuoteForeclosure(l *models.Ledger, now time.Time) (*models.ForeclosureQuote, error) {
	if l.Status.IsTerminal() {
		return nil, apperr.Conflict("ledger %s is already %s", l.ID, l.Status)
	}
	if !CanTransition(l.Status, models.StatusForeclosed) {
		return nil, apperr.Conflict("ledger %s cannot be foreclosed while %s", l.ID, l.Status)
	}
	cfg := l.Prepayment
	if !cfg.AllowPrepayment {
		return nil, apperr.Conflict("prepayment is not allowed for ledger %s", l.ID)
	}
	lockInEnds := addMonths(l.RepaymentStartDate, cfg.LockInPeriodMonths)
	if now.Before(lockInEnds) {
		return nil, apperr.Conflict("foreclosure is locked until %s", lockInEnds.Format(time.DateOnly))
	}

	e.Recompute(l, now)
	outstanding := round2(l.CurrentOutstandingPrincipal)
	if !outstanding.IsPositive() {
		return nil, apperr.Conflict("ledger %s has no outstanding principal", l.ID)
	}

	interest, penalty := e.accruedCharges(l, now)
	fee := prepaymentFee(cfg, outstanding)

	validity := e.QuoteValidity
	if validity <= 0 {
		validity = DefaultQuoteValidity
	}
	return &models.ForeclosureQuote{
		LedgerID:             l.ID,
		OutstandingPrincipal: outstanding,
		AccruedInterest:      interest,
		OutstandingPenalty:   penalty,
		Fee:                  fee,
		TotalAmount:          round2(outstanding.Add(interest).Add(penalty).Add(fee)),
		QuotedAt:             now,
		ValidUntil:           now.Add(validity),
	}, nil
}

// prepaymentFee resolves both percentage variants to a percentage of the
// outstanding principal.
func prepaymentFee(cfg models.PrepaymentConfig, outstanding decimal.Decimal) decimal.Decimal {
	switch {
	case cfg.FeeType.IsPercentage():
		return percentOf(outstanding, cfg.FeeValue)
	case cfg.FeeType == models.FeeTypeFixed:
		return round2(cfg.FeeValue)
	default:
		return decimal.Zero
	}
}

// accruedCharges returns unpaid interest on installments already due plus the
// pro-rata interest of the running period, and unpaid penalties.
func (e Engine) accruedCharges(l *models.Ledger, now time.Time) (interest, penalty decimal.Decimal) {
	today := dateOnly(now)
	var current *models.Installment
	for _, i := range dueOrder(l.Installments) {
		inst := &l.Installments[i]
		if inst.Status.IsSettled() {
			continue
		}
		penalty = penalty.Add(inst.RemainingPenalty())
		if !dateOnly(inst.DueDate).After(today) {
			interest = interest.Add(inst.RemainingInterest())
			continue
		}
		if current == nil {
			current = inst
		}
	}

	if current != nil {
		periodEnd := dateOnly(current.DueDate)
		periodStart := addMonths(periodEnd, -1)
		if today.After(periodStart) {
			elapsed := decimal.NewFromInt(int64(daysBetween(periodStart, today)))
			length := decimal.NewFromInt(int64(daysBetween(periodStart, periodEnd)))
			rate := monthlyRate(l.EffectiveAnnualRate())
			proRata := l.CurrentOutstandingPrincipal.Mul(rate).Mul(elapsed).Div(length)
			// Interest already paid or waived ahead of time on this period counts.
			proRata = proRata.Sub(current.InterestPaid).Sub(current.InterestWaived)
			interest = interest.Add(nonNegative(proRata))
		}
	}
	return round2(interest), round2(penalty)
}

// ConfirmForeclosure settles the loan: it records the settlement transaction,
// cancels every unsettled installment and closes the ledger as Foreclosed.
// The payment must cover the freshly computed quote; up to Epsilon of excess
// is kept as unallocated.
func (e Engine) ConfirmForeclosure(l *models.Ledger, req ForeclosureRequest, now time.Time) (*models.ForeclosureDetail, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("foreclosure amount must be positive")
	}
	if !validMoney(req.Amount) {
		return nil, apperr.Validation("foreclosure amount %s has more than two decimal places", req.Amount)
	}
	if strings.TrimSpace(req.Method) == "" {
		return nil, apperr.Validation("payment method is required")
	}

	quote, err := e.QuoteForeclosure(l, now)
	if err != nil {
		return nil, err
	}
	if req.Amount.LessThan(quote.TotalAmount) {
		return nil, apperr.Validation("payment %s is short of foreclosure amount %s",
			req.Amount.StringFixed(2), quote.TotalAmount.StringFixed(2))
	}
	if req.Amount.GreaterThan(quote.TotalAmount.Add(Epsilon)) {
		return nil, apperr.Conflict("payment %s exceeds foreclosure amount %s",
			req.Amount.StringFixed(2), quote.TotalAmount.StringFixed(2))
	}

	txn := models.PaymentTransaction{
		ID:                 uuid.New(),
		Kind:               models.TransactionKindForeclosure,
		AmountReceived:     req.Amount,
		PrincipalComponent: quote.OutstandingPrincipal,
		InterestComponent:  quote.AccruedInterest,
		PenaltyComponent:   quote.OutstandingPenalty,
		FeeComponent:       quote.Fee,
		UnallocatedAmount:  req.Amount.Sub(quote.TotalAmount),
		Method:             req.Method,
		Reference:          req.Reference,
		Status:             models.TransactionStatusCompleted,
		RecordedBy:         req.Actor,
		Timestamp:          now,
	}

	if err := transition(l, models.StatusForeclosed, actorOr(req.Actor), "foreclosure "+txn.ID.String(), now); err != nil {
		return nil, err
	}
	l.Transactions = append(l.Transactions, txn)
	for i := range l.Installments {
		if !l.Installments[i].Status.IsSettled() {
			l.Installments[i].Status = models.InstallmentCancelled
		}
	}
	detail := &models.ForeclosureDetail{
		ForeclosureQuote: *quote,
		AmountPaid:       req.Amount,
		TransactionID:    txn.ID,
		ConfirmedBy:      req.Actor,
		SettledAt:        now,
	}
	l.Foreclosure = detail

	e.Recompute(l, now)
	return detail, nil
}

func actorOr(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return systemActor
	}
	return actor
}
