package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// RestructureRequest carries new terms for the remaining loan.
// A zero FirstDueDate keeps the current next due date when it is still ahead,
// or falls a month after today otherwise.
type RestructureRequest struct {
	NewAnnualRate   decimal.Decimal
	NewTenureMonths int
	FirstDueDate    time.Time
	Reason          string
	ApprovedBy      string
}

// Restructure regenerates the schedule from the outstanding principal under
// the new terms. Settled installments are left untouched; unsettled ones are
// cancelled with their paid amounts intact, and interest and penalty already
// due on them move onto the first new installment.
func (e Engine) Restructure(l *models.Ledger, req RestructureRequest, now time.Time) (*models.RestructureEvent, error) {
	if req.NewAnnualRate.IsNegative() {
		return nil, apperr.Validation("annual rate must not be negative")
	}
	if req.NewTenureMonths <= 0 {
		return nil, apperr.Validation("tenure must be at least one month")
	}
	if strings.TrimSpace(req.Reason) == "" || strings.TrimSpace(req.ApprovedBy) == "" {
		return nil, apperr.Validation("restructure requires a reason and an approver")
	}
	if !CanTransition(l.Status, models.StatusRestructured) {
		return nil, apperr.Conflict("ledger %s cannot be restructured while %s", l.ID, l.Status)
	}

	e.Recompute(l, now)
	outstanding := l.CurrentOutstandingPrincipal
	if !outstanding.IsPositive() {
		return nil, apperr.Conflict("ledger %s has no outstanding principal", l.ID)
	}

	today := dateOnly(now)
	first := req.FirstDueDate
	if first.IsZero() {
		if l.NextDueDate != nil && dateOnly(*l.NextDueDate).After(today) {
			first = *l.NextDueDate
		} else {
			first = addMonths(today, 1)
		}
	}
	if !dateOnly(first).After(today) {
		return nil, apperr.Validation("first due date %s must be after today", first.Format(time.DateOnly))
	}

	schedule, emi, err := BuildSchedule(Terms{
		Principal:    outstanding,
		AnnualRate:   req.NewAnnualRate,
		TenureMonths: req.NewTenureMonths,
		StartDate:    first,
	})
	if err != nil {
		return nil, err
	}

	event := models.RestructureEvent{
		ID:                   uuid.New(),
		EffectiveFrom:        first,
		OutstandingPrincipal: outstanding,
		PreviousAnnualRate:   l.EffectiveAnnualRate(),
		NewAnnualRate:        req.NewAnnualRate,
		PreviousEMI:          l.CurrentEMI,
		NewEMI:               emi,
		NewTenureMonths:      req.NewTenureMonths,
		Reason:               req.Reason,
		ApprovedBy:           req.ApprovedBy,
		RecordedAt:           now,
	}

	last := 0
	for i := range l.Installments {
		inst := &l.Installments[i]
		if inst.Number > last {
			last = inst.Number
		}
		if inst.Status.IsSettled() {
			continue
		}
		if !dateOnly(inst.DueDate).After(today) {
			event.CarriedInterest = event.CarriedInterest.Add(inst.RemainingInterest())
			event.CarriedPenalty = event.CarriedPenalty.Add(inst.RemainingPenalty())
		}
		inst.Status = models.InstallmentCancelled
		event.CancelledInstallments = append(event.CancelledInstallments, inst.Number)
	}

	for k := range schedule {
		schedule[k].Number = last + k + 1
	}
	schedule[0].InterestDue = schedule[0].InterestDue.Add(event.CarriedInterest)
	schedule[0].PenaltyDue = schedule[0].PenaltyDue.Add(event.CarriedPenalty)
	event.FirstNewInstallment = schedule[0].Number

	if err := transition(l, models.StatusRestructured, req.ApprovedBy, req.Reason, now); err != nil {
		return nil, err
	}
	l.Installments = append(l.Installments, schedule...)
	l.Restructures = append(l.Restructures, event)
	l.CurrentAnnualRate = req.NewAnnualRate
	l.CurrentEMI = emi

	e.Recompute(l, now)
	return &event, nil
}
