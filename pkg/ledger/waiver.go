package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// WaiverRequest forgives amounts on one installment.
type WaiverRequest struct {
	InstallmentNumber int
	Principal         decimal.Decimal
	Interest          decimal.Decimal
	Penalty           decimal.Decimal
	Note              string
	Actor             string
}

// ApplyWaiver adds the requested amounts to the installment's waived fields.
// Waivers only accumulate; nothing here retracts an earlier one.
func (e Engine) ApplyWaiver(l *models.Ledger, req WaiverRequest, now time.Time) (*models.WaiverEvent, error) {
	if req.Principal.IsNegative() || req.Interest.IsNegative() || req.Penalty.IsNegative() {
		return nil, apperr.Validation("waiver amounts must not be negative")
	}
	if !validMoney(req.Principal) || !validMoney(req.Interest) || !validMoney(req.Penalty) {
		return nil, apperr.Validation("waiver amounts must have at most two decimal places")
	}
	total := req.Principal.Add(req.Interest).Add(req.Penalty)
	if !total.IsPositive() {
		return nil, apperr.Validation("waiver must forgive a positive amount")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, apperr.Validation("waiver requires an actor")
	}
	if l.Status.IsTerminal() {
		return nil, apperr.Conflict("ledger %s is %s and accepts no waivers", l.ID, l.Status)
	}

	inst, ok := l.Installment(req.InstallmentNumber)
	if !ok {
		return nil, apperr.NotFound("installment %d not found on ledger %s", req.InstallmentNumber, l.ID)
	}
	if inst.Status == models.InstallmentCancelled {
		return nil, apperr.Conflict("installment %d is cancelled", inst.Number)
	}

	checks := []struct {
		name      string
		amount    decimal.Decimal
		remaining decimal.Decimal
	}{
		{"principal", req.Principal, inst.RemainingPrincipal()},
		{"interest", req.Interest, inst.RemainingInterest()},
		{"penalty", req.Penalty, inst.RemainingPenalty()},
	}
	for _, c := range checks {
		if c.amount.GreaterThan(c.remaining.Add(Epsilon)) {
			return nil, apperr.Validation("%s waiver %s exceeds remaining %s on installment %d",
				c.name, c.amount.StringFixed(2), c.remaining.StringFixed(2), inst.Number)
		}
	}

	inst.PrincipalWaived = inst.PrincipalWaived.Add(req.Principal)
	inst.InterestWaived = inst.InterestWaived.Add(req.Interest)
	inst.PenaltyWaived = inst.PenaltyWaived.Add(req.Penalty)

	event := models.WaiverEvent{
		ID:                uuid.New(),
		InstallmentNumber: inst.Number,
		Principal:         req.Principal,
		Interest:          req.Interest,
		Penalty:           req.Penalty,
		Note:              req.Note,
		WaivedBy:          req.Actor,
		WaivedAt:          now,
	}
	l.Waivers = append(l.Waivers, event)

	e.Recompute(l, now)
	if err := e.applyDerivedStatus(l, now, "waiver "+event.ID.String()); err != nil {
		return nil, err
	}
	return &event, nil
}
