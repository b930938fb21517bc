package ledger

import (
	"time"

	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// AssessLateFees charges the configured late fee once on every unsettled
// installment that is past its due date by more than the grace period, then
// refreshes totals and the derived status. It returns the number of
// installments charged.
func (e Engine) AssessLateFees(l *models.Ledger, now time.Time) (int, error) {
	if l.Status.IsTerminal() {
		return 0, apperr.Conflict("ledger %s is %s", l.ID, l.Status)
	}

	cfg := l.Penalty
	today := dateOnly(now)
	charged := 0
	if cfg.LateFeeValue.IsPositive() {
		for i := range l.Installments {
			inst := &l.Installments[i]
			if inst.Status.IsSettled() || inst.PenaltyDue.IsPositive() {
				continue
			}
			graceEnds := dateOnly(inst.DueDate).AddDate(0, 0, cfg.GracePeriodDays)
			if !today.After(graceEnds) {
				continue
			}
			base := inst.RemainingPrincipal().Add(inst.RemainingInterest())
			if approxZero(base) {
				continue
			}
			fee := lateFee(cfg, base)
			if !fee.IsPositive() {
				continue
			}
			inst.PenaltyDue = fee
			charged++
		}
	}

	e.Recompute(l, now)
	if err := e.applyDerivedStatus(l, now, "late fee assessment"); err != nil {
		return 0, err
	}
	return charged, nil
}

func lateFee(cfg models.PenaltyConfig, base decimal.Decimal) decimal.Decimal {
	if cfg.LateFeeType.IsPercentage() {
		return percentOf(base, cfg.LateFeeValue)
	}
	return round2(cfg.LateFeeValue)
}
