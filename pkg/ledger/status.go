package ledger

import (
	"strings"
	"time"

	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
)

// systemActor attributes transitions the engine makes on its own.
const systemActor = "system"

// regularTransitions is the non-privileged transition table. Terminal states
// have no entry: only OverrideStatus can move a ledger out of them.
var regularTransitions = map[models.LedgerStatus][]models.LedgerStatus{
	models.StatusActive: {
		models.StatusActiveGrace, models.StatusActiveOverdue,
		models.StatusFullyRepaid, models.StatusForeclosed, models.StatusRestructured,
	},
	models.StatusActiveGrace: {
		models.StatusActive, models.StatusActiveOverdue,
		models.StatusFullyRepaid, models.StatusForeclosed, models.StatusRestructured,
	},
	models.StatusActiveOverdue: {
		models.StatusActive, models.StatusActiveGrace,
		models.StatusFullyRepaid, models.StatusForeclosed, models.StatusRestructured,
	},
	models.StatusRestructured: {
		models.StatusFullyRepaid, models.StatusForeclosed, models.StatusRestructured,
	},
	models.StatusDefaulted: {
		models.StatusFullyRepaid, models.StatusForeclosed, models.StatusRestructured,
	},
	models.StatusLegalActionPending: {
		models.StatusFullyRepaid, models.StatusForeclosed, models.StatusRestructured,
	},
}

// CanTransition reports whether from -> to is allowed without an override.
func CanTransition(from, to models.LedgerStatus) bool {
	for _, allowed := range regularTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves the ledger along the regular table and records the change.
// Restructured -> Restructured is recorded; other self-transitions are no-ops.
func transition(l *models.Ledger, to models.LedgerStatus, actor, reason string, now time.Time) error {
	if l.Status == to && to != models.StatusRestructured {
		return nil
	}
	if !CanTransition(l.Status, to) {
		return apperr.Conflict("ledger %s cannot move from %s to %s", l.ID, l.Status, to)
	}
	l.StatusHistory = append(l.StatusHistory, models.StatusChange{
		From:   l.Status,
		To:     to,
		Actor:  actor,
		Reason: reason,
		At:     now,
	})
	l.Status = to
	if to.IsTerminal() {
		closed := now
		l.ClosureDate = &closed
	}
	return nil
}

// DeriveStatus computes the status the ledger's financial state implies.
// Terminal states are kept; Restructured, Defaulted and Legal Action Pending
// stick until the loan closes. Otherwise the age of the oldest unsettled
// installment decides between Active, Active-Grace and Active-Overdue.
func (e Engine) DeriveStatus(l *models.Ledger, now time.Time) models.LedgerStatus {
	if l.Status.IsTerminal() {
		return l.Status
	}
	oldest := nextUnsettled(l.Installments)
	if oldest == nil {
		return models.StatusFullyRepaid
	}
	switch l.Status {
	case models.StatusRestructured, models.StatusDefaulted, models.StatusLegalActionPending:
		return l.Status
	}

	late := daysBetween(oldest.DueDate, now)
	switch {
	case late <= 0:
		return models.StatusActive
	case late <= l.Penalty.GracePeriodDays:
		return models.StatusActiveGrace
	default:
		return models.StatusActiveOverdue
	}
}

// applyDerivedStatus moves the ledger to its derived status. Outstanding
// principal is already zero when that status is Fully Repaid: Recompute
// clears it once no installment is left unsettled.
func (e Engine) applyDerivedStatus(l *models.Ledger, now time.Time, reason string) error {
	to := e.DeriveStatus(l, now)
	if to == l.Status {
		return nil
	}
	return transition(l, to, systemActor, reason, now)
}

// StatusOverride is a privileged status change requested by an administrator.
type StatusOverride struct {
	Status models.LedgerStatus
	Actor  string
	Reason string
}

// OverrideStatus moves the ledger to any status, bypassing the regular table.
// Write-off stamps a WriteOffDetail for the outstanding principal; reopening a
// terminal ledger clears its closure date.
func (e Engine) OverrideStatus(l *models.Ledger, req StatusOverride, now time.Time) error {
	if !req.Status.Valid() {
		return apperr.Validation("unknown status %q", req.Status)
	}
	if strings.TrimSpace(req.Actor) == "" {
		return apperr.Validation("status override requires an actor")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return apperr.Validation("status override requires a reason")
	}
	if l.Status == req.Status {
		return apperr.Conflict("ledger %s is already %s", l.ID, req.Status)
	}

	from := l.Status
	l.StatusHistory = append(l.StatusHistory, models.StatusChange{
		From:       from,
		To:         req.Status,
		Actor:      req.Actor,
		Reason:     req.Reason,
		Privileged: true,
		At:         now,
	})
	l.Status = req.Status

	switch {
	case req.Status == models.StatusWriteOff:
		l.WriteOff = &models.WriteOffDetail{
			Date:       now,
			Amount:     l.CurrentOutstandingPrincipal,
			Reason:     req.Reason,
			ApprovedBy: req.Actor,
		}
		closed := now
		l.ClosureDate = &closed
	case req.Status.IsTerminal():
		closed := now
		l.ClosureDate = &closed
	case from.IsTerminal():
		l.ClosureDate = nil
	}
	return nil
}
