// Package notify delivers best-effort ledger events to the messaging side
// (email/SMS). Delivery failures never affect ledger state.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EventKind string

const (
	EventLedgerClosed     EventKind = "ledger_closed"
	EventLedgerForeclosed EventKind = "ledger_foreclosed"
	EventLedgerWrittenOff EventKind = "ledger_written_off"
)

// Event is a ledger milestone the borrower should hear about.
type Event struct {
	Kind         EventKind           `json:"kind"`
	LedgerID     uuid.UUID           `json:"ledger_id"`
	SubmissionID string              `json:"submission_id"`
	BorrowerID   string              `json:"borrower_id"`
	Status       models.LedgerStatus `json:"status"`
	Amount       decimal.Decimal     `json:"amount"`
	OccurredAt   time.Time           `json:"occurred_at"`
}

// EventForStatus builds the event announcing that l reached its current
// status, or reports false when that status is not announced.
func EventForStatus(l *models.Ledger, at time.Time) (Event, bool) {
	ev := Event{
		LedgerID:     l.ID,
		SubmissionID: l.SubmissionID,
		BorrowerID:   l.BorrowerID,
		Status:       l.Status,
		OccurredAt:   at,
	}
	switch l.Status {
	case models.StatusFullyRepaid:
		ev.Kind = EventLedgerClosed
		ev.Amount = l.TotalPrincipalRepaid.Add(l.TotalInterestRepaid).Add(l.TotalPenaltyRepaid)
	case models.StatusForeclosed:
		ev.Kind = EventLedgerForeclosed
		if l.Foreclosure != nil {
			ev.Amount = l.Foreclosure.AmountPaid
		}
	case models.StatusWriteOff:
		ev.Kind = EventLedgerWrittenOff
		if l.WriteOff != nil {
			ev.Amount = l.WriteOff.Amount
		}
	default:
		return Event{}, false
	}
	return ev, true
}

// Notifier delivers an event.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to a zap logger. It is the fallback when no
// messaging transport is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Info("ledger notification",
		zap.String("kind", string(ev.Kind)),
		zap.String("ledger_id", ev.LedgerID.String()),
		zap.String("borrower_id", ev.BorrowerID),
		zap.String("amount", ev.Amount.StringFixed(2)),
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
