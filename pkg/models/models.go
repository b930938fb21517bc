package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerStatus is the overall state of a repayment ledger.
type LedgerStatus string

const (
	StatusActive             LedgerStatus = "active"
	StatusActiveGrace        LedgerStatus = "active_grace"
	StatusActiveOverdue      LedgerStatus = "active_overdue"
	StatusFullyRepaid        LedgerStatus = "fully_repaid"
	StatusForeclosed         LedgerStatus = "foreclosed"
	StatusRestructured       LedgerStatus = "restructured"
	StatusDefaulted          LedgerStatus = "defaulted"
	StatusWriteOff           LedgerStatus = "write_off"
	StatusLegalActionPending LedgerStatus = "legal_action_pending"
)

// AllStatuses lists every ledger status in declaration order.
var AllStatuses = []LedgerStatus{
	StatusActive,
	StatusActiveGrace,
	StatusActiveOverdue,
	StatusFullyRepaid,
	StatusForeclosed,
	StatusRestructured,
	StatusDefaulted,
	StatusWriteOff,
	StatusLegalActionPending,
}

// Valid reports whether s is a known status.
func (s LedgerStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the ledger accepts no further financial mutation.
func (s LedgerStatus) IsTerminal() bool {
	return s == StatusFullyRepaid || s == StatusForeclosed || s == StatusWriteOff
}

// InstallmentStatus is the state of a single scheduled installment.
type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "pending"
	InstallmentPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentOverdue       InstallmentStatus = "overdue"
	InstallmentPaid          InstallmentStatus = "paid"
	InstallmentWaived        InstallmentStatus = "waived"
	InstallmentCancelled     InstallmentStatus = "cancelled"
)

// IsSettled reports whether nothing more is expected on the installment.
func (s InstallmentStatus) IsSettled() bool {
	return s == InstallmentPaid || s == InstallmentWaived || s == InstallmentCancelled
}

// Installment is one row of the amortization schedule.
type Installment struct {
	Number  int       `json:"number"`
	DueDate time.Time `json:"due_date"`

	PrincipalDue decimal.Decimal `json:"principal_due"`
	InterestDue  decimal.Decimal `json:"interest_due"`
	PenaltyDue   decimal.Decimal `json:"penalty_due"`

	PrincipalPaid decimal.Decimal `json:"principal_paid"`
	InterestPaid  decimal.Decimal `json:"interest_paid"`
	PenaltyPaid   decimal.Decimal `json:"penalty_paid"`

	PrincipalWaived decimal.Decimal `json:"principal_waived"`
	InterestWaived  decimal.Decimal `json:"interest_waived"`
	PenaltyWaived   decimal.Decimal `json:"penalty_waived"`

	Status   InstallmentStatus `json:"status"`
	PaidDate *time.Time        `json:"paid_date,omitempty"`
}

// RemainingPrincipal is principal still owed on the installment, never negative.
func (i Installment) RemainingPrincipal() decimal.Decimal {
	return nonNegative(i.PrincipalDue.Sub(i.PrincipalPaid).Sub(i.PrincipalWaived))
}

// RemainingInterest is interest still owed on the installment, never negative.
func (i Installment) RemainingInterest() decimal.Decimal {
	return nonNegative(i.InterestDue.Sub(i.InterestPaid).Sub(i.InterestWaived))
}

// RemainingPenalty is penalty still owed on the installment, never negative.
func (i Installment) RemainingPenalty() decimal.Decimal {
	return nonNegative(i.PenaltyDue.Sub(i.PenaltyPaid).Sub(i.PenaltyWaived))
}

// RemainingTotal sums the three remaining components.
func (i Installment) RemainingTotal() decimal.Decimal {
	return i.RemainingPrincipal().Add(i.RemainingInterest()).Add(i.RemainingPenalty())
}

// TotalDue is the scheduled amount including any assessed penalty.
func (i Installment) TotalDue() decimal.Decimal {
	return i.PrincipalDue.Add(i.InterestDue).Add(i.PenaltyDue)
}

// TotalPaid sums the paid components.
func (i Installment) TotalPaid() decimal.Decimal {
	return i.PrincipalPaid.Add(i.InterestPaid).Add(i.PenaltyPaid)
}

// TotalWaived sums the waived components.
func (i Installment) TotalWaived() decimal.Decimal {
	return i.PrincipalWaived.Add(i.InterestWaived).Add(i.PenaltyWaived)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

type TransactionKind string

const (
	TransactionKindPayment     TransactionKind = "payment"
	TransactionKindAdmin       TransactionKind = "admin_payment"
	TransactionKindForeclosure TransactionKind = "foreclosure"
)

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// PaymentTransaction is an entry in the ledger's append-only payment log.
// PrincipalComponent + InterestComponent + PenaltyComponent + FeeComponent +
// UnallocatedAmount always equals AmountReceived.
type PaymentTransaction struct {
	ID                 uuid.UUID         `json:"id"`
	Kind               TransactionKind   `json:"kind"`
	AmountReceived     decimal.Decimal   `json:"amount_received"`
	PrincipalComponent decimal.Decimal   `json:"principal_component"`
	InterestComponent  decimal.Decimal   `json:"interest_component"`
	PenaltyComponent   decimal.Decimal   `json:"penalty_component"`
	FeeComponent       decimal.Decimal   `json:"fee_component"`
	UnallocatedAmount  decimal.Decimal   `json:"unallocated_amount"`
	Method             string            `json:"method"`
	Reference          string            `json:"reference,omitempty"`
	Status             TransactionStatus `json:"status"`
	RecordedBy         string            `json:"recorded_by,omitempty"`
	Note               string            `json:"note,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// AllocatedTotal is everything in the transaction except the unallocated remainder.
func (t PaymentTransaction) AllocatedTotal() decimal.Decimal {
	return t.PrincipalComponent.Add(t.InterestComponent).Add(t.PenaltyComponent).Add(t.FeeComponent)
}

// WaiverEvent records a forgiveness applied to one installment.
type WaiverEvent struct {
	ID                uuid.UUID       `json:"id"`
	InstallmentNumber int             `json:"installment_number"`
	Principal         decimal.Decimal `json:"principal"`
	Interest          decimal.Decimal `json:"interest"`
	Penalty           decimal.Decimal `json:"penalty"`
	Note              string          `json:"note,omitempty"`
	WaivedBy          string          `json:"waived_by"`
	WaivedAt          time.Time       `json:"waived_at"`
}

// Total sums the three waived components.
func (w WaiverEvent) Total() decimal.Decimal {
	return w.Principal.Add(w.Interest).Add(w.Penalty)
}

// RestructureEvent records new terms applied from a point in the schedule onward.
type RestructureEvent struct {
	ID                    uuid.UUID       `json:"id"`
	EffectiveFrom         time.Time       `json:"effective_from"`
	FirstNewInstallment   int             `json:"first_new_installment"`
	OutstandingPrincipal  decimal.Decimal `json:"outstanding_principal"`
	PreviousAnnualRate    decimal.Decimal `json:"previous_annual_rate"`
	NewAnnualRate         decimal.Decimal `json:"new_annual_rate"`
	PreviousEMI           decimal.Decimal `json:"previous_emi"`
	NewEMI                decimal.Decimal `json:"new_emi"`
	NewTenureMonths       int             `json:"new_tenure_months"`
	CarriedInterest       decimal.Decimal `json:"carried_interest"`
	CarriedPenalty        decimal.Decimal `json:"carried_penalty"`
	CancelledInstallments []int           `json:"cancelled_installments"`
	Reason                string          `json:"reason"`
	ApprovedBy            string          `json:"approved_by"`
	RecordedAt            time.Time       `json:"recorded_at"`
}

// WriteOffDetail is written when an administrator closes the loan as a loss.
type WriteOffDetail struct {
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	ApprovedBy string          `json:"approved_by"`
}

// ForeclosureQuote is the amount required to settle the loan early.
type ForeclosureQuote struct {
	LedgerID             uuid.UUID       `json:"ledger_id"`
	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
	AccruedInterest      decimal.Decimal `json:"accrued_interest"`
	OutstandingPenalty   decimal.Decimal `json:"outstanding_penalty"`
	Fee                  decimal.Decimal `json:"fee"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	QuotedAt             time.Time       `json:"quoted_at"`
	ValidUntil           time.Time       `json:"valid_until"`
}

// ForeclosureDetail is written once a foreclosure is confirmed.
type ForeclosureDetail struct {
	ForeclosureQuote
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	ConfirmedBy   string          `json:"confirmed_by,omitempty"`
	SettledAt     time.Time       `json:"settled_at"`
}

// StatusChange is an immutable audit record of a ledger status transition.
type StatusChange struct {
	From       LedgerStatus `json:"from"`
	To         LedgerStatus `json:"to"`
	Actor      string       `json:"actor,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Privileged bool         `json:"privileged"`
	At         time.Time    `json:"at"`
}

type NoteKind string

const (
	NoteKindInternal      NoteKind = "internal"
	NoteKindCommunication NoteKind = "communication"
)

// Note is an internal remark or a logged communication with the borrower.
type Note struct {
	ID      uuid.UUID `json:"id"`
	Kind    NoteKind  `json:"kind"`
	Channel string    `json:"channel,omitempty"`
	Body    string    `json:"body"`
	Author  string    `json:"author"`
	At      time.Time `json:"at"`
}

// Ledger is the repayment ledger of one disbursed loan submission. It embeds
// the full installment schedule, payment log and history blocks.
type Ledger struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID string    `json:"submission_id"`
	BorrowerID   string    `json:"borrower_id"`
	ProductCode  string    `json:"product_code,omitempty"`

	DisbursedAmount    decimal.Decimal `json:"disbursed_amount"`
	ProcessingFee      decimal.Decimal `json:"processing_fee"`
	AnnualRate         decimal.Decimal `json:"annual_rate"`
	TenureMonths       int             `json:"tenure_months"`
	InitialEMI         decimal.Decimal `json:"initial_emi"`
	DisbursementDate   time.Time       `json:"disbursement_date"`
	RepaymentStartDate time.Time       `json:"repayment_start_date"`

	// Current terms differ from the agreed ones after a restructure.
	CurrentAnnualRate decimal.Decimal `json:"current_annual_rate"`
	CurrentEMI        decimal.Decimal `json:"current_emi"`

	Penalty    PenaltyConfig    `json:"penalty"`
	Prepayment PrepaymentConfig `json:"prepayment"`

	TotalPrincipalRepaid        decimal.Decimal `json:"total_principal_repaid"`
	TotalInterestRepaid         decimal.Decimal `json:"total_interest_repaid"`
	TotalPenaltyRepaid          decimal.Decimal `json:"total_penalty_repaid"`
	TotalFeesCollected          decimal.Decimal `json:"total_fees_collected"`
	TotalPrincipalWaived        decimal.Decimal `json:"total_principal_waived"`
	TotalInterestWaived         decimal.Decimal `json:"total_interest_waived"`
	TotalPenaltyWaived          decimal.Decimal `json:"total_penalty_waived"`
	CurrentOutstandingPrincipal decimal.Decimal `json:"current_outstanding_principal"`

	NextDueDate   *time.Time      `json:"next_due_date,omitempty"`
	NextEMIAmount decimal.Decimal `json:"next_emi_amount"`

	Status      LedgerStatus       `json:"status"`
	ClosureDate *time.Time         `json:"closure_date,omitempty"`
	Foreclosure *ForeclosureDetail `json:"foreclosure,omitempty"`
	WriteOff    *WriteOffDetail    `json:"write_off,omitempty"`

	Installments  []Installment        `json:"installments"`
	Transactions  []PaymentTransaction `json:"transactions"`
	Waivers       []WaiverEvent        `json:"waivers"`
	Restructures  []RestructureEvent   `json:"restructures"`
	StatusHistory []StatusChange       `json:"status_history"`
	Notes         []Note               `json:"notes"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveAnnualRate is the rate currently charged on the outstanding principal.
func (l *Ledger) EffectiveAnnualRate() decimal.Decimal {
	if len(l.Restructures) > 0 {
		return l.CurrentAnnualRate
	}
	return l.AnnualRate
}

// Installment returns a pointer to the installment with the given number.
func (l *Ledger) Installment(number int) (*Installment, bool) {
	for i := range l.Installments {
		if l.Installments[i].Number == number {
			return &l.Installments[i], true
		}
	}
	return nil, false
}
