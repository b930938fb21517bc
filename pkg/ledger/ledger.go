package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultNotifyTimeout    = 5 * time.Second
	defaultSweepConcurrency = 4
)

// ProductSource supplies loan product terms.
type ProductSource interface {
	Product(ctx context.Context, code string) (*models.Product, error)
}

// Ledger handles the business logic for repayment ledgers. Every mutation
// runs under a per-ledger lock as load, apply, recompute and a versioned
// write; nothing is persisted when any step fails.
type Ledger struct {
	storage  store.Storage
	engine   Engine
	products ProductSource
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	locks    *keyedMutex

	notifyTimeout    time.Duration
	sweepConcurrency int
	inflight         sync.WaitGroup
}

type Option func(*Ledger)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithNotifier sets the best-effort closure notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func WithProducts(p ProductSource) Option {
	return func(l *Ledger) { l.products = p }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithSettlementPolicy(p SettlementPolicy) Option {
	return func(l *Ledger) { l.engine.Settlement = p }
}

func WithQuoteValidity(d time.Duration) Option {
	return func(l *Ledger) { l.engine.QuoteValidity = d }
}

func WithSweepConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.sweepConcurrency = n
		}
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:          s,
		engine:           NewEngine(),
		now:              time.Now,
		locks:            newKeyedMutex(),
		notifyTimeout:    defaultNotifyTimeout,
		sweepConcurrency: defaultSweepConcurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.metrics == nil {
		l.metrics = metrics.New(prometheus.NewRegistry())
	}
	return l
}

// DisbursementRequest is the trigger from the application workflow.
type DisbursementRequest struct {
	SubmissionID     string
	BorrowerID       string
	ProductCode      string
	Amount           decimal.Decimal
	DisbursementDate time.Time
	// Zero values fall back to the product default tenure and to one month
	// after disbursement.
	TenureMonths       int
	RepaymentStartDate time.Time
}

// Disburse creates the ledger and its schedule for a disbursed submission.
// It runs once per submission.
func (l *Ledger) Disburse(ctx context.Context, req DisbursementRequest) (rec *models.Ledger, err error) {
	started := time.Now()
	defer func() { l.metrics.ObserveOperation("disburse", err, time.Since(started)) }()

	if strings.TrimSpace(req.SubmissionID) == "" || strings.TrimSpace(req.BorrowerID) == "" {
		return nil, apperr.Validation("submission id and borrower id are required")
	}
	now := l.now()
	rec, err = l.draft(ctx, req, now)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock("submission:" + req.SubmissionID)
	defer unlock()

	if _, err := l.storage.GetLedgerBySubmission(ctx, req.SubmissionID); err == nil {
		return nil, apperr.Conflict("a ledger already exists for submission %s", req.SubmissionID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Wrap(err, apperr.KindInternal, "failed to check existing ledger")
	}

	if err := l.storage.CreateLedger(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("a ledger already exists for submission %s", req.SubmissionID)
		}
		l.logger.Error("failed to store ledger", zap.String("submission_id", req.SubmissionID), zap.Error(err))
		return nil, apperr.Wrap(err, apperr.KindInternal, "failed to store ledger")
	}

	l.logger.Info("ledger created",
		zap.String("op", "disburse"),
		zap.String("ledger_id", rec.ID.String()),
		zap.String("submission_id", rec.SubmissionID),
		zap.String("principal", rec.DisbursedAmount.StringFixed(2)),
		zap.String("emi", rec.InitialEMI.StringFixed(2)),
		zap.Int("tenure_months", rec.TenureMonths),
	)
	return rec, nil
}

// PreviewSchedule returns the ledger a disbursement would create without
// storing it. Submission and borrower ids are optional.
func (l *Ledger) PreviewSchedule(ctx context.Context, req DisbursementRequest) (rec *models.Ledger, err error) {
	started := time.Now()
	defer func() { l.metrics.ObserveOperation("preview", err, time.Since(started)) }()
	return l.draft(ctx, req, l.now())
}

// draft checks req against its product and builds the unsaved ledger.
func (l *Ledger) draft(ctx context.Context, req DisbursementRequest, now time.Time) (*models.Ledger, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("disbursed amount must be positive")
	}
	if !validMoney(req.Amount) {
		return nil, apperr.Validation("disbursed amount %s has more than two decimal places", req.Amount)
	}
	if l.products == nil {
		return nil, apperr.Wrap(errors.New("no product catalog configured"), apperr.KindInternal, "cannot disburse")
	}
	product, err := l.products.Product(ctx, req.ProductCode)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Validation("unknown product %q", req.ProductCode)
		}
		return nil, err
	}
	if product.MinPrincipal.IsPositive() && req.Amount.LessThan(product.MinPrincipal) {
		return nil, apperr.Validation("amount %s is below the product minimum %s", req.Amount.StringFixed(2), product.MinPrincipal.StringFixed(2))
	}
	if product.MaxPrincipal.IsPositive() && req.Amount.GreaterThan(product.MaxPrincipal) {
		return nil, apperr.Validation("amount %s is above the product maximum %s", req.Amount.StringFixed(2), product.MaxPrincipal.StringFixed(2))
	}
	tenure := req.TenureMonths
	if tenure == 0 {
		tenure = product.DefaultTenureMonths
	}
	if (product.MinTenureMonths > 0 && tenure < product.MinTenureMonths) ||
		(product.MaxTenureMonths > 0 && tenure > product.MaxTenureMonths) {
		return nil, apperr.Validation("tenure %d months is outside %d-%d for product %s",
			tenure, product.MinTenureMonths, product.MaxTenureMonths, product.Code)
	}

	disbursedOn := req.DisbursementDate
	if disbursedOn.IsZero() {
		disbursedOn = now
	}
	startDate := req.RepaymentStartDate
	if startDate.IsZero() {
		startDate = addMonths(dateOnly(disbursedOn), 1)
	}
	if dateOnly(startDate).Before(dateOnly(disbursedOn)) {
		return nil, apperr.Validation("repayment cannot start before disbursement")
	}

	installments, emi, err := BuildSchedule(Terms{
		Principal:    req.Amount,
		AnnualRate:   product.AnnualRate,
		TenureMonths: tenure,
		StartDate:    startDate,
	})
	if err != nil {
		return nil, err
	}

	rec := &models.Ledger{
		ID:                 uuid.New(),
		SubmissionID:       req.SubmissionID,
		BorrowerID:         req.BorrowerID,
		ProductCode:        product.Code,
		DisbursedAmount:    req.Amount,
		ProcessingFee:      percentOf(req.Amount, product.ProcessingFeePercent),
		AnnualRate:         product.AnnualRate,
		TenureMonths:       tenure,
		InitialEMI:         emi,
		DisbursementDate:   disbursedOn,
		RepaymentStartDate: startDate,
		CurrentAnnualRate:  product.AnnualRate,
		CurrentEMI:         emi,
		Penalty:            product.Penalty,
		Prepayment:         product.Prepayment,
		Status:             models.StatusActive,
		Installments:       installments,
		StatusHistory: []models.StatusChange{
			{To: models.StatusActive, Actor: systemActor, Reason: "disbursed", At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.engine.Recompute(rec, now)
	return rec, nil
}

// GetLedger retrieves a ledger by its ID.
func (l *Ledger) GetLedger(ctx context.Context, id uuid.UUID) (*models.Ledger, error) {
	rec, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.refresh(rec), nil
}

// GetLedgerBySubmission retrieves the ledger of a loan submission.
func (l *Ledger) GetLedgerBySubmission(ctx context.Context, submissionID string) (*models.Ledger, error) {
	rec, err := l.storage.GetLedgerBySubmission(ctx, submissionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("no ledger for submission %s", submissionID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "failed to load ledger")
	}
	return l.refresh(rec), nil
}

// GetLedgersByBorrower lists a borrower's ledgers.
func (l *Ledger) GetLedgersByBorrower(ctx context.Context, borrowerID string) ([]*models.Ledger, error) {
	if strings.TrimSpace(borrowerID) == "" {
		return nil, apperr.Validation("borrower id is required")
	}
	recs, err := l.storage.GetLedgersByBorrower(ctx, borrowerID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "failed to list ledgers")
	}
	for _, rec := range recs {
		l.refresh(rec)
	}
	return recs, nil
}

// MakePayment applies a borrower payment through the allocation waterfall.
func (l *Ledger) MakePayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (*models.PaymentTransaction, error) {
	var txn *models.PaymentTransaction
	_, err := l.mutate(ctx, id, "payment", func(rec *models.Ledger, now time.Time) error {
		var err error
		txn, err = l.engine.ApplyPayment(rec, req, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveTransaction(*txn)
	l.logger.Info("payment applied",
		zap.String("op", "payment"),
		zap.String("ledger_id", id.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("amount", txn.AmountReceived.StringFixed(2)),
		zap.String("unallocated", txn.UnallocatedAmount.StringFixed(2)),
	)
	return txn, nil
}

// RecordAdminTransaction records a payment on behalf of an administrator.
func (l *Ledger) RecordAdminTransaction(ctx context.Context, id uuid.UUID, req AdminPaymentRequest) (*models.PaymentTransaction, error) {
	var txn *models.PaymentTransaction
	_, err := l.mutate(ctx, id, "admin_transaction", func(rec *models.Ledger, now time.Time) error {
		var err error
		txn, err = l.engine.ApplyAdminPayment(rec, req, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveTransaction(*txn)
	l.logger.Info("admin transaction recorded",
		zap.String("op", "admin_transaction"),
		zap.String("ledger_id", id.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("recorded_by", txn.RecordedBy),
		zap.String("amount", txn.AmountReceived.StringFixed(2)),
	)
	return txn, nil
}

// QuoteForeclosure prices an early settlement without changing the ledger.
func (l *Ledger) QuoteForeclosure(ctx context.Context, id uuid.UUID) (quote *models.ForeclosureQuote, err error) {
	started := time.Now()
	defer func() { l.metrics.ObserveOperation("foreclosure_quote", err, time.Since(started)) }()

	rec, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.engine.QuoteForeclosure(rec, l.now())
}

// ConfirmForeclosure settles and closes the ledger.
func (l *Ledger) ConfirmForeclosure(ctx context.Context, id uuid.UUID, req ForeclosureRequest) (*models.Ledger, error) {
	rec, err := l.mutate(ctx, id, "foreclosure", func(rec *models.Ledger, now time.Time) error {
		_, err := l.engine.ConfirmForeclosure(rec, req, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveTransaction(rec.Transactions[len(rec.Transactions)-1])
	l.logger.Info("ledger foreclosed",
		zap.String("op", "foreclosure"),
		zap.String("ledger_id", id.String()),
		zap.String("amount", rec.Foreclosure.AmountPaid.StringFixed(2)),
		zap.String("fee", rec.Foreclosure.Fee.StringFixed(2)),
	)
	return rec, nil
}

// WaiveInstallment forgives amounts on one installment.
func (l *Ledger) WaiveInstallment(ctx context.Context, id uuid.UUID, req WaiverRequest) (*models.WaiverEvent, error) {
	var event *models.WaiverEvent
	_, err := l.mutate(ctx, id, "waiver", func(rec *models.Ledger, now time.Time) error {
		var err error
		event, err = l.engine.ApplyWaiver(rec, req, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("installment waived",
		zap.String("op", "waiver"),
		zap.String("ledger_id", id.String()),
		zap.Int("installment", event.InstallmentNumber),
		zap.String("amount", event.Total().StringFixed(2)),
		zap.String("actor", event.WaivedBy),
	)
	return event, nil
}

// OverrideStatus is the privileged any-to-any status change.
func (l *Ledger) OverrideStatus(ctx context.Context, id uuid.UUID, req StatusOverride) (*models.Ledger, error) {
	var from models.LedgerStatus
	rec, err := l.mutate(ctx, id, "status_override", func(rec *models.Ledger, now time.Time) error {
		from = rec.Status
		if err := l.engine.OverrideStatus(rec, req, now); err != nil {
			return err
		}
		l.engine.Recompute(rec, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Warn("ledger status overridden",
		zap.String("op", "status_override"),
		zap.String("ledger_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(rec.Status)),
		zap.String("actor", req.Actor),
		zap.String("reason", req.Reason),
	)
	return rec, nil
}

// Restructure applies new terms to the rest of the loan.
func (l *Ledger) Restructure(ctx context.Context, id uuid.UUID, req RestructureRequest) (*models.RestructureEvent, error) {
	var event *models.RestructureEvent
	_, err := l.mutate(ctx, id, "restructure", func(rec *models.Ledger, now time.Time) error {
		var err error
		event, err = l.engine.Restructure(rec, req, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("ledger restructured",
		zap.String("op", "restructure"),
		zap.String("ledger_id", id.String()),
		zap.String("outstanding", event.OutstandingPrincipal.StringFixed(2)),
		zap.String("new_emi", event.NewEMI.StringFixed(2)),
		zap.Int("new_tenure_months", event.NewTenureMonths),
	)
	return event, nil
}

// NoteRequest appends an internal note or a communication-log entry.
type NoteRequest struct {
	Kind    models.NoteKind
	Channel string
	Body    string
	Author  string
}

// AddNote appends a note. Notes are allowed on closed ledgers too.
func (l *Ledger) AddNote(ctx context.Context, id uuid.UUID, req NoteRequest) (*models.Note, error) {
	if req.Kind == "" {
		req.Kind = models.NoteKindInternal
	}
	switch {
	case req.Kind != models.NoteKindInternal && req.Kind != models.NoteKindCommunication:
		return nil, apperr.Validation("unknown note kind %q", req.Kind)
	case req.Kind == models.NoteKindCommunication && strings.TrimSpace(req.Channel) == "":
		return nil, apperr.Validation("communication entries require a channel")
	case strings.TrimSpace(req.Body) == "" || strings.TrimSpace(req.Author) == "":
		return nil, apperr.Validation("note requires a body and an author")
	}

	var note models.Note
	_, err := l.mutate(ctx, id, "note", func(rec *models.Ledger, now time.Time) error {
		note = models.Note{
			ID:      uuid.New(),
			Kind:    req.Kind,
			Channel: req.Channel,
			Body:    req.Body,
			Author:  req.Author,
			At:      now,
		}
		rec.Notes = append(rec.Notes, note)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// AssessLateFees charges late fees on one ledger and refreshes its status.
func (l *Ledger) AssessLateFees(ctx context.Context, id uuid.UUID) (int, error) {
	var charged int
	_, err := l.mutate(ctx, id, "late_fees", func(rec *models.Ledger, now time.Time) error {
		var err error
		charged, err = l.engine.AssessLateFees(rec, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if charged > 0 {
		l.logger.Info("late fees assessed",
			zap.String("op", "late_fees"),
			zap.String("ledger_id", id.String()),
			zap.Int("installments", charged),
		)
	}
	return charged, nil
}

// SweepLateFees runs AssessLateFees over every open ledger. Ledgers that close
// while the sweep runs are skipped.
func (l *Ledger) SweepLateFees(ctx context.Context) (int, error) {
	var open []models.LedgerStatus
	for _, st := range models.AllStatuses {
		if !st.IsTerminal() {
			open = append(open, st)
		}
	}
	recs, err := l.storage.GetLedgersByStatus(ctx, open...)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindInternal, "failed to list open ledgers")
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.sweepConcurrency)
	for _, rec := range recs {
		id := rec.ID
		g.Go(func() error {
			n, err := l.AssessLateFees(gctx, id)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindStateConflict {
					l.logger.Debug("skipping ledger in sweep", zap.String("ledger_id", id.String()), zap.Error(err))
					return nil
				}
				return fmt.Errorf("assess late fees on %s: %w", id, err)
			}
			total.Add(int64(n))
			return nil
		})
	}
	err = g.Wait()
	return int(total.Load()), err
}

// Wait blocks until in-flight notifications have finished.
func (l *Ledger) Wait() {
	l.inflight.Wait()
}

func (l *Ledger) load(ctx context.Context, id uuid.UUID) (*models.Ledger, error) {
	rec, err := l.storage.GetLedger(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("ledger %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "failed to load ledger")
	}
	return rec, nil
}

// refresh brings a loaded copy up to date with the clock: installment
// statuses, totals and the ledger status are derived again for now. Nothing
// is written back; the next mutation persists the same derivation.
func (l *Ledger) refresh(rec *models.Ledger) *models.Ledger {
	now := l.now()
	l.engine.Recompute(rec, now)
	if to := l.engine.DeriveStatus(rec, now); to != rec.Status && CanTransition(rec.Status, to) {
		rec.Status = to
	}
	return rec
}

// mutate is the single read-modify-write path for every ledger change. fn
// works on a private copy; the copy is written back only if fn succeeds and
// the stored version has not moved.
func (l *Ledger) mutate(ctx context.Context, id uuid.UUID, op string, fn func(rec *models.Ledger, now time.Time) error) (rec *models.Ledger, err error) {
	started := time.Now()
	defer func() { l.metrics.ObserveOperation(op, err, time.Since(started)) }()

	unlock := l.locks.Lock(id.String())
	defer unlock()

	rec, err = l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	before := rec.Status
	now := l.now()

	if err = fn(rec, now); err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			l.logger.Error("ledger operation failed", zap.String("op", op), zap.String("ledger_id", id.String()), zap.Error(err))
		}
		return nil, err
	}

	rec.UpdatedAt = now
	if err = l.storage.UpdateLedger(ctx, rec); err != nil {
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			l.metrics.VersionConflicts.Inc()
			err = apperr.Wrap(err, apperr.KindStateConflict, "ledger changed concurrently, retry")
		case errors.Is(err, store.ErrNotFound):
			err = apperr.NotFound("ledger %s not found", id)
		default:
			l.logger.Error("failed to persist ledger", zap.String("op", op), zap.String("ledger_id", id.String()), zap.Error(err))
			err = apperr.Wrap(err, apperr.KindInternal, "failed to persist ledger")
		}
		return nil, err
	}

	if rec.Status != before {
		l.metrics.ObserveStatus(rec.Status)
		if ev, ok := notify.EventForStatus(rec, now); ok {
			l.dispatch(ev)
		}
	}
	return rec, nil
}

// dispatch sends ev in the background after the mutation has committed.
func (l *Ledger) dispatch(ev notify.Event) {
	if l.notifier == nil {
		return
	}
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.notifyTimeout)
		defer cancel()
		if err := l.notifier.Notify(ctx, ev); err != nil {
			l.metrics.NotificationFailures.Inc()
			l.logger.Warn("notification failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("ledger_id", ev.LedgerID.String()),
				zap.Error(err),
			)
		}
	}()
}
