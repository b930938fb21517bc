package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// actorHeader names the authenticated caller. The gateway in front of the
// service sets it; handlers fall back to the body's actor field.
const actorHeader = "X-Actor-ID"

// Server holds the ledger service and exposes it over HTTP.
type Server struct {
	ledger   *ledger.Ledger
	logger   *zap.Logger
	gatherer prometheus.Gatherer
}

func NewServer(l *ledger.Ledger, logger *zap.Logger, gatherer prometheus.Gatherer) *Server {
	return &Server{ledger: l, logger: logger, gatherer: gatherer}
}

// Router registers every route.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/ledgers", s.listLedgersHandler).Methods("GET")
	router.HandleFunc("/ledgers", s.disburseHandler).Methods("POST")
	router.HandleFunc("/ledgers/{id}", s.getLedgerHandler).Methods("GET")
	router.HandleFunc("/ledgers/{id}/payments", s.paymentHandler).Methods("POST")
	router.HandleFunc("/ledgers/{id}/transactions", s.adminTransactionHandler).Methods("POST")
	router.HandleFunc("/ledgers/{id}/foreclosure-quote", s.foreclosureQuoteHandler).Methods("GET")
	router.HandleFunc("/ledgers/{id}/foreclosure", s.foreclosureHandler).Methods("POST")
	router.HandleFunc("/ledgers/{id}/installments/{number}/waivers", s.waiverHandler).Methods("POST")
	router.HandleFunc("/ledgers/{id}/status", s.statusHandler).Methods("PUT")
	router.HandleFunc("/ledgers/{id}/restructures", s.restructureHandler).Methods("POST")
	router.HandleFunc("/ledgers/{id}/notes", s.noteHandler).Methods("POST")
	router.HandleFunc("/ledgers/{id}/late-fees", s.lateFeesHandler).Methods("POST")
	router.HandleFunc("/submissions/{submissionID}/ledger", s.getBySubmissionHandler).Methods("GET")
	router.HandleFunc("/schedules/preview", s.previewHandler).Methods("POST")
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	return router
}

type disbursementBody struct {
	SubmissionID       string          `json:"submission_id"`
	BorrowerID         string          `json:"borrower_id"`
	ProductCode        string          `json:"product_code"`
	Amount             decimal.Decimal `json:"amount"`
	DisbursementDate   date            `json:"disbursement_date"`
	TenureMonths       int             `json:"tenure_months"`
	RepaymentStartDate date            `json:"repayment_start_date"`
}

func (b disbursementBody) request() ledger.DisbursementRequest {
	return ledger.DisbursementRequest{
		SubmissionID:       b.SubmissionID,
		BorrowerID:         b.BorrowerID,
		ProductCode:        b.ProductCode,
		Amount:             b.Amount,
		DisbursementDate:   b.DisbursementDate.Time,
		TenureMonths:       b.TenureMonths,
		RepaymentStartDate: b.RepaymentStartDate.Time,
	}
}

func (s *Server) disburseHandler(w http.ResponseWriter, r *http.Request) {
	var body disbursementBody
	if !s.decode(w, r, &body) {
		return
	}

	rec, err := s.ledger.Disburse(r.Context(), body.request())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	var body disbursementBody
	if !s.decode(w, r, &body) {
		return
	}
	rec, err := s.ledger.PreviewSchedule(r.Context(), body.request())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		EMI           decimal.Decimal      `json:"emi"`
		ProcessingFee decimal.Decimal      `json:"processing_fee"`
		Tenure        int                  `json:"tenure_months"`
		Installments  []models.Installment `json:"installments"`
	}{rec.InitialEMI, rec.ProcessingFee, rec.TenureMonths, rec.Installments})
}

func (s *Server) getLedgerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}

	rec, err := s.ledger.GetLedger(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getBySubmissionHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ledger.GetLedgerBySubmission(r.Context(), mux.Vars(r)["submissionID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listLedgersHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := s.ledger.GetLedgersByBorrower(r.Context(), r.URL.Query().Get("borrower_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*models.Ledger{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type paymentBody struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

func (b paymentBody) request() ledger.PaymentRequest {
	return ledger.PaymentRequest{Amount: b.Amount, Method: b.Method, Reference: b.Reference}
}

func (s *Server) paymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}
	var body paymentBody
	if !s.decode(w, r, &body) {
		return
	}

	txn, err := s.ledger.MakePayment(r.Context(), id, body.request())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (s *Server) adminTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}
	var body struct {
		paymentBody
		RecordedBy string `json:"recorded_by"`
		Note       string `json:"note"`
		Timestamp  date   `json:"timestamp"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	txn, err := s.ledger.RecordAdminTransaction(r.Context(), id, ledger.AdminPaymentRequest{
		PaymentRequest: body.request(),
		RecordedBy:     actor(r, body.RecordedBy),
		Note:           body.Note,
		Timestamp:      body.Timestamp.Time,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (s *Server) foreclosureQuoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}

	quote, err := s.ledger.QuoteForeclosure(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) foreclosureHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}
	var body struct {
		paymentBody
		Actor string `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	rec, err := s.ledger.ConfirmForeclosure(r.Context(), id, ledger.ForeclosureRequest{
		Amount:    body.Amount,
		Method:    body.Method,
		Reference: body.Reference,
		Actor:     actor(r, body.Actor),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) waiverHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}
	number, err := strconv.Atoi(mux.Vars(r)["number"])
	if err != nil || number < 1 {
		http.Error(w, "Invalid installment number", http.StatusBadRequest)
		return
	}
	var body struct {
		Principal decimal.Decimal `json:"principal"`
		Interest  decimal.Decimal `json:"interest"`
		Penalty   decimal.Decimal `json:"penalty"`
		Note      string          `json:"note"`
		Actor     string          `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	event, err := s.ledger.WaiveInstallment(r.Context(), id, ledger.WaiverRequest{
		InstallmentNumber: number,
		Principal:         body.Principal,
		Interest:          body.Interest,
		Penalty:           body.Penalty,
		Note:              body.Note,
		Actor:             actor(r, body.Actor),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status models.LedgerStatus `json:"status"`
		Reason string              `json:"reason"`
		Actor  string              `json:"actor"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	rec, err := s.ledger.OverrideStatus(r.Context(), id, ledger.StatusOverride{
		Status: body.Status,
		Actor:  actor(r, body.Actor),
		Reason: body.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) restructureHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}
	var body struct {
		AnnualRate   decimal.Decimal `json:"annual_rate"`
		TenureMonths int             `json:"tenure_months"`
		FirstDueDate date            `json:"first_due_date"`
		Reason       string          `json:"reason"`
		ApprovedBy   string          `json:"approved_by"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	event, err := s.ledger.Restructure(r.Context(), id, ledger.RestructureRequest{
		NewAnnualRate:   body.AnnualRate,
		NewTenureMonths: body.TenureMonths,
		FirstDueDate:    body.FirstDueDate.Time,
		Reason:          body.Reason,
		ApprovedBy:      actor(r, body.ApprovedBy),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) noteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}
	var body struct {
		Kind    models.NoteKind `json:"kind"`
		Channel string          `json:"channel"`
		Body    string          `json:"body"`
		Author  string          `json:"author"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	note, err := s.ledger.AddNote(r.Context(), id, ledger.NoteRequest{
		Kind:    body.Kind,
		Channel: body.Channel,
		Body:    body.Body,
		Author:  actor(r, body.Author),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) lateFeesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ledgerID(w, r)
	if !ok {
		return
	}

	assessed, err := s.ledger.AssessLateFees(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"assessed": assessed})
}

func (s *Server) ledgerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid ledger ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps the error kind to a status code. Internal details are
// logged, never returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindStateConflict:
		status = http.StatusConflict
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func actor(r *http.Request, fallback string) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return fallback
}

// date accepts either 2006-01-02 or RFC 3339 in request bodies. An empty
// string or a missing field leaves the zero time.
type date struct {
	time.Time
}

func (d *date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q", s)
	}
	d.Time = t
	return nil
}
