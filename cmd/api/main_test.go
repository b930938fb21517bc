package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/catalog"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCatalog = `
[[product]]
code = "PL"
name = "Personal loan"
min_principal = 10000
max_principal = 500000
annual_rate = 12.0
min_tenure_months = 6
max_tenure_months = 24
default_tenure_months = 12
processing_fee_percent = 1.0

[product.penalty]
late_fee_type = "fixed"
late_fee_value = 500
grace_period_days = 5

[product.prepayment]
allow = true
lock_in_months = 3
fee_type = "percentage"
fee_value = 2
`

var testNow = time.Date(2024, time.December, 10, 9, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T) *mux.Router {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test_api.db"))
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { s.Close() })

	products, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	logger := zap.NewNop()
	svc := ledger.NewLedger(s,
		ledger.WithLogger(logger),
		ledger.WithMetrics(metrics.New(registry)),
		ledger.WithNotifier(notify.NewLogNotifier(logger)),
		ledger.WithProducts(products),
		ledger.WithClock(func() time.Time { return testNow }),
	)
	t.Cleanup(svc.Wait)

	return NewServer(svc, logger, registry).Router()
}

func do(t *testing.T, router http.Handler, method, path string, body any, actorID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actorID != "" {
		req.Header.Set(actorHeader, actorID)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func disburse(t *testing.T, router http.Handler, submissionID string) models.Ledger {
	t.Helper()
	rr := do(t, router, "POST", "/ledgers", map[string]any{
		"submission_id":        submissionID,
		"borrower_id":          "borrower-1",
		"product_code":         "PL",
		"amount":               "120000",
		"disbursement_date":    "2024-12-05",
		"repayment_start_date": "2025-01-05",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var rec models.Ledger
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	return rec
}

func TestAPI_DisburseAndGetLedger(t *testing.T) {
	router := setupTestServer(t)

	created := disburse(t, router, "sub-1")
	assert.Equal(t, "10661.85", created.InitialEMI.StringFixed(2))
	assert.Equal(t, "1200.00", created.ProcessingFee.StringFixed(2))
	assert.Len(t, created.Installments, 12)
	assert.Equal(t, models.StatusActive, created.Status)

	rr := do(t, router, "GET", "/ledgers/"+created.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var fetched models.Ledger
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	rr = do(t, router, "GET", "/submissions/sub-1/ledger", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	rr = do(t, router, "GET", "/ledgers?borrower_id=borrower-1", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []models.Ledger
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestAPI_DisburseErrors(t *testing.T) {
	router := setupTestServer(t)
	disburse(t, router, "sub-1")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"duplicate submission", map[string]any{"submission_id": "sub-1", "borrower_id": "b", "product_code": "PL", "amount": "120000"}, http.StatusConflict},
		{"unknown product", map[string]any{"submission_id": "sub-2", "borrower_id": "b", "product_code": "XX", "amount": "120000"}, http.StatusBadRequest},
		{"fraction of a cent", map[string]any{"submission_id": "sub-6", "borrower_id": "b", "product_code": "PL", "amount": "120000.005"}, http.StatusBadRequest},
		{"below product minimum", map[string]any{"submission_id": "sub-3", "borrower_id": "b", "product_code": "PL", "amount": "500"}, http.StatusBadRequest},
		{"missing borrower", map[string]any{"submission_id": "sub-4", "product_code": "PL", "amount": "120000"}, http.StatusBadRequest},
		{"bad date", map[string]any{"submission_id": "sub-5", "borrower_id": "b", "product_code": "PL", "amount": "120000", "disbursement_date": "05/12/2024"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, router, "POST", "/ledgers", tt.body, "")
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestAPI_LookupErrors(t *testing.T) {
	router := setupTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/ledgers/not-a-uuid", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/ledgers/6f1c7f0e-8d2e-4a53-9d0b-0d6c1b8f6a11", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/submissions/missing/ledger", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/ledgers", nil, "").Code)
}

func TestAPI_RecordPayment(t *testing.T) {
	router := setupTestServer(t)
	rec := disburse(t, router, "sub-1")
	path := "/ledgers/" + rec.ID.String() + "/payments"

	rr := do(t, router, "POST", path, map[string]any{"amount": "10661.85", "method": "upi", "reference": "UTR1"}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var txn models.PaymentTransaction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &txn))
	assert.Equal(t, "1200.00", txn.InterestComponent.StringFixed(2))
	assert.Equal(t, "9461.85", txn.PrincipalComponent.StringFixed(2))
	assert.True(t, txn.UnallocatedAmount.IsZero())

	rr = do(t, router, "GET", "/ledgers/"+rec.ID.String(), nil, "")
	var updated models.Ledger
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, models.InstallmentPaid, updated.Installments[0].Status)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", path, map[string]any{"amount": "-5"}, "").Code)

	req := httptest.NewRequest("POST", path, bytes.NewBufferString("{not json"))
	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestAPI_AdminTransactionUsesActorHeader(t *testing.T) {
	router := setupTestServer(t)
	rec := disburse(t, router, "sub-1")

	rr := do(t, router, "POST", "/ledgers/"+rec.ID.String()+"/transactions",
		map[string]any{"amount": "5000", "method": "cash", "note": "branch deposit", "timestamp": "2024-12-08"}, "admin-7")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var txn models.PaymentTransaction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &txn))
	assert.Equal(t, "admin-7", txn.RecordedBy)
	assert.Equal(t, time.Date(2024, time.December, 8, 0, 0, 0, 0, time.UTC), txn.Timestamp.UTC())
}

func TestAPI_ForeclosureQuoteDuringLockIn(t *testing.T) {
	router := setupTestServer(t)
	rec := disburse(t, router, "sub-1")

	rr := do(t, router, "GET", "/ledgers/"+rec.ID.String()+"/foreclosure-quote", nil, "")

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAPI_WaiverAndNotes(t *testing.T) {
	router := setupTestServer(t)
	rec := disburse(t, router, "sub-1")
	base := "/ledgers/" + rec.ID.String()

	rr := do(t, router, "POST", base+"/installments/1/waivers", map[string]any{"interest": "200", "note": "goodwill"}, "admin-1")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var waiver models.WaiverEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &waiver))
	assert.Equal(t, "admin-1", waiver.WaivedBy)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", base+"/installments/0/waivers", map[string]any{"interest": "1"}, "admin-1").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "POST", base+"/installments/99/waivers", map[string]any{"interest": "1"}, "admin-1").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", base+"/installments/1/waivers", map[string]any{"interest": "1"}, "").Code)

	rr = do(t, router, "POST", base+"/notes", map[string]any{"kind": "communication", "channel": "sms", "body": "reminder sent"}, "agent-3")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var note models.Note
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &note))
	assert.Equal(t, "agent-3", note.Author)
}

func TestAPI_WriteOffClosesLedger(t *testing.T) {
	router := setupTestServer(t)
	rec := disburse(t, router, "sub-1")
	base := "/ledgers/" + rec.ID.String()

	rr := do(t, router, "PUT", base+"/status", map[string]any{"status": "write_off", "reason": "borrower deceased"}, "risk-head")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var updated models.Ledger
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, models.StatusWriteOff, updated.Status)
	require.NotNil(t, updated.WriteOff)
	assert.Equal(t, "120000.00", updated.WriteOff.Amount.StringFixed(2))

	assert.Equal(t, http.StatusConflict, do(t, router, "POST", base+"/payments", map[string]any{"amount": "100", "method": "upi"}, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", base+"/status", map[string]any{"status": "bogus", "reason": "x"}, "risk-head").Code)
}

func TestAPI_RestructureAndLateFees(t *testing.T) {
	router := setupTestServer(t)
	rec := disburse(t, router, "sub-1")
	base := "/ledgers/" + rec.ID.String()

	rr := do(t, router, "POST", base+"/late-fees", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"assessed":0}`, rr.Body.String())

	rr = do(t, router, "POST", base+"/restructures", map[string]any{
		"annual_rate":   "10",
		"tenure_months": 18,
		"reason":        "hardship",
	}, "credit-committee")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var event models.RestructureEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &event))
	assert.Equal(t, "credit-committee", event.ApprovedBy)
	assert.Equal(t, 18, event.NewTenureMonths)
}

func TestAPI_PreviewSchedule(t *testing.T) {
	router := setupTestServer(t)

	rr := do(t, router, "POST", "/schedules/preview", map[string]any{
		"product_code":         "PL",
		"amount":               "120000",
		"repayment_start_date": "2025-01-05",
	}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var preview struct {
		EMI          string               `json:"emi"`
		Tenure       int                  `json:"tenure_months"`
		Installments []models.Installment `json:"installments"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &preview))
	assert.Equal(t, "10661.85", preview.EMI)
	assert.Equal(t, 12, preview.Tenure)
	assert.Len(t, preview.Installments, 12)
}

func TestAPI_Metrics(t *testing.T) {
	router := setupTestServer(t)
	disburse(t, router, "sub-1")

	rr := do(t, router, "GET", "/metrics", nil, "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `loanledger_operations_total{operation="disburse",outcome="ok"} 1`)
}

func TestDate_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{`"2025-01-05"`, time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC), false},
		{`"2025-01-05T10:30:00Z"`, time.Date(2025, time.January, 5, 10, 30, 0, 0, time.UTC), false},
		{`""`, time.Time{}, false},
		{`"5 Jan 2025"`, time.Time{}, true},
		{`20250105`, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d date
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(d.Time))
		})
	}
}
