package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"finledger/internal/allocation"
	"finledger/internal/core"
	"finledger/internal/dps"
	"finledger/internal/gateway/memory"
	"finledger/internal/rates"
	"finledger/internal/services"
	"finledger/internal/transfer"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := services.NewFinanceService(store, allocation.Config{
		Enabled:     true,
		Mode:        core.ModeFixed,
		FixedAmount: core.Money{Units: 500},
		Categories:  []string{"Donation"},
	}, nil)
	dpsMgr := dps.NewManager(store, transfer.New(store))
	s := NewServer(":0", svc, dpsMgr, rates.NewStatic())
	t.Cleanup(func() {
		if err := s.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return s, store
}

func doJSON(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createTestAccount(t *testing.T, s *Server, name, currency, initial string) accountView {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/accounts", createAccountRequest{
		Name: name, Type: "bank", Currency: currency, InitialBalance: initial,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: status %d, body %s", rec.Code, rec.Body)
	}
	var view accountView
	decodeBody(t, rec, &view)
	return view
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, s, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, rec.Code)
		}
	}
}

func TestAccountLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	created := createTestAccount(t, s, "Checking", "USD", "100.00")
	if created.ID == "" || !created.Active {
		t.Fatalf("account = %+v", created)
	}
	if created.InitialBalance != "100.00" {
		t.Errorf("initial balance = %s, want 100.00", created.InitialBalance)
	}

	rec := doJSON(t, s, http.MethodGet, "/accounts?id="+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get account: status %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/accounts", nil)
	var list struct {
		Accounts []accountView `json:"accounts"`
	}
	decodeBody(t, rec, &list)
	if len(list.Accounts) != 1 {
		t.Fatalf("accounts = %d, want 1", len(list.Accounts))
	}

	rec = doJSON(t, s, http.MethodDelete, "/accounts?id="+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete account: status %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/accounts?id="+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d, want 404", rec.Code)
	}
}

func TestCreateAccountRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		req  createAccountRequest
		want int
	}{
		{"empty name", createAccountRequest{Name: "  ", Type: "bank", Currency: "USD"}, http.StatusUnprocessableEntity},
		{"bad currency", createAccountRequest{Name: "X", Type: "bank", Currency: "usd"}, http.StatusUnprocessableEntity},
		{"bad type", createAccountRequest{Name: "X", Type: "crypto", Currency: "USD"}, http.StatusUnprocessableEntity},
		{"negative balance", createAccountRequest{Name: "X", Type: "bank", Currency: "USD", InitialBalance: "-1"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/accounts", tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestRecordTransactionAndBalance(t *testing.T) {
	s, _ := newTestServer(t)
	acc := createTestAccount(t, s, "Checking", "USD", "50.00")

	rec := doJSON(t, s, http.MethodPost, "/transactions", recordTransactionRequest{
		AccountID: acc.ID, Type: "income", Amount: "25.50", Category: "Salary",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record: status %d, body %s", rec.Code, rec.Body)
	}
	var tx transactionView
	decodeBody(t, rec, &tx)
	if tx.Amount != "25.50" || tx.Currency != "USD" || tx.DisplayCode == "" {
		t.Fatalf("transaction = %+v", tx)
	}

	rec = doJSON(t, s, http.MethodGet, "/accounts/balance?account_id="+acc.ID, nil)
	var bal balanceView
	decodeBody(t, rec, &bal)
	if bal.Amount != "75.50" {
		t.Fatalf("balance = %s, want 75.50", bal.Amount)
	}

	// A later write must invalidate the cached balance.
	rec = doJSON(t, s, http.MethodPost, "/transactions", recordTransactionRequest{
		AccountID: acc.ID, Type: "expense", Amount: "10.00", Category: "Groceries",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record expense: status %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/accounts/balance?account_id="+acc.ID, nil)
	decodeBody(t, rec, &bal)
	if bal.Amount != "65.50" {
		t.Fatalf("balance after expense = %s, want 65.50", bal.Amount)
	}
}

func TestTransactionValidation(t *testing.T) {
	s, _ := newTestServer(t)
	acc := createTestAccount(t, s, "Checking", "USD", "0")

	tests := []struct {
		name string
		req  recordTransactionRequest
		want int
	}{
		{"bad type", recordTransactionRequest{AccountID: acc.ID, Type: "debit", Amount: "5"}, http.StatusUnprocessableEntity},
		{"bad amount", recordTransactionRequest{AccountID: acc.ID, Type: "income", Amount: "abc"}, http.StatusUnprocessableEntity},
		{"negative amount", recordTransactionRequest{AccountID: acc.ID, Type: "income", Amount: "-5"}, http.StatusUnprocessableEntity},
		{"unknown account", recordTransactionRequest{AccountID: "nope", Type: "income", Amount: "5"}, http.StatusNotFound},
		{"missing account", recordTransactionRequest{Type: "income", Amount: "5"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/transactions", tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestTransferSameCurrency(t *testing.T) {
	s, _ := newTestServer(t)
	a := createTestAccount(t, s, "A", "USD", "100.00")
	b := createTestAccount(t, s, "B", "USD", "0")

	rec := doJSON(t, s, http.MethodPost, "/transfers", commitTransferRequest{
		FromAccountID: a.ID, ToAccountID: b.ID, Amount: "40.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer: status %d, body %s", rec.Code, rec.Body)
	}
	var tr transferView
	decodeBody(t, rec, &tr)
	if tr.Correlator == "" || tr.Kind != "transfer" {
		t.Fatalf("transfer = %+v", tr)
	}
	if tr.Expense.Amount != "40.00" || tr.Income.Amount != "40.00" {
		t.Fatalf("legs = %s / %s", tr.Expense.Amount, tr.Income.Amount)
	}

	rec = doJSON(t, s, http.MethodGet, "/transfers", nil)
	var view struct {
		Complete  []transferView               `json:"complete"`
		Partial   map[string][]transactionView `json:"partial"`
		Malformed []transactionView            `json:"malformed"`
	}
	decodeBody(t, rec, &view)
	if len(view.Complete) != 1 || len(view.Partial) != 0 || len(view.Malformed) != 0 {
		t.Fatalf("reconstruction = %+v", view)
	}
}

func TestTransferCrossCurrencyUsesRateProvider(t *testing.T) {
	s, _ := newTestServer(t)
	a := createTestAccount(t, s, "Dollars", "USD", "100.00")
	b := createTestAccount(t, s, "Euros", "EUR", "0")

	// No explicit rate: the static provider's USD/EUR 0.92 applies.
	rec := doJSON(t, s, http.MethodPost, "/transfers", commitTransferRequest{
		FromAccountID: a.ID, ToAccountID: b.ID, Amount: "50.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer: status %d, body %s", rec.Code, rec.Body)
	}
	var tr transferView
	decodeBody(t, rec, &tr)
	if tr.Income.Amount != "46.00" || tr.Income.Currency != "EUR" {
		t.Fatalf("income leg = %s %s, want 46.00 EUR", tr.Income.Amount, tr.Income.Currency)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	s, _ := newTestServer(t)
	a := createTestAccount(t, s, "A", "USD", "10.00")
	b := createTestAccount(t, s, "B", "USD", "0")

	rec := doJSON(t, s, http.MethodPost, "/transfers", commitTransferRequest{
		FromAccountID: a.ID, ToAccountID: b.ID, Amount: "40.00",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", rec.Code, rec.Body)
	}
}

func TestRateEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/rates?from=USD&to=EUR", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["rate"] != "0.92" {
		t.Errorf("rate = %s, want 0.92", body["rate"])
	}

	rec = doJSON(t, s, http.MethodGet, "/rates?from=USD&to=XXX", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown pair: status %d, want 422", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/rates?from=usd&to=EUR", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad currency: status %d, want 400", rec.Code)
	}
}

func TestDPSLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	primary := createTestAccount(t, s, "Main", "USD", "1000.00")

	rec := doJSON(t, s, http.MethodPost, "/dps/enable", enableDPSRequest{
		AccountID: primary.ID, Type: "monthly", AmountType: "fixed", FixedAmount: "25.00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("enable: status %d, body %s", rec.Code, rec.Body)
	}
	var enabled accountView
	decodeBody(t, rec, &enabled)
	if !enabled.HasDPS || enabled.SavingsAccount == "" {
		t.Fatalf("enabled = %+v", enabled)
	}

	// Enabling twice conflicts.
	rec = doJSON(t, s, http.MethodPost, "/dps/enable", enableDPSRequest{
		AccountID: primary.ID, Type: "monthly", AmountType: "fixed", FixedAmount: "25.00",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double enable: status %d, want 409", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/dps/contribute", dpsAccountRequest{
		AccountID: primary.ID, Amount: "100.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("contribute: status %d, body %s", rec.Code, rec.Body)
	}
	var contributed transferView
	decodeBody(t, rec, &contributed)
	if contributed.Kind != "dps_transfer" {
		t.Fatalf("kind = %s, want dps_transfer", contributed.Kind)
	}

	rec = doJSON(t, s, http.MethodGet, "/accounts/balance?account_id="+enabled.SavingsAccount, nil)
	var bal balanceView
	decodeBody(t, rec, &bal)
	if bal.Amount != "100.00" {
		t.Fatalf("savings balance = %s, want 100.00", bal.Amount)
	}

	rec = doJSON(t, s, http.MethodPost, "/dps/withdraw", dpsAccountRequest{
		AccountID: primary.ID, Amount: "30.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("withdraw: status %d, body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, s, http.MethodGet, "/dps/transfers?account_id="+primary.ID, nil)
	var log struct {
		Records []dpsTransferRecordView `json:"dps_transfers"`
	}
	decodeBody(t, rec, &log)
	if len(log.Records) != 2 {
		t.Fatalf("dps log entries = %d, want 2", len(log.Records))
	}

	rec = doJSON(t, s, http.MethodPost, "/dps/disable", dpsAccountRequest{AccountID: primary.ID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("disable: status %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/dps/disable", dpsAccountRequest{AccountID: primary.ID})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("double disable: status %d, want 422", rec.Code)
	}
}

func TestAllocationToggleAndTotals(t *testing.T) {
	s, _ := newTestServer(t)
	acc := createTestAccount(t, s, "Checking", "USD", "0")

	rec := doJSON(t, s, http.MethodPost, "/transactions", recordTransactionRequest{
		AccountID: acc.ID, Type: "income", Amount: "100.00", Category: "Donation",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record: status %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/allocations", nil)
	var list struct {
		Allocations []allocationView `json:"allocations"`
	}
	decodeBody(t, rec, &list)
	if len(list.Allocations) != 1 {
		t.Fatalf("allocations = %d, want 1", len(list.Allocations))
	}
	if list.Allocations[0].Status != "pending" || list.Allocations[0].Amount != "5.00" {
		t.Fatalf("allocation = %+v", list.Allocations[0])
	}

	rec = doJSON(t, s, http.MethodPost, "/allocations/toggle", map[string]string{
		"id": list.Allocations[0].ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: status %d, body %s", rec.Code, rec.Body)
	}
	var toggled allocationView
	decodeBody(t, rec, &toggled)
	if toggled.Status != "donated" {
		t.Fatalf("status = %s, want donated", toggled.Status)
	}

	rec = doJSON(t, s, http.MethodGet, "/allocations/totals", nil)
	var totals struct {
		Totals map[string]totalsView `json:"totals"`
	}
	decodeBody(t, rec, &totals)
	usd := totals.Totals["USD"]
	if usd.Donated != "5.00" || usd.Pending != "0.00" {
		t.Fatalf("totals = %+v", usd)
	}
}

func TestGoalEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	source := createTestAccount(t, s, "Main", "USD", "0")
	savings := createTestAccount(t, s, "Vacation Fund", "USD", "0")

	rec := doJSON(t, s, http.MethodPost, "/goals", createGoalRequest{
		Name: "Vacation", TargetAmount: "500.00",
		SourceAccountID: source.ID, SavingsAccountID: savings.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create goal: status %d, body %s", rec.Code, rec.Body)
	}
	var goal goalView
	decodeBody(t, rec, &goal)
	if goal.TargetAmount != "500.00" || goal.CurrentAmount != "0.00" {
		t.Fatalf("goal = %+v", goal)
	}

	rec = doJSON(t, s, http.MethodPost, "/goals/add", addToGoalRequest{ID: goal.ID, Delta: "120.00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add to goal: status %d, body %s", rec.Code, rec.Body)
	}
	var updated goalView
	decodeBody(t, rec, &updated)
	if updated.CurrentAmount != "120.00" {
		t.Fatalf("current = %s, want 120.00", updated.CurrentAmount)
	}

	rec = doJSON(t, s, http.MethodPost, "/goals/add", addToGoalRequest{ID: "missing", Delta: "10"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown goal: status %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPut, "/transactions", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, POST" {
		t.Errorf("Allow = %q", allow)
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	s, _ := newTestServer(t)

	var last int
	for i := 0; i < 61; i++ {
		rec := doJSON(t, s, http.MethodPost, "/dps/disable", dpsAccountRequest{AccountID: fmt.Sprintf("a%d", i)})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after limit", last)
	}

	// Reads are never rate limited.
	rec := doJSON(t, s, http.MethodGet, "/accounts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read after limit: status %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/accounts", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
}
