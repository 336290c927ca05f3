package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"accantona/internal/auth"
	"accantona/internal/core"
	"accantona/internal/fx"
	"accantona/internal/log"
	"accantona/internal/services"
	"accantona/internal/store/memory"
	"accantona/internal/store/storetest"

	"github.com/shopspring/decimal"
)

const testSecret = "test-secret-0123456789"

type apiFixture struct {
	srv    *Server
	mem    *memory.Store
	tokens map[string]string
}

func newAPIFixture(t *testing.T, opts Options) *apiFixture {
	t.Helper()
	mem := memory.New()
	if err := storetest.Seed().Apply(context.Background(), mem); err != nil {
		t.Fatalf("seed: %v", err)
	}

	authn, err := auth.NewAuthenticator(testSecret, "accantona")
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	perms := auth.NewPermissionChecker(mem)
	events := services.NopPublisher{}
	ledger := services.NewFundingLedger(mem, perms, events)
	catalog := services.NewBudgetCatalog(mem, perms, ledger, events)
	rates := fx.NewStatic("EUR", map[string]decimal.Decimal{"USD": decimal.RequireFromString("1.25")})

	if opts.Logger == nil {
		opts.Logger = log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
	}
	srv := NewServer(":0", Services{
		Catalog:  catalog,
		Ledger:   ledger,
		Funding:  services.NewFundingProcessor(mem, ledger, perms, events),
		Reserves: services.NewReservationAggregator(mem, catalog, rates),
		Payments: services.NewPaymentConfirmation(mem, ledger, perms, events),
		Auth:     authn,
		Access:   perms,
		Store:    mem,
	}, opts)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	tokens := map[string]string{}
	for _, user := range []string{storetest.OwnerID, storetest.ViewerID, "carol"} {
		tok, err := authn.Issue(auth.User{ID: user, Email: user + "@example.com"}, time.Hour)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		tokens[user] = tok
	}
	return &apiFixture{srv: srv, mem: mem, tokens: tokens}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[user])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)
	return rr
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, data any) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rr.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v (body %s)", err, rr.Body.String())
		}
	}
	return env
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) *ErrorBody {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	env := decode(t, rr, nil)
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rr.Body.String())
	}
	if env.Error.Code != code {
		t.Errorf("error code = %q, want %q", env.Error.Code, code)
	}
	if env.Error.CorrelationID == "" {
		t.Error("error envelope should carry a correlation id")
	}
	return env.Error
}

// planDue falls in the sixth month after the current one, so a plan
// started this month spans seven contributions.
func planDue() string {
	return core.AddMonths(core.StartOfMonth(time.Now()), 6).AddDate(0, 0, 14).Format(time.DateOnly)
}

func createPlan(t *testing.T, f *apiFixture, target string) budgetJSON {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/workspaces/ws-home/budgets", storetest.OwnerID, map[string]any{
		"subcategoryId": storetest.SubcategoryID,
		"name":          "Insurance",
		"currency":      "EUR",
		"type":          "plan_spend",
		"amount":        target,
		"dueDate":       planDue(),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var b budgetJSON
	decode(t, rr, &b)
	return b
}

func TestHealthAndReady(t *testing.T) {
	f := newAPIFixture(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := f.do(t, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}

	rr := f.do(t, http.MethodGet, "/healthz", "", nil)
	if env := decode(t, rr, nil); !env.Success {
		t.Errorf("healthz envelope = %s", rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be echoed")
	}
}

func TestMetrics(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.do(t, http.MethodGet, "/healthz", "", nil)

	rr := f.do(t, http.MethodGet, "/metrics", "", nil)
	body := rr.Body.String()
	for _, want := range []string{"http_requests_total", "rate_limit_hits_total", "auth_failures_total", "uptime_seconds"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t, Options{})

	t.Run("missing token", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/workspaces/ws-home/budgets", "", nil)
		expectError(t, rr, http.StatusUnauthorized, "permission_denied")
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Error("WWW-Authenticate header missing")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/workspaces/ws-home/budgets", "", nil, "Authorization", "Bearer not-a-jwt")
		expectError(t, rr, http.StatusUnauthorized, "permission_denied")
	})

	t.Run("non member", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/workspaces/ws-home/dashboard", "carol", nil)
		expectError(t, rr, http.StatusForbidden, "permission_denied")
	})

	t.Run("viewer can read", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/workspaces/ws-home/budgets", storetest.ViewerID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
	})
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t, Options{})
	plan := createPlan(t, f, "600")

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{
			name:   "unknown field",
			method: http.MethodPost, path: "/workspaces/ws-home/budgets", user: storetest.OwnerID,
			body:   `{"type":"payg","amount":"10","colour":"red"}`,
			status: http.StatusBadRequest, code: "validation_error",
		},
		{
			name:   "empty body",
			method: http.MethodPost, path: "/workspaces/ws-home/budgets", user: storetest.OwnerID,
			status: http.StatusBadRequest, code: "validation_error",
		},
		{
			name:   "invalid amount",
			method: http.MethodPost, path: "/workspaces/ws-home/budgets", user: storetest.OwnerID,
			body:   map[string]any{"subcategoryId": storetest.SubcategoryID, "currency": "EUR", "type": "payg", "amount": "-5"},
			status: http.StatusBadRequest, code: "validation_error",
		},
		{
			name:   "viewer cannot create",
			method: http.MethodPost, path: "/workspaces/ws-home/budgets", user: storetest.ViewerID,
			body:   map[string]any{"subcategoryId": storetest.SubcategoryID, "currency": "EUR", "type": "payg", "amount": "50"},
			status: http.StatusForbidden, code: "permission_denied",
		},
		{
			name:   "unknown budget",
			method: http.MethodGet, path: "/workspaces/ws-home/budgets/nope", user: storetest.OwnerID,
			status: http.StatusNotFound, code: "not_found_error",
		},
		{
			name:   "delete unknown budget",
			method: http.MethodDelete, path: "/workspaces/ws-home/budgets/nope", user: storetest.OwnerID,
			status: http.StatusConflict, code: "conflict_error",
		},
		{
			name:   "update payg field on plan",
			method: http.MethodPatch, path: "/workspaces/ws-home/budgets/" + plan.ID, user: storetest.OwnerID,
			body:   map[string]any{"monthlyCap": "10"},
			status: http.StatusBadRequest, code: "validation_error",
		},
		{
			name:   "bad horizon",
			method: http.MethodGet, path: "/workspaces/ws-home/payments/upcoming?days=abc", user: storetest.OwnerID,
			status: http.StatusBadRequest, code: "validation_error",
		},
		{
			name:   "unknown route",
			method: http.MethodGet, path: "/nowhere", user: storetest.OwnerID,
			status: http.StatusNotFound, code: "not_found_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, tt.method, tt.path, tt.user, tt.body)
			expectError(t, rr, tt.status, tt.code)
		})
	}
}

func TestDeleteHidesOwnership(t *testing.T) {
	f := newAPIFixture(t, Options{})
	plan := createPlan(t, f, "600")

	rr := f.do(t, http.MethodDelete, "/workspaces/ws-other/budgets/"+plan.ID, "carol", nil)
	body := expectError(t, rr, http.StatusConflict, "conflict_error")
	if body.Message != "not found or no permission" {
		t.Errorf("message = %q", body.Message)
	}

	rr = f.do(t, http.MethodDelete, "/workspaces/ws-home/budgets/"+plan.ID, storetest.OwnerID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, http.MethodGet, "/workspaces/ws-home/budgets/"+plan.ID, storetest.OwnerID, nil)
	expectError(t, rr, http.StatusNotFound, "not_found_error")
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	f := newAPIFixture(t, Options{})

	rr := f.do(t, http.MethodGet, "/workspaces/ws-home/budgets/nope", storetest.OwnerID, nil, "X-Request-ID", "req-test-42")
	body := expectError(t, rr, http.StatusNotFound, "not_found_error")
	if body.CorrelationID != "req-test-42" {
		t.Errorf("correlationId = %q, want req-test-42", body.CorrelationID)
	}
	if rr.Header().Get("X-Request-ID") != "req-test-42" {
		t.Errorf("X-Request-ID = %q", rr.Header().Get("X-Request-ID"))
	}
}

func TestBudgetLifecycle(t *testing.T) {
	f := newAPIFixture(t, Options{})
	plan := createPlan(t, f, "600")

	if plan.Plan == nil || plan.Plan.TargetAmount != "600.00" || plan.Payg != nil {
		t.Fatalf("created budget = %+v", plan)
	}

	// Contribution
	rr := f.do(t, http.MethodPost, "/workspaces/ws-home/contributions/apply", storetest.OwnerID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("apply status = %d, body %s", rr.Code, rr.Body.String())
	}
	var applied applyResultJSON
	decode(t, rr, &applied)
	if len(applied.Funded) != 1 || applied.Funded[0].BudgetID != plan.ID {
		t.Fatalf("apply result = %+v", applied)
	}

	rr = f.do(t, http.MethodPost, "/workspaces/ws-home/contributions/apply", storetest.OwnerID, nil)
	decode(t, rr, &applied)
	if len(applied.Funded) != 0 || applied.AlreadyFunded != 1 {
		t.Errorf("second apply = %+v", applied)
	}

	// Ledger history
	rr = f.do(t, http.MethodGet, "/workspaces/ws-home/budgets/"+plan.ID+"/ledger", storetest.ViewerID, nil)
	var history ledgerJSON
	decode(t, rr, &history)
	if len(history.Entries) != 1 || history.CurrentReserved != history.Entries[0].Amount {
		t.Fatalf("ledger = %+v", history)
	}

	rr = f.do(t, http.MethodPost, "/workspaces/ws-home/budgets/"+plan.ID+"/ledger", storetest.OwnerID, map[string]any{
		"type": "adjust", "amount": "10", "note": "rounding",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("post entry status = %d, body %s", rr.Code, rr.Body.String())
	}
	var posted ledgerEntryJSON
	decode(t, rr, &posted)
	if posted.Type != "adjust" || posted.Amount != "10.00" || posted.Metadata.Month != "" || posted.CreatedBy != storetest.OwnerID {
		t.Errorf("posted entry = %+v", posted)
	}

	// Upcoming payment and confirmation
	rr = f.do(t, http.MethodGet, "/workspaces/ws-home/payments/upcoming?days=366", storetest.OwnerID, nil)
	var upcoming struct {
		HorizonDays int              `json:"horizonDays"`
		Payments    []paymentDueJSON `json:"payments"`
	}
	decode(t, rr, &upcoming)
	if upcoming.HorizonDays != 366 || len(upcoming.Payments) != 1 {
		t.Fatalf("upcoming = %+v", upcoming)
	}
	due := upcoming.Payments[0]
	if due.AmountExpected != "600.00" || due.Status != "pending" {
		t.Errorf("due = %+v", due)
	}

	confirmPath := "/workspaces/ws-home/payments/" + due.ID + "/confirm"
	rr = f.do(t, http.MethodPost, confirmPath, storetest.OwnerID, map[string]any{"accountId": storetest.AccountID})
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, body %s", rr.Code, rr.Body.String())
	}
	var confirmed confirmResultJSON
	decode(t, rr, &confirmed)
	if confirmed.TransactionID == "" || confirmed.EntryID == "" || confirmed.NextDue != nil {
		t.Errorf("confirm result = %+v", confirmed)
	}

	rr = f.do(t, http.MethodPost, confirmPath, storetest.OwnerID, map[string]any{"accountId": storetest.AccountID})
	expectError(t, rr, http.StatusConflict, "already_confirmed")

	// Dashboard
	rr = f.do(t, http.MethodGet, "/workspaces/ws-home/dashboard", storetest.ViewerID, nil)
	var dash dashboardJSON
	decode(t, rr, &dash)
	// confirmed months ahead of the due date
	if len(dash.Budgets) != 1 || dash.Budgets[0].Progress == nil || dash.Budgets[0].Progress.State != "on_track" {
		t.Fatalf("dashboard budgets = %+v", dash.Budgets)
	}
	if dash.Reserved.Currency != "EUR" || dash.TotalBalance.Currency != "EUR" {
		t.Errorf("dashboard currencies = %+v", dash)
	}
	// USD account converts at 0.8: 1000 - 600 + 200*0.8
	if dash.TotalBalance.Amount != "560.00" {
		t.Errorf("total balance = %s, want 560.00", dash.TotalBalance.Amount)
	}
}

func TestPreview(t *testing.T) {
	f := newAPIFixture(t, Options{})

	rr := f.do(t, http.MethodPost, "/workspaces/ws-home/budgets/preview", storetest.ViewerID, map[string]any{
		"amount":  "700",
		"dueDate": planDue(),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("preview status = %d, body %s", rr.Code, rr.Body.String())
	}
	var p previewJSON
	decode(t, rr, &p)
	if p.TotalMonths != 7 || p.FirstMonth != time.Now().Format("2006-01") {
		t.Errorf("preview = %+v", p)
	}

	rr = f.do(t, http.MethodGet, "/workspaces/ws-home/budgets", storetest.OwnerID, nil)
	var list []budgetViewJSON
	decode(t, rr, &list)
	if len(list) != 0 {
		t.Errorf("preview should not store anything, got %d budgets", len(list))
	}
}

func TestMutationsAreRateLimited(t *testing.T) {
	f := newAPIFixture(t, Options{RateLimitPerMinute: 1})

	rr := f.do(t, http.MethodDelete, "/workspaces/ws-home/budgets/nope", storetest.OwnerID, nil)
	expectError(t, rr, http.StatusConflict, "conflict_error")

	rr = f.do(t, http.MethodDelete, "/workspaces/ws-home/budgets/nope", storetest.OwnerID, nil)
	expectError(t, rr, http.StatusTooManyRequests, "rate_limited")
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// reads are not throttled
	for i := 0; i < 3; i++ {
		if rr := f.do(t, http.MethodGet, "/workspaces/ws-home/budgets", storetest.OwnerID, nil); rr.Code != http.StatusOK {
			t.Fatalf("read %d status = %d", i, rr.Code)
		}
	}
}
