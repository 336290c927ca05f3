package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateJSON(t *testing.T) {
	var payload struct {
		Due Date `json:"due"`
	}
	if err := json.Unmarshal([]byte(`{"due":"2025-12-01"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !payload.Due.Equal(NewDate(2025, 12, 1).Time) {
		t.Fatalf("got %v", payload.Due)
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"due":"2025-12-01"}` {
		t.Fatalf("got %s", out)
	}
	if err := json.Unmarshal([]byte(`{"due":"01/12/2025"}`), &payload); err == nil {
		t.Fatal("expected error for non ISO date")
	}
}

func TestAssembleBudget(t *testing.T) {
	payg := &PaygConfig{MonthlyCap: decimal.NewFromInt(300)}
	plan := &PlanConfig{TargetAmount: decimal.NewFromInt(600), DueDate: NewDate(2025, 6, 1)}

	tests := []struct {
		name      string
		typ       BudgetType
		payg      *PaygConfig
		plan      *PlanConfig
		wantErr   bool
		wantCfgTy BudgetType
	}{
		{name: "payg with payg config", typ: BudgetPayg, payg: payg, wantCfgTy: BudgetPayg},
		{name: "plan with plan config", typ: BudgetPlanSpend, plan: plan, wantCfgTy: BudgetPlanSpend},
		{name: "no config", typ: BudgetPayg, wantErr: true},
		{name: "both configs", typ: BudgetPlanSpend, payg: payg, plan: plan, wantErr: true},
		{name: "wrong config", typ: BudgetPayg, plan: plan, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := AssembleBudget(Budget{ID: "b1", Type: tt.typ}, tt.payg, tt.plan)
			if tt.wantErr {
				if !errors.Is(err, ErrConfigIntegrity) {
					t.Fatalf("expected ConfigIntegrityError, got %v", err)
				}
				if b.Config != nil {
					t.Fatal("config must stay empty on integrity error")
				}
				if b.ID != "b1" {
					t.Fatal("base budget must be returned for degraded rendering")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.Config.Type() != tt.wantCfgTy {
				t.Fatalf("config type = %s, want %s", b.Config.Type(), tt.wantCfgTy)
			}
		})
	}
}

func TestBudgetConfigAccessors(t *testing.T) {
	b := Budget{ID: "b1", Type: BudgetPayg, Config: PaygConfig{MonthlyCap: decimal.NewFromInt(10)}}
	if _, err := b.Payg(); err != nil {
		t.Fatalf("Payg() error: %v", err)
	}
	if _, err := b.Plan(); !errors.Is(err, ErrConfigIntegrity) {
		t.Fatalf("Plan() on payg budget should be an integrity error, got %v", err)
	}
	var missing Budget
	missing.Type = BudgetPlanSpend
	if _, err := missing.Plan(); !errors.Is(err, ErrConfigIntegrity) {
		t.Fatalf("Plan() without config should be an integrity error, got %v", err)
	}
}

func TestPlanConfigValidate(t *testing.T) {
	good := PlanConfig{
		TargetAmount: decimal.NewFromInt(1200),
		DueDate:      NewDate(2025, 12, 1),
		Recurrence:   RecurrenceNone,
		StartPolicy:  StartThisMonth,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []PlanConfig{
		{TargetAmount: decimal.Zero, DueDate: good.DueDate, Recurrence: RecurrenceNone, StartPolicy: StartThisMonth},
		{TargetAmount: decimal.NewFromInt(1), Recurrence: RecurrenceNone, StartPolicy: StartThisMonth},
		{TargetAmount: decimal.NewFromInt(1), DueDate: good.DueDate, Recurrence: "weekly", StartPolicy: StartThisMonth},
		{TargetAmount: decimal.NewFromInt(1), DueDate: good.DueDate, Recurrence: RecurrenceNone, StartPolicy: "later"},
	}
	for i, c := range bads {
		if err := c.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestLedgerEntrySigned(t *testing.T) {
	amount := decimal.NewFromInt(50)
	cases := map[EntryType]string{
		EntryFund:    "50",
		EntryAdjust:  "50",
		EntryConsume: "-50",
	}
	for typ, want := range cases {
		got := LedgerEntry{Type: typ, Amount: amount}.Signed()
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Errorf("%s signed = %s, want %s", typ, got, want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	if got, err := NormalizeCurrency(" eur "); err != nil || got != "EUR" {
		t.Fatalf("got %q, %v", got, err)
	}
	for _, bad := range []string{"", "EU", "EURO", "E1R"} {
		if _, err := NormalizeCurrency(bad); err == nil {
			t.Errorf("%q expected error", bad)
		}
	}
}
