package services

import (
	"context"
	"errors"
	"testing"

	"accantona/internal/core"
	"accantona/internal/store"
)

func TestBudgetCatalog_CreateKeepsConfigsExclusive(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)
	ctx := context.Background()

	payg := f.createPayg(t, "300", "sub-food")
	plan := f.createPlan(t, "1200", date("2025-12-01"), nil)

	rec, err := f.mem.GetBudget(ctx, wsID, payg.ID)
	if err != nil {
		t.Fatalf("GetBudget() error = %v", err)
	}
	if rec.Payg == nil || rec.Plan != nil {
		t.Errorf("payg budget stored configs payg=%v plan=%v", rec.Payg, rec.Plan)
	}

	rec, err = f.mem.GetBudget(ctx, wsID, plan.ID)
	if err != nil {
		t.Fatalf("GetBudget() error = %v", err)
	}
	if rec.Plan == nil || rec.Payg != nil {
		t.Errorf("plan budget stored configs payg=%v plan=%v", rec.Payg, rec.Plan)
	}
}

func TestBudgetCatalog_CreateDefaults(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)
	ctx := context.Background()

	b := f.createPlan(t, "1200.005", date("2025-12-01"), func(in *CreateBudgetInput) {
		in.Currency = " eur "
		in.StartPolicy = ""
	})

	if b.Name != "Car insurance" {
		t.Errorf("Name = %q, want subcategory name", b.Name)
	}
	if b.Currency != "EUR" || b.Status != core.StatusActive {
		t.Errorf("Currency, Status = %s, %s", b.Currency, b.Status)
	}
	plan, err := b.Plan()
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.StartPolicy != core.StartThisMonth || plan.Recurrence != core.RecurrenceNone {
		t.Errorf("defaults = %s, %s", plan.StartPolicy, plan.Recurrence)
	}
	if !plan.TargetAmount.Equal(dec("1200.01")) {
		t.Errorf("TargetAmount = %s, want 1200.01", plan.TargetAmount)
	}

	dues, err := f.mem.ListPaymentDues(ctx, wsID, core.PaymentPending)
	if err != nil {
		t.Fatalf("ListPaymentDues() error = %v", err)
	}
	if len(dues) != 1 || dues[0].BudgetID != b.ID || !dues[0].AmountExpected.Equal(dec("1200.01")) || dues[0].DueDate.String() != "2025-12-01" {
		t.Errorf("payment dues = %+v", dues)
	}

	if types := f.events.types(); len(types) != 1 || types[0] != "budget.created" {
		t.Errorf("events = %v", types)
	}
}

func TestBudgetCatalog_CreateRejects(t *testing.T) {
	f := newFixture(t, at("2025-12-15"), nil)

	base := CreateBudgetInput{
		SubcategoryID: subCar,
		Currency:      "EUR",
		Type:          core.BudgetPlanSpend,
		Amount:        dec("600"),
		DueDate:       date("2026-06-01"),
	}

	tests := []struct {
		name  string
		actor string
		mod   func(*CreateBudgetInput)
		want  core.ErrorKind
	}{
		{"viewer", viewer, func(*CreateBudgetInput) {}, core.KindPermission},
		{"anonymous", "", func(*CreateBudgetInput) {}, core.KindPermission},
		{"bad currency", owner, func(in *CreateBudgetInput) { in.Currency = "EURO" }, core.KindValidation},
		{"zero amount", owner, func(in *CreateBudgetInput) { in.Amount = dec("0") }, core.KindValidation},
		{"negative cap", owner, func(in *CreateBudgetInput) { in.Type = core.BudgetPayg; in.Amount = dec("-1") }, core.KindValidation},
		{"unknown type", owner, func(in *CreateBudgetInput) { in.Type = "envelope" }, core.KindValidation},
		{"missing due date", owner, func(in *CreateBudgetInput) { in.DueDate = core.Date{} }, core.KindValidation},
		{"due date passed", owner, func(in *CreateBudgetInput) { in.DueDate = date("2025-11-01") }, core.KindValidation},
		{"bad recurrence", owner, func(in *CreateBudgetInput) { in.Recurrence = "weekly" }, core.KindValidation},
		{"unknown subcategory", owner, func(in *CreateBudgetInput) { in.SubcategoryID = "sub-missing" }, core.KindNotFound},
		{"subcategory of another workspace", owner, func(in *CreateBudgetInput) { in.SubcategoryID = "sub-rent" }, core.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mod(&in)
			_, err := f.catalog.Create(context.Background(), tt.actor, wsID, in)
			assertKind(t, err, tt.want)
		})
	}

	budgets, _ := f.mem.ListBudgets(context.Background(), wsID)
	if len(budgets) != 0 {
		t.Errorf("rejected creates stored %d budgets", len(budgets))
	}
}

func TestBudgetCatalog_AutoFund(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)
	ctx := context.Background()

	b := f.createPlan(t, "1200", date("2025-12-01"), func(in *CreateBudgetInput) {
		in.AutoFund = true
		in.FundingAccountID = account
	})

	entries := f.entries(t, b.ID)
	if len(entries) != 1 {
		t.Fatalf("auto-fund wrote %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Type != core.EntryFund || !e.Amount.Equal(dec("100")) || !e.Metadata.AutoFunded || e.Metadata.Month != "2025-01" || e.Metadata.FundingAccountID != account {
		t.Errorf("auto-fund entry = %+v", e)
	}

	res, err := f.processor.ApplyMonthlyContributions(ctx, owner, wsID, at("2025-01-28"))
	if err != nil {
		t.Fatalf("ApplyMonthlyContributions() error = %v", err)
	}
	if len(res.Funded) != 0 || res.AlreadyFunded != 1 {
		t.Errorf("apply after auto-fund = %+v", res)
	}
}

func TestBudgetCatalog_AutoFundFailureKeepsBudget(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), func(st store.Store) store.Store { return failingLedger{st} })

	b := f.createPlan(t, "1200", date("2025-12-01"), func(in *CreateBudgetInput) { in.AutoFund = true })

	if _, err := f.catalog.Get(context.Background(), wsID, b.ID); err != nil {
		t.Fatalf("budget should exist after a failed auto-fund: %v", err)
	}
	if n := len(f.entries(t, b.ID)); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestBudgetCatalog_CreateRollsBackOnConfigFailure(t *testing.T) {
	tests := []struct {
		name string
		in   CreateBudgetInput
	}{
		{"payg", CreateBudgetInput{SubcategoryID: subCar, Currency: "EUR", Type: core.BudgetPayg, Amount: dec("100")}},
		{"plan", CreateBudgetInput{SubcategoryID: subCar, Currency: "EUR", Type: core.BudgetPlanSpend, Amount: dec("1200"), DueDate: date("2025-12-01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var budgetID string
			f := newFixture(t, at("2025-01-15"), func(st store.Store) store.Store {
				return failingConfig{Store: st, budgetID: &budgetID}
			})
			ctx := context.Background()

			if _, err := f.catalog.Create(ctx, owner, wsID, tt.in); err == nil {
				t.Fatal("Create() should fail when the config cannot be stored")
			}
			if budgetID == "" {
				t.Fatal("config insert was never attempted")
			}
			if _, err := f.mem.GetBudget(ctx, wsID, budgetID); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("GetBudget() error = %v, want ErrNotFound", err)
			}
			budgets, err := f.mem.ListBudgets(ctx, wsID)
			if err != nil || len(budgets) != 0 {
				t.Errorf("ListBudgets() = %d budgets, %v", len(budgets), err)
			}
			dues, err := f.mem.ListPaymentDues(ctx, wsID, core.PaymentPending)
			if err != nil || len(dues) != 0 {
				t.Errorf("ListPaymentDues() = %d dues, %v", len(dues), err)
			}
		})
	}
}

func TestBudgetCatalog_AutoFundIgnoredForPayg(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)
	b, err := f.catalog.Create(context.Background(), owner, wsID, CreateBudgetInput{
		SubcategoryID: subCar, Currency: "EUR", Type: core.BudgetPayg, Amount: dec("100"), AutoFund: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if n := len(f.entries(t, b.ID)); n != 0 {
		t.Errorf("payg auto-fund wrote %d entries", n)
	}
}

func TestBudgetCatalog_PublisherFailureIsIgnored(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)
	f.events.err = context.Canceled
	f.createPayg(t, "100", subCar)

	f.catalog.events = nil
	f.createPayg(t, "100", "sub-food")
}

func TestBudgetCatalog_Update(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)
	ctx := context.Background()
	payg := f.createPayg(t, "300", "sub-food")
	plan := f.createPlan(t, "1200", date("2025-12-01"), nil)

	name := "  Food  "
	limit := dec("350.555")
	recurring := false
	updated, err := f.catalog.Update(ctx, owner, wsID, payg.ID, UpdateBudgetPatch{Name: &name, MonthlyCap: &limit, IsRecurring: &recurring})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	cfg, _ := updated.Payg()
	if updated.Name != "Food" || !cfg.MonthlyCap.Equal(dec("350.56")) || cfg.IsRecurring {
		t.Errorf("Update() = %+v", updated)
	}

	target := dec("1500")
	archived := core.StatusArchived
	updated, err = f.catalog.Update(ctx, owner, wsID, plan.ID, UpdateBudgetPatch{TargetAmount: &target, Status: &archived})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	planCfg, _ := updated.Plan()
	if !planCfg.TargetAmount.Equal(target) || updated.Status != core.StatusArchived || updated.Type != core.BudgetPlanSpend {
		t.Errorf("Update() = %+v", updated)
	}

	empty := ""
	zero := dec("0")
	bogus := core.BudgetStatus("deleted")
	tests := []struct {
		name     string
		actor    string
		ws       string
		budgetID string
		patch    UpdateBudgetPatch
		want     core.ErrorKind
	}{
		{"viewer", viewer, wsID, payg.ID, UpdateBudgetPatch{Name: &name}, core.KindPermission},
		{"empty name", owner, wsID, payg.ID, UpdateBudgetPatch{Name: &empty}, core.KindValidation},
		{"target on payg", owner, wsID, payg.ID, UpdateBudgetPatch{TargetAmount: &target}, core.KindValidation},
		{"cap on plan", owner, wsID, plan.ID, UpdateBudgetPatch{MonthlyCap: &limit}, core.KindValidation},
		{"recurring flag on plan", owner, wsID, plan.ID, UpdateBudgetPatch{IsRecurring: &recurring}, core.KindValidation},
		{"zero cap", owner, wsID, payg.ID, UpdateBudgetPatch{MonthlyCap: &zero}, core.KindValidation},
		{"bad status", owner, wsID, payg.ID, UpdateBudgetPatch{Status: &bogus}, core.KindValidation},
		{"missing budget", owner, wsID, "missing", UpdateBudgetPatch{Name: &name}, core.KindConflict},
		{"other workspace", "carol", "ws-other", payg.ID, UpdateBudgetPatch{Name: &name}, core.KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.catalog.Update(ctx, tt.actor, tt.ws, tt.budgetID, tt.patch)
			assertKind(t, err, tt.want)
		})
	}
}

func TestBudgetCatalog_DeleteIsWorkspaceScoped(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)
	ctx := context.Background()
	b := f.createPlan(t, "1200", date("2025-12-01"), func(in *CreateBudgetInput) { in.AutoFund = true })

	err := f.catalog.Delete(ctx, "carol", "ws-other", b.ID)
	assertKind(t, err, core.KindConflict)
	if err.Error() != "not found or no permission" {
		t.Errorf("Delete() error = %q", err.Error())
	}
	if _, err := f.catalog.Get(ctx, wsID, b.ID); err != nil {
		t.Fatalf("budget must survive a mismatched delete: %v", err)
	}

	assertKind(t, f.catalog.Delete(ctx, viewer, wsID, b.ID), core.KindPermission)

	if err := f.catalog.Delete(ctx, owner, wsID, b.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.catalog.Get(ctx, wsID, b.ID); core.KindOf(err) != core.KindNotFound {
		t.Errorf("Get() after delete error = %v", err)
	}
	if n := len(f.entries(t, b.ID)); n != 0 {
		t.Errorf("ledger entries survived the delete: %d", n)
	}
	if dues, _ := f.mem.ListPaymentDues(ctx, wsID, ""); len(dues) != 0 {
		t.Errorf("payment dues survived the delete: %d", len(dues))
	}

	err = f.catalog.Delete(ctx, owner, wsID, b.ID)
	assertKind(t, err, core.KindConflict)
}

func TestBudgetCatalog_List(t *testing.T) {
	f := newFixture(t, at("2025-03-10"), nil)
	ctx := context.Background()

	payg := f.createPayg(t, "200", "sub-food")
	plan := f.createPlan(t, "1200", date("2025-12-01"), func(in *CreateBudgetInput) { in.AutoFund = true })
	f.insertBareBudget(t, "broken", core.BudgetPayg)

	for _, txn := range []core.Transaction{
		{ID: "t1", WorkspaceID: wsID, AccountID: account, SubcategoryID: "sub-food", Kind: core.TransactionExpense, Amount: dec("120"), Description: "market", OccurredAt: at("2025-03-02")},
		{ID: "t2", WorkspaceID: wsID, AccountID: account, SubcategoryID: "sub-food", Kind: core.TransactionExpense, Amount: dec("30.50"), Description: "bakery", OccurredAt: at("2025-03-31")},
		{ID: "t3", WorkspaceID: wsID, AccountID: account, SubcategoryID: "sub-food", Kind: core.TransactionExpense, Amount: dec("999"), Description: "last month", OccurredAt: at("2025-02-27")},
		{ID: "t4", WorkspaceID: wsID, AccountID: account, SubcategoryID: "sub-food", Kind: core.TransactionIncome, Amount: dec("50"), Description: "refund", OccurredAt: at("2025-03-05")},
	} {
		if err := f.mem.InsertTransaction(ctx, txn); err != nil {
			t.Fatalf("InsertTransaction() error = %v", err)
		}
	}

	views, err := f.catalog.List(ctx, wsID, at("2025-03-20"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("List() returned %d views, want 3", len(views))
	}

	byID := map[string]BudgetView{}
	for _, v := range views {
		byID[v.Budget.ID] = v
	}

	if v := byID[payg.ID]; !v.SpendingAmount.Equal(dec("150.50")) || v.IntegrityError != nil {
		t.Errorf("payg view = %+v", v)
	}
	// 1200 over Mar..Dec
	if v := byID[plan.ID]; !v.CurrentReserved.Equal(dec("120")) || !v.MonthlyContribution.Equal(dec("120")) {
		t.Errorf("plan view = %+v", v)
	}
	broken := byID["broken"]
	if core.KindOf(broken.IntegrityError) != core.KindConfigIntegrity || broken.Budget.Config != nil {
		t.Errorf("broken view = %+v", broken)
	}
	if core.CorrelationOf(broken.IntegrityError) == "" {
		t.Error("integrity error carries no correlation id")
	}

	_, err = f.catalog.Get(ctx, wsID, "broken")
	assertKind(t, err, core.KindConfigIntegrity)
}

func TestBudgetCatalog_ListDetectsDuplicateConfigs(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)
	ctx := context.Background()
	b := f.createPayg(t, "100", subCar)
	if err := f.mem.InsertPlanConfig(ctx, b.ID, core.PlanConfig{TargetAmount: dec("1"), DueDate: date("2025-06-01")}); err != nil {
		t.Fatalf("InsertPlanConfig() error = %v", err)
	}

	views, err := f.catalog.List(ctx, wsID, at("2025-01-15"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(views) != 1 || core.KindOf(views[0].IntegrityError) != core.KindConfigIntegrity {
		t.Errorf("views = %+v", views)
	}
}

func TestBudgetCatalog_Preview(t *testing.T) {
	f := newFixture(t, at("2025-01-15"), nil)

	p, err := f.catalog.Preview(CreateBudgetInput{Amount: dec("1000"), DueDate: date("2025-04-01"), StartPolicy: core.StartNextMonth}, at("2025-01-15"))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if p.TotalMonths != 3 || !p.MonthlyContribution.Equal(dec("333.33")) || p.FirstMonth != "2025-02" {
		t.Errorf("Preview() = %+v", p)
	}

	_, err = f.catalog.Preview(CreateBudgetInput{Amount: dec("1000"), DueDate: date("2024-12-01")}, at("2025-01-15"))
	if core.KindOf(err) != core.KindValidation {
		t.Errorf("Preview() past due error = %v", err)
	}
}
