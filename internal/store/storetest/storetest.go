// Package storetest holds the behavior every store.Store implementation
// must share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"accantona/internal/core"
	"accantona/internal/store"

	"github.com/shopspring/decimal"
)

// Fixture ids created by Seed.
const (
	WorkspaceID      = "ws-home"
	OtherWorkspaceID = "ws-other"
	OwnerID          = "alice"
	ViewerID         = "bob"
	SubcategoryID    = "sub-car"
	AccountID        = "acc-main"
	USDAccountID     = "acc-usd"
)

// Seed returns the fixture used by the contract tests and by service tests.
func Seed() store.Seed {
	return store.Seed{Workspaces: []store.SeedWorkspace{
		{
			ID: WorkspaceID, Name: "Home", ReportingCurrency: "EUR",
			Members: []store.SeedMember{
				{UserID: OwnerID, Role: "owner"},
				{UserID: ViewerID, Role: "viewer"},
			},
			Subcategories: []store.SeedSubcategory{
				{ID: SubcategoryID, Name: "Car insurance"},
				{ID: "sub-food", Name: "Groceries"},
			},
			Accounts: []store.SeedAccount{
				{ID: AccountID, Name: "Checking", Currency: "EUR", OpeningBalance: "1000.00"},
				{ID: USDAccountID, Name: "Travel", Currency: "USD", OpeningBalance: "200.00"},
			},
		},
		{
			ID: OtherWorkspaceID, Name: "Office", ReportingCurrency: "EUR",
			Members:       []store.SeedMember{{UserID: "carol", Role: "owner"}},
			Subcategories: []store.SeedSubcategory{{ID: "sub-rent", Name: "Rent"}},
		},
	}}
}

func mustSeed(t *testing.T, st store.Store) {
	t.Helper()
	if err := Seed().Apply(context.Background(), st); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func planBudget(id string) core.Budget {
	return core.Budget{
		ID: id, WorkspaceID: WorkspaceID, SubcategoryID: SubcategoryID,
		Name: "Insurance", Currency: "EUR", Type: core.BudgetPlanSpend,
		Status: core.StatusActive, CreatedAt: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

func insertPlan(t *testing.T, st store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	if err := st.InsertBudget(ctx, planBudget(id)); err != nil {
		t.Fatalf("insert budget: %v", err)
	}
	cfg := core.PlanConfig{
		TargetAmount: dec("1200"), DueDate: core.NewDate(2025, 12, 1),
		Recurrence: core.RecurrenceNone, StartPolicy: core.StartThisMonth,
	}
	if err := st.InsertPlanConfig(ctx, id, cfg); err != nil {
		t.Fatalf("insert plan config: %v", err)
	}
}

func entry(id, budgetID string, typ core.EntryType, amount string, month string) core.LedgerEntry {
	return core.LedgerEntry{
		ID: id, WorkspaceID: WorkspaceID, BudgetID: budgetID, Type: typ,
		Amount: dec(amount), CreatedBy: OwnerID,
		CreatedAt: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
		Metadata:  core.LedgerMetadata{Month: month},
	}
}

// Run executes the contract against stores built by newStore. Each subtest
// gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("directory", func(t *testing.T) {
		st := newStore(t)
		mustSeed(t, st)

		ws, err := st.GetWorkspace(ctx, WorkspaceID)
		if err != nil || ws.ReportingCurrency != "EUR" {
			t.Fatalf("GetWorkspace = %+v, %v", ws, err)
		}
		all, err := st.ListWorkspaces(ctx)
		if err != nil || len(all) != 2 {
			t.Fatalf("ListWorkspaces = %d, %v", len(all), err)
		}
		role, err := st.GetMemberRole(ctx, WorkspaceID, OwnerID)
		if err != nil || role != core.RoleOwner {
			t.Fatalf("GetMemberRole = %s, %v", role, err)
		}
		if _, err := st.GetMemberRole(ctx, OtherWorkspaceID, OwnerID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("member of other workspace: %v", err)
		}
		if err := st.UpsertMember(ctx, core.Member{WorkspaceID: WorkspaceID, UserID: ViewerID, Role: core.RoleAdmin}); err != nil {
			t.Fatalf("UpsertMember: %v", err)
		}
		if role, _ := st.GetMemberRole(ctx, WorkspaceID, ViewerID); role != core.RoleAdmin {
			t.Fatalf("role after upsert = %s", role)
		}
		if _, err := st.GetSubcategory(ctx, OtherWorkspaceID, SubcategoryID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("subcategory across workspaces: %v", err)
		}
		acc, err := st.GetAccount(ctx, WorkspaceID, AccountID)
		if err != nil || !acc.OpeningBalance.Equal(dec("1000")) {
			t.Fatalf("GetAccount = %+v, %v", acc, err)
		}
		accounts, err := st.ListAccounts(ctx, WorkspaceID)
		if err != nil || len(accounts) != 2 {
			t.Fatalf("ListAccounts = %d, %v", len(accounts), err)
		}

		// applying the same seed twice is a no-op
		mustSeed(t, st)
	})

	t.Run("budget configs are stored independently", func(t *testing.T) {
		st := newStore(t)
		mustSeed(t, st)
		insertPlan(t, st, "b-plan")

		rec, err := st.GetBudget(ctx, WorkspaceID, "b-plan")
		if err != nil {
			t.Fatalf("GetBudget: %v", err)
		}
		if rec.Plan == nil || rec.Payg != nil {
			t.Fatalf("expected plan config only, got %+v", rec)
		}
		if !rec.Plan.DueDate.Equal(core.NewDate(2025, 12, 1).Time) || !rec.Plan.TargetAmount.Equal(dec("1200")) {
			t.Fatalf("plan config = %+v", rec.Plan)
		}
		if rec.Budget.Type != core.BudgetPlanSpend || rec.Budget.Currency != "EUR" {
			t.Fatalf("budget = %+v", rec.Budget)
		}

		// a second config of the other type is accepted and read back so
		// callers can detect the inconsistency
		if err := st.InsertPaygConfig(ctx, "b-plan", core.PaygConfig{MonthlyCap: dec("10")}); err != nil {
			t.Fatalf("InsertPaygConfig: %v", err)
		}
		rec, _ = st.GetBudget(ctx, WorkspaceID, "b-plan")
		if rec.Payg == nil || rec.Plan == nil {
			t.Fatalf("expected both configs, got %+v", rec)
		}

		bare := planBudget("b-bare")
		if err := st.InsertBudget(ctx, bare); err != nil {
			t.Fatalf("insert bare budget: %v", err)
		}
		list, err := st.ListBudgets(ctx, WorkspaceID)
		if err != nil || len(list) != 2 {
			t.Fatalf("ListBudgets = %d, %v", len(list), err)
		}
		if list[0].Budget.ID != "b-plan" || list[1].Payg != nil || list[1].Plan != nil {
			t.Fatalf("unexpected list %+v", list)
		}
		if other, _ := st.ListBudgets(ctx, OtherWorkspaceID); len(other) != 0 {
			t.Fatalf("budgets leaked across workspaces: %+v", other)
		}
		if _, err := st.GetBudget(ctx, OtherWorkspaceID, "b-plan"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetBudget across workspaces: %v", err)
		}
	})

	t.Run("update is workspace scoped", func(t *testing.T) {
		st := newStore(t)
		mustSeed(t, st)
		insertPlan(t, st, "b1")

		name := "Car insurance 2026"
		target := dec("1500.50")
		archived := core.StatusArchived
		patch := store.BudgetPatch{Name: &name, TargetAmount: &target, Status: &archived}
		if err := st.UpdateBudget(ctx, OtherWorkspaceID, "b1", patch); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("update from other workspace: %v", err)
		}
		if err := st.UpdateBudget(ctx, WorkspaceID, "b1", patch); err != nil {
			t.Fatalf("UpdateBudget: %v", err)
		}
		rec, _ := st.GetBudget(ctx, WorkspaceID, "b1")
		if rec.Budget.Name != name || rec.Budget.Status != core.StatusArchived || !rec.Plan.TargetAmount.Equal(target) {
			t.Fatalf("after update %+v %+v", rec.Budget, rec.Plan)
		}
		if err := st.UpdateBudget(ctx, WorkspaceID, "missing", patch); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("update missing: %v", err)
		}
	})

	t.Run("delete cascades", func(t *testing.T) {
		st := newStore(t)
		mustSeed(t, st)
		insertPlan(t, st, "b1")
		if err := st.InsertEntry(ctx, entry("e1", "b1", core.EntryFund, "100", "2025-01")); err != nil {
			t.Fatalf("InsertEntry: %v", err)
		}
		due := core.PaymentDue{ID: "d1", WorkspaceID: WorkspaceID, BudgetID: "b1", DueDate: core.NewDate(2025, 12, 1), AmountExpected: dec("1200"), Status: core.PaymentPending}
		if err := st.InsertPaymentDue(ctx, due); err != nil {
			t.Fatalf("InsertPaymentDue: %v", err)
		}

		if err := st.DeleteBudget(ctx, OtherWorkspaceID, "b1"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("delete from other workspace: %v", err)
		}
		if err := st.DeleteBudget(ctx, WorkspaceID, "b1"); err != nil {
			t.Fatalf("DeleteBudget: %v", err)
		}
		if err := st.DeleteBudget(ctx, WorkspaceID, "b1"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("second delete: %v", err)
		}
		if entries, _ := st.ListEntries(ctx, WorkspaceID, "b1"); len(entries) != 0 {
			t.Fatalf("entries survived delete: %+v", entries)
		}
		if _, err := st.GetPaymentDue(ctx, WorkspaceID, "d1"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("payment due survived delete: %v", err)
		}
	})

	t.Run("ledger", func(t *testing.T) {
		st := newStore(t)
		mustSeed(t, st)
		insertPlan(t, st, "b1")
		insertPlan(t, st, "b2")

		for _, e := range []core.LedgerEntry{
			entry("e1", "b1", core.EntryFund, "333.33", "2025-01"),
			entry("e2", "b1", core.EntryConsume, "50", ""),
			entry("e3", "b1", core.EntryAdjust, "0.01", ""),
			entry("e4", "b2", core.EntryFund, "100", ""),
			entry("e5", "b2", core.EntryFund, "100", ""),
		} {
			if err := st.InsertEntry(ctx, e); err != nil {
				t.Fatalf("InsertEntry %s: %v", e.ID, err)
			}
		}

		err := st.InsertEntry(ctx, entry("e6", "b1", core.EntryFund, "333.33", "2025-01"))
		if !errors.Is(err, store.ErrDuplicateContribution) {
			t.Fatalf("duplicate month: %v", err)
		}
		// a different month, or a month-less fund, is fine
		if err := st.InsertEntry(ctx, entry("e7", "b1", core.EntryFund, "1", "2025-02")); err != nil {
			t.Fatalf("next month: %v", err)
		}

		entries, err := st.ListEntries(ctx, WorkspaceID, "b1")
		if err != nil || len(entries) != 4 {
			t.Fatalf("ListEntries = %d, %v", len(entries), err)
		}
		if entries[0].ID != "e1" || entries[0].Metadata.Month != "2025-01" || entries[1].Type != core.EntryConsume {
			t.Fatalf("entries out of order: %+v", entries)
		}
		if !entries[0].Amount.Equal(dec("333.33")) {
			t.Fatalf("amount precision lost: %s", entries[0].Amount)
		}

		reserved, err := st.ReservedByBudget(ctx, WorkspaceID)
		if err != nil {
			t.Fatalf("ReservedByBudget: %v", err)
		}
		if !reserved["b1"].Equal(dec("284.34")) || !reserved["b2"].Equal(dec("200")) {
			t.Fatalf("reserved = %v", reserved)
		}

		jan, feb := core.MonthRange(time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC))
		for _, tt := range []struct {
			budgetID string
			from, to time.Time
			want     bool
		}{
			{"b1", jan, feb, true},
			// untagged funds count too
			{"b2", jan, feb, true},
			{"b1", feb, feb.AddDate(0, 1, 0), false},
			{"b1", jan.AddDate(0, 0, 15), feb, false},
		} {
			has, err := st.HasFundBetween(ctx, tt.budgetID, tt.from, tt.to)
			if err != nil || has != tt.want {
				t.Fatalf("HasFundBetween(%s, %s, %s) = %v, %v, want %v",
					tt.budgetID, tt.from.Format(time.DateOnly), tt.to.Format(time.DateOnly), has, err, tt.want)
			}
		}
	})

	t.Run("payments", func(t *testing.T) {
		st := newStore(t)
		mustSeed(t, st)
		insertPlan(t, st, "b1")

		for _, d := range []core.PaymentDue{
			{ID: "d2", WorkspaceID: WorkspaceID, BudgetID: "b1", DueDate: core.NewDate(2026, 12, 1), AmountExpected: dec("1200"), Status: core.PaymentPending},
			{ID: "d1", WorkspaceID: WorkspaceID, BudgetID: "b1", DueDate: core.NewDate(2025, 12, 1), AmountExpected: dec("1200"), Status: core.PaymentPending},
		} {
			if err := st.InsertPaymentDue(ctx, d); err != nil {
				t.Fatalf("InsertPaymentDue: %v", err)
			}
		}

		at := time.Date(2025, 12, 2, 10, 0, 0, 0, time.UTC)
		if err := st.MarkPaymentConfirmed(ctx, OtherWorkspaceID, "d1", "tx1", at); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("confirm across workspaces: %v", err)
		}
		if err := st.MarkPaymentConfirmed(ctx, WorkspaceID, "d1", "tx1", at); err != nil {
			t.Fatalf("MarkPaymentConfirmed: %v", err)
		}
		if err := st.MarkPaymentConfirmed(ctx, WorkspaceID, "d1", "tx2", at); !errors.Is(err, store.ErrNotPending) {
			t.Fatalf("second confirm: %v", err)
		}

		got, err := st.GetPaymentDue(ctx, WorkspaceID, "d1")
		if err != nil {
			t.Fatalf("GetPaymentDue: %v", err)
		}
		if got.Status != core.PaymentConfirmed || got.TransactionID != "tx1" || got.ConfirmedAt == nil || !got.ConfirmedAt.Equal(at) {
			t.Fatalf("confirmed due = %+v", got)
		}

		all, _ := st.ListPaymentDues(ctx, WorkspaceID, "")
		if len(all) != 2 || all[0].ID != "d1" {
			t.Fatalf("ListPaymentDues = %+v", all)
		}
		pending, _ := st.ListPaymentDues(ctx, WorkspaceID, core.PaymentPending)
		if len(pending) != 1 || pending[0].ID != "d2" {
			t.Fatalf("pending = %+v", pending)
		}
	})

	t.Run("transactions", func(t *testing.T) {
		st := newStore(t)
		mustSeed(t, st)

		txs := []core.Transaction{
			{ID: "t1", WorkspaceID: WorkspaceID, AccountID: AccountID, SubcategoryID: SubcategoryID, Kind: core.TransactionExpense, Amount: dec("120.50"), Description: "premium", OccurredAt: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)},
			{ID: "t2", WorkspaceID: WorkspaceID, AccountID: AccountID, SubcategoryID: SubcategoryID, Kind: core.TransactionExpense, Amount: dec("10"), Description: "fee", OccurredAt: time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC)},
			{ID: "t3", WorkspaceID: WorkspaceID, AccountID: AccountID, Kind: core.TransactionIncome, Amount: dec("500"), Description: "salary", OccurredAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "t4", WorkspaceID: WorkspaceID, AccountID: USDAccountID, SubcategoryID: "sub-food", Kind: core.TransactionExpense, Amount: dec("20"), Description: "lunch", OccurredAt: time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC)},
		}
		for _, tx := range txs {
			if err := st.InsertTransaction(ctx, tx); err != nil {
				t.Fatalf("InsertTransaction %s: %v", tx.ID, err)
			}
		}

		from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		spending, err := st.SpendingBySubcategory(ctx, WorkspaceID, from, from.AddDate(0, 1, 0))
		if err != nil {
			t.Fatalf("SpendingBySubcategory: %v", err)
		}
		if !spending[SubcategoryID].Equal(dec("120.50")) || !spending["sub-food"].Equal(dec("20")) {
			t.Fatalf("spending = %v", spending)
		}

		balances, err := st.AccountBalances(ctx, WorkspaceID)
		if err != nil {
			t.Fatalf("AccountBalances: %v", err)
		}
		if !balances[AccountID].Equal(dec("1369.50")) || !balances[USDAccountID].Equal(dec("180")) {
			t.Fatalf("balances = %v", balances)
		}
	})

	t.Run("transaction rollback", func(t *testing.T) {
		st := newStore(t)
		mustSeed(t, st)

		boom := errors.New("boom")
		err := st.WithTx(ctx, func(tx store.Store) error {
			if err := tx.InsertBudget(ctx, planBudget("b-tx")); err != nil {
				return err
			}
			// nested calls join the outer transaction
			return tx.WithTx(ctx, func(inner store.Store) error {
				if err := inner.InsertPlanConfig(ctx, "b-tx", core.PlanConfig{TargetAmount: dec("1"), DueDate: core.NewDate(2030, 1, 1), Recurrence: core.RecurrenceNone, StartPolicy: core.StartThisMonth}); err != nil {
					return err
				}
				return boom
			})
		})
		if !errors.Is(err, boom) {
			t.Fatalf("WithTx error = %v", err)
		}
		if _, err := st.GetBudget(ctx, WorkspaceID, "b-tx"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("budget survived rollback: %v", err)
		}

		err = st.WithTx(ctx, func(tx store.Store) error {
			return tx.InsertBudget(ctx, planBudget("b-ok"))
		})
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		if _, err := st.GetBudget(ctx, WorkspaceID, "b-ok"); err != nil {
			t.Fatalf("committed budget missing: %v", err)
		}
	})
}
