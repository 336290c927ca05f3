// Package store declares the persistence ports used by the services.
//
// Implementations live in store/memory, storage (SQLite) and
// storage/postgres. All of them keep budget configs in their own relation,
// so a budget row can be read back with zero, one or two configs; assembling
// and checking the result is the caller's job (core.AssembleBudget).
package store

import (
	"context"
	"errors"
	"time"

	"accantona/internal/core"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a row does not exist or does not belong
	// to the given workspace.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateContribution is returned when a month-tagged fund entry
	// already exists for the same budget and month.
	ErrDuplicateContribution = errors.New("monthly contribution already recorded")
	// ErrNotPending is returned by MarkPaymentConfirmed when the due is no
	// longer pending.
	ErrNotPending = errors.New("payment due is not pending")
)

// BudgetRecord is a budget row together with whatever config rows exist
// for it.
type BudgetRecord struct {
	Budget core.Budget
	Payg   *core.PaygConfig
	Plan   *core.PlanConfig
}

// BudgetPatch lists the mutable fields of a budget. Nil means unchanged.
type BudgetPatch struct {
	Name         *string
	Status       *core.BudgetStatus
	MonthlyCap   *decimal.Decimal
	IsRecurring  *bool
	TargetAmount *decimal.Decimal
	DueDate      *core.Date
}

// Ports for outbound adapters.
type (
	Budgets interface {
		InsertBudget(ctx context.Context, b core.Budget) error
		InsertPaygConfig(ctx context.Context, budgetID string, c core.PaygConfig) error
		InsertPlanConfig(ctx context.Context, budgetID string, c core.PlanConfig) error
		// GetBudget returns ErrNotFound when the budget is missing or
		// belongs to another workspace.
		GetBudget(ctx context.Context, workspaceID, budgetID string) (BudgetRecord, error)
		ListBudgets(ctx context.Context, workspaceID string) ([]BudgetRecord, error)
		// UpdateBudget applies the patch scoped by workspace. Zero affected
		// budget rows yields ErrNotFound.
		UpdateBudget(ctx context.Context, workspaceID, budgetID string, p BudgetPatch) error
		// DeleteBudget removes the budget and cascades to its configs,
		// ledger entries and payment dues. Zero rows yields ErrNotFound.
		DeleteBudget(ctx context.Context, workspaceID, budgetID string) error
	}

	Ledger interface {
		// InsertEntry appends an entry. A fund entry carrying a month tag
		// that already exists for the budget yields ErrDuplicateContribution.
		InsertEntry(ctx context.Context, e core.LedgerEntry) error
		// ListEntries returns a budget's entries in insertion order.
		ListEntries(ctx context.Context, workspaceID, budgetID string) ([]core.LedgerEntry, error)
		// ReservedByBudget folds every entry of the workspace in one query.
		// Budgets without entries are absent from the map.
		ReservedByBudget(ctx context.Context, workspaceID string) (map[string]decimal.Decimal, error)
		// HasFundBetween reports whether the budget has any fund entry
		// created in [from, to), tagged with a month or not.
		HasFundBetween(ctx context.Context, budgetID string, from, to time.Time) (bool, error)
	}

	Payments interface {
		InsertPaymentDue(ctx context.Context, p core.PaymentDue) error
		GetPaymentDue(ctx context.Context, workspaceID, id string) (core.PaymentDue, error)
		// ListPaymentDues returns dues ordered by due date. An empty status
		// returns all of them.
		ListPaymentDues(ctx context.Context, workspaceID string, status core.PaymentStatus) ([]core.PaymentDue, error)
		// MarkPaymentConfirmed flips a pending due. Dues that are not pending
		// anymore yield ErrNotPending.
		MarkPaymentConfirmed(ctx context.Context, workspaceID, id, transactionID string, at time.Time) error
	}

	Directory interface {
		CreateWorkspace(ctx context.Context, w core.Workspace) error
		GetWorkspace(ctx context.Context, id string) (core.Workspace, error)
		ListWorkspaces(ctx context.Context) ([]core.Workspace, error)
		UpsertMember(ctx context.Context, m core.Member) error
		GetMemberRole(ctx context.Context, workspaceID, userID string) (core.MemberRole, error)
		CreateSubcategory(ctx context.Context, s core.Subcategory) error
		GetSubcategory(ctx context.Context, workspaceID, id string) (core.Subcategory, error)
		CreateAccount(ctx context.Context, a core.Account) error
		GetAccount(ctx context.Context, workspaceID, id string) (core.Account, error)
		ListAccounts(ctx context.Context, workspaceID string) ([]core.Account, error)
	}

	Transactions interface {
		InsertTransaction(ctx context.Context, t core.Transaction) error
		// SpendingBySubcategory sums expense transactions with OccurredAt in
		// [from, to).
		SpendingBySubcategory(ctx context.Context, workspaceID string, from, to time.Time) (map[string]decimal.Decimal, error)
		// AccountBalances returns opening balance plus income minus expenses
		// per account, in the account currency.
		AccountBalances(ctx context.Context, workspaceID string) (map[string]decimal.Decimal, error)
	}

	// Store is the full persistence surface.
	Store interface {
		Budgets
		Ledger
		Payments
		Directory
		Transactions

		// WithTx runs fn against a store bound to one transaction. The
		// transaction commits when fn returns nil and rolls back otherwise.
		// Calling WithTx on a transactional store reuses the transaction.
		WithTx(ctx context.Context, fn func(tx Store) error) error
		Ping(ctx context.Context) error
		Close() error
	}
)
