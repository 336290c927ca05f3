package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"accantona/internal/amqp"
	"accantona/internal/core"
	"accantona/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BudgetCatalog owns budgets and their strategy configs.
type BudgetCatalog struct {
	store  store.Store
	perms  Permissions
	ledger *FundingLedger
	events EventPublisher
	now    func() time.Time
}

func NewBudgetCatalog(st store.Store, perms Permissions, ledger *FundingLedger, events EventPublisher) *BudgetCatalog {
	return &BudgetCatalog{
		store:  st,
		perms:  perms,
		ledger: ledger,
		events: events,
		now:    time.Now,
	}
}

// CreateBudgetInput carries a new budget. Amount is the monthly cap of a
// PAYG budget or the target of a plan.
type CreateBudgetInput struct {
	SubcategoryID    string
	Name             string
	Currency         string
	Type             core.BudgetType
	Amount           decimal.Decimal
	IsRecurring      bool
	DueDate          core.Date
	Recurrence       core.Recurrence
	StartPolicy      core.StartPolicy
	AllowUseSafe     bool
	AutoFund         bool
	FundingAccountID string
}

// UpdateBudgetPatch lists what may change after creation. The budget type
// is fixed; fields of the other strategy are rejected.
type UpdateBudgetPatch struct {
	Name         *string
	Status       *core.BudgetStatus
	MonthlyCap   *decimal.Decimal
	IsRecurring  *bool
	TargetAmount *decimal.Decimal
}

// BudgetView is a listed budget with its derived figures. A row whose
// config is missing or duplicated carries IntegrityError and no figures.
type BudgetView struct {
	Budget              core.Budget
	CurrentReserved     decimal.Decimal
	SpendingAmount      decimal.Decimal
	MonthlyContribution decimal.Decimal
	IntegrityError      error
}

// Preview is the contribution preview shown while a plan is being edited.
type Preview struct {
	TotalMonths         int
	MonthlyContribution decimal.Decimal
	FirstMonth          string
}

func (in CreateBudgetInput) config() (core.BudgetConfig, error) {
	amount := core.RoundMoney(in.Amount)
	switch in.Type {
	case core.BudgetPayg:
		cfg := core.PaygConfig{MonthlyCap: amount, IsRecurring: in.IsRecurring}
		return cfg, cfg.Validate()
	case core.BudgetPlanSpend:
		cfg := core.PlanConfig{
			TargetAmount: amount,
			DueDate:      in.DueDate,
			Recurrence:   in.Recurrence,
			StartPolicy:  in.StartPolicy,
			AllowUseSafe: in.AllowUseSafe,
		}
		if cfg.Recurrence == "" {
			cfg.Recurrence = core.RecurrenceNone
		}
		if cfg.StartPolicy == "" {
			cfg.StartPolicy = core.StartThisMonth
		}
		return cfg, cfg.Validate()
	default:
		return nil, core.Validation("invalid budget type %q", in.Type)
	}
}

// Preview computes what the monthly contribution of a plan would be if it
// were created at now.
func (c *BudgetCatalog) Preview(in CreateBudgetInput, now time.Time) (Preview, error) {
	in.Type = core.BudgetPlanSpend
	cfg, err := in.config()
	if err != nil {
		return Preview{}, err
	}
	plan := cfg.(core.PlanConfig)
	if err := ValidatePlanSchedule(plan, now); err != nil {
		return Preview{}, err
	}
	start := core.StartOfMonth(now)
	if plan.StartPolicy == core.StartNextMonth {
		start = core.AddMonths(start, 1)
	}
	return Preview{
		TotalMonths:         TotalMonths(plan.DueDate, plan.StartPolicy, now),
		MonthlyContribution: ComputeMonthlyContribution(plan, now),
		FirstMonth:          core.MonthKey(start),
	}, nil
}

// Create validates and stores a budget with its config. A plan also gets
// its first pending payment due. Auto-funding happens after the budget is
// committed and its failure is only logged.
func (c *BudgetCatalog) Create(ctx context.Context, actor, workspaceID string, in CreateBudgetInput) (*core.Budget, error) {
	if err := requireManage(ctx, c.perms, actor, workspaceID); err != nil {
		return nil, surface(ctx, err)
	}
	now := c.now()

	currency, err := core.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, surface(ctx, core.Validation("currency must be a 3-letter ISO code"))
	}
	cfg, err := in.config()
	if err != nil {
		return nil, surface(ctx, err)
	}
	if plan, ok := cfg.(core.PlanConfig); ok {
		if err := ValidatePlanSchedule(plan, now); err != nil {
			return nil, surface(ctx, err)
		}
	}

	sub, err := c.store.GetSubcategory(ctx, workspaceID, in.SubcategoryID)
	if err != nil {
		return nil, surface(ctx, notFound(err, "subcategory"))
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = sub.Name
	}
	if len(name) > 100 {
		return nil, surface(ctx, core.Validation("name too long (max 100 characters)"))
	}

	budget := core.Budget{
		ID:            uuid.NewString(),
		WorkspaceID:   workspaceID,
		SubcategoryID: sub.ID,
		Name:          name,
		Currency:      currency,
		Type:          in.Type,
		Status:        core.StatusActive,
		CreatedAt:     now.UTC(),
		Config:        cfg,
	}

	err = c.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.InsertBudget(ctx, budget); err != nil {
			return fmt.Errorf("insert budget: %w", err)
		}
		switch cfg := cfg.(type) {
		case core.PaygConfig:
			if err := tx.InsertPaygConfig(ctx, budget.ID, cfg); err != nil {
				return fmt.Errorf("insert payg config: %w", err)
			}
		case core.PlanConfig:
			if err := tx.InsertPlanConfig(ctx, budget.ID, cfg); err != nil {
				return fmt.Errorf("insert plan config: %w", err)
			}
			due := core.PaymentDue{
				ID:             uuid.NewString(),
				WorkspaceID:    workspaceID,
				BudgetID:       budget.ID,
				DueDate:        cfg.DueDate,
				AmountExpected: cfg.TargetAmount,
				Status:         core.PaymentPending,
			}
			if err := tx.InsertPaymentDue(ctx, due); err != nil {
				return fmt.Errorf("insert payment due: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, surface(ctx, err)
	}

	slog.InfoContext(ctx, "Budget created",
		"workspace_id", workspaceID,
		"budget_id", budget.ID,
		"type", budget.Type,
		"currency", budget.Currency)

	if plan, ok := cfg.(core.PlanConfig); ok && in.AutoFund {
		c.autoFund(ctx, actor, budget, plan, in.FundingAccountID, now)
	}

	publish(ctx, c.events, amqp.NewAuditEvent(amqp.EventBudgetCreated, workspaceID, budget.ID, actor).
		With("type", string(budget.Type)))
	return &budget, nil
}

// autoFund records the first monthly contribution. Failures leave the
// budget in place.
func (c *BudgetCatalog) autoFund(ctx context.Context, actor string, b core.Budget, plan core.PlanConfig, accountID string, now time.Time) {
	amount := ComputeMonthlyContribution(plan, now)
	if !amount.IsPositive() {
		return
	}
	meta := core.LedgerMetadata{
		Month:            core.MonthKey(now),
		AutoFunded:       true,
		FundingAccountID: accountID,
	}
	if _, err := c.ledger.RecordFund(ctx, b.WorkspaceID, b.ID, amount, actor, meta); err != nil {
		slog.ErrorContext(ctx, "Auto-fund failed, budget kept without initial contribution",
			"workspace_id", b.WorkspaceID,
			"budget_id", b.ID,
			"amount", core.FormatMoney(amount),
			"error", err)
	}
}

func (p UpdateBudgetPatch) toStore(t core.BudgetType) (store.BudgetPatch, error) {
	out := store.BudgetPatch{Status: p.Status}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" || len(name) > 100 {
			return out, core.Validation("name must be between 1 and 100 characters")
		}
		out.Name = &name
	}
	if p.Status != nil && *p.Status != core.StatusActive && *p.Status != core.StatusArchived {
		return out, core.Validation("invalid status %q", *p.Status)
	}

	if t == core.BudgetPayg && p.TargetAmount != nil {
		return out, core.Validation("target amount only applies to plan budgets")
	}
	if t == core.BudgetPlanSpend && (p.MonthlyCap != nil || p.IsRecurring != nil) {
		return out, core.Validation("monthly cap and recurring flag only apply to payg budgets")
	}
	for _, amount := range []*decimal.Decimal{p.MonthlyCap, p.TargetAmount} {
		if amount != nil && !core.RoundMoney(*amount).IsPositive() {
			return out, core.Validation("amount must be greater than zero")
		}
	}
	if p.MonthlyCap != nil {
		v := core.RoundMoney(*p.MonthlyCap)
		out.MonthlyCap = &v
	}
	if p.TargetAmount != nil {
		v := core.RoundMoney(*p.TargetAmount)
		out.TargetAmount = &v
	}
	out.IsRecurring = p.IsRecurring
	return out, nil
}

// Update renames a budget or changes its strategy amounts.
func (c *BudgetCatalog) Update(ctx context.Context, actor, workspaceID, budgetID string, patch UpdateBudgetPatch) (*core.Budget, error) {
	if err := requireManage(ctx, c.perms, actor, workspaceID); err != nil {
		return nil, surface(ctx, err)
	}

	var updated core.Budget
	err := c.store.WithTx(ctx, func(tx store.Store) error {
		rec, err := tx.GetBudget(ctx, workspaceID, budgetID)
		if err != nil {
			return conflictOnMissing(err)
		}
		sp, err := patch.toStore(rec.Budget.Type)
		if err != nil {
			return err
		}
		if err := tx.UpdateBudget(ctx, workspaceID, budgetID, sp); err != nil {
			return conflictOnMissing(err)
		}
		rec, err = tx.GetBudget(ctx, workspaceID, budgetID)
		if err != nil {
			return conflictOnMissing(err)
		}
		updated, err = core.AssembleBudget(rec.Budget, rec.Payg, rec.Plan)
		return err
	})
	if err != nil {
		return nil, surface(ctx, err)
	}

	publish(ctx, c.events, amqp.NewAuditEvent(amqp.EventBudgetUpdated, workspaceID, budgetID, actor))
	return &updated, nil
}

// Delete removes a budget with its config, ledger and payment dues.
func (c *BudgetCatalog) Delete(ctx context.Context, actor, workspaceID, budgetID string) error {
	if err := requireManage(ctx, c.perms, actor, workspaceID); err != nil {
		return surface(ctx, err)
	}
	if err := c.store.DeleteBudget(ctx, workspaceID, budgetID); err != nil {
		return surface(ctx, conflictOnMissing(err))
	}

	slog.InfoContext(ctx, "Budget deleted", "workspace_id", workspaceID, "budget_id", budgetID)
	publish(ctx, c.events, amqp.NewAuditEvent(amqp.EventBudgetDeleted, workspaceID, budgetID, actor))
	return nil
}

// conflictOnMissing hides whether a budget was missing or belonged to
// another workspace.
func conflictOnMissing(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return core.Conflict("not found or no permission")
	}
	return err
}

// Get returns one budget with its config. A budget whose config is missing
// or duplicated yields ConfigIntegrityError.
func (c *BudgetCatalog) Get(ctx context.Context, workspaceID, budgetID string) (*core.Budget, error) {
	rec, err := c.store.GetBudget(ctx, workspaceID, budgetID)
	if err != nil {
		return nil, surface(ctx, notFound(err, "budget"))
	}
	b, err := core.AssembleBudget(rec.Budget, rec.Payg, rec.Plan)
	if err != nil {
		return nil, surface(ctx, err)
	}
	return &b, nil
}

// List returns every budget of the workspace with its reserved balance and
// the spending of its subcategory in the month containing now. Reserved and
// spending come from one aggregate query each.
func (c *BudgetCatalog) List(ctx context.Context, workspaceID string, now time.Time) ([]BudgetView, error) {
	records, err := c.store.ListBudgets(ctx, workspaceID)
	if err != nil {
		return nil, surface(ctx, fmt.Errorf("list budgets: %w", err))
	}
	reserved, err := c.store.ReservedByBudget(ctx, workspaceID)
	if err != nil {
		return nil, surface(ctx, fmt.Errorf("aggregate reserved: %w", err))
	}
	from, to := core.MonthRange(now)
	spending, err := c.store.SpendingBySubcategory(ctx, workspaceID, from, to)
	if err != nil {
		return nil, surface(ctx, core.Dependency("transaction store unavailable", err))
	}

	views := make([]BudgetView, 0, len(records))
	for _, rec := range records {
		b, err := core.AssembleBudget(rec.Budget, rec.Payg, rec.Plan)
		if err != nil {
			slog.WarnContext(ctx, "Budget config integrity error",
				"workspace_id", workspaceID,
				"budget_id", rec.Budget.ID,
				"error", err)
			views = append(views, BudgetView{Budget: b, IntegrityError: surface(ctx, err)})
			continue
		}
		view := BudgetView{
			Budget:          b,
			CurrentReserved: reserved[b.ID],
			SpendingAmount:  spending[b.SubcategoryID],
		}
		if plan, err := b.Plan(); err == nil {
			view.MonthlyContribution = ComputeMonthlyContribution(plan, now)
		}
		views = append(views, view)
	}
	return views, nil
}
