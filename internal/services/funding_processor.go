package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"accantona/internal/amqp"
	"accantona/internal/core"
	"accantona/internal/middleware/trace"
	"accantona/internal/store"

	"github.com/shopspring/decimal"
)

// SystemActor is recorded as the author of scheduled contributions.
const SystemActor = "system:funding-worker"

// FundingProcessor applies the monthly contribution of every active plan.
type FundingProcessor struct {
	store  store.Store
	ledger *FundingLedger
	perms  Permissions
	events EventPublisher
}

func NewFundingProcessor(st store.Store, ledger *FundingLedger, perms Permissions, events EventPublisher) *FundingProcessor {
	return &FundingProcessor{
		store:  st,
		ledger: ledger,
		perms:  perms,
		events: events,
	}
}

// FundedBudget is one contribution written by an apply run.
type FundedBudget struct {
	BudgetID string
	EntryID  string
	Amount   decimal.Decimal
}

// ApplyResult summarizes an apply run over one workspace.
type ApplyResult struct {
	WorkspaceID string
	Month       string
	Funded      []FundedBudget
	// AlreadyFunded counts plans that had their contribution for the month.
	AlreadyFunded int
	// NotFundable counts plans whose due month is behind the start.
	NotFundable int
	Failed      int
}

// ApplyMonthlyContributions funds every active plan of the workspace once
// for the month containing now. Running it again in the same month writes
// nothing. One budget failing does not stop the others; the failures are
// joined into the returned DependencyError alongside the partial result.
func (p *FundingProcessor) ApplyMonthlyContributions(ctx context.Context, actor, workspaceID string, now time.Time) (ApplyResult, error) {
	if err := requireManage(ctx, p.perms, actor, workspaceID); err != nil {
		return ApplyResult{WorkspaceID: workspaceID}, surface(ctx, err)
	}
	return p.apply(ctx, actor, workspaceID, now)
}

// ApplyAll runs the monthly apply for every workspace as SystemActor.
func (p *FundingProcessor) ApplyAll(ctx context.Context, now time.Time) ([]ApplyResult, error) {
	ctx, _ = trace.EnsureRequestID(ctx)
	workspaces, err := p.store.ListWorkspaces(ctx)
	if err != nil {
		return nil, surface(ctx, fmt.Errorf("list workspaces: %w", err))
	}

	var (
		results []ApplyResult
		errs    []error
	)
	for _, ws := range workspaces {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.apply(ctx, SystemActor, ws.ID, now)
		results = append(results, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("workspace %s: %w", ws.ID, err))
		}
	}
	return results, errors.Join(errs...)
}

func (p *FundingProcessor) apply(ctx context.Context, actor, workspaceID string, now time.Time) (ApplyResult, error) {
	month := core.MonthKey(now)
	result := ApplyResult{WorkspaceID: workspaceID, Month: month}

	records, err := p.store.ListBudgets(ctx, workspaceID)
	if err != nil {
		return result, surface(ctx, fmt.Errorf("list budgets: %w", err))
	}

	slog.InfoContext(ctx, "Applying monthly contributions",
		"workspace_id", workspaceID,
		"month", month,
		"budgets", len(records))

	var failures []error
	for _, rec := range records {
		if rec.Budget.Type != core.BudgetPlanSpend || !rec.Budget.IsActive() {
			continue
		}
		funded, skipped, err := p.applyOne(ctx, actor, rec, month, now)
		switch {
		case err != nil:
			result.Failed++
			failures = append(failures, fmt.Errorf("budget %s: %w", rec.Budget.ID, err))
			slog.ErrorContext(ctx, "Monthly contribution failed",
				"workspace_id", workspaceID,
				"budget_id", rec.Budget.ID,
				"error", err)
		case funded != nil:
			result.Funded = append(result.Funded, *funded)
		case skipped:
			result.AlreadyFunded++
		default:
			result.NotFundable++
		}
	}

	slog.InfoContext(ctx, "Monthly contributions applied",
		"workspace_id", workspaceID,
		"month", month,
		"funded", len(result.Funded),
		"already_funded", result.AlreadyFunded,
		"not_fundable", result.NotFundable,
		"failed", result.Failed)

	if len(result.Funded) > 0 {
		publish(ctx, p.events, amqp.NewAuditEvent(amqp.EventContributionsApplied, workspaceID, "", actor).
			With("month", month).
			With("funded", fmt.Sprint(len(result.Funded))))
	}

	if len(failures) > 0 {
		err := core.Dependency(
			fmt.Sprintf("%d of %d plan budgets could not be funded", result.Failed, result.Failed+len(result.Funded)+result.AlreadyFunded+result.NotFundable),
			errors.Join(failures...))
		return result, surface(ctx, err)
	}
	return result, nil
}

// applyOne funds a single plan. It reports skipped when the month already
// has its contribution, and neither funded nor skipped when nothing is due.
func (p *FundingProcessor) applyOne(ctx context.Context, actor string, rec store.BudgetRecord, month string, now time.Time) (*FundedBudget, bool, error) {
	b, err := core.AssembleBudget(rec.Budget, rec.Payg, rec.Plan)
	if err != nil {
		return nil, false, err
	}
	plan, err := b.Plan()
	if err != nil {
		return nil, false, err
	}

	from, to := core.MonthRange(now)
	has, err := p.store.HasFundBetween(ctx, b.ID, from, to)
	if err != nil {
		return nil, false, fmt.Errorf("check existing contribution: %w", err)
	}
	if has {
		return nil, true, nil
	}

	amount := ComputeMonthlyContribution(plan, now)
	if !amount.IsPositive() {
		return nil, false, nil
	}

	var entry *core.LedgerEntry
	err = p.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		entry, err = p.ledger.append(ctx, tx, b.WorkspaceID, b.ID, EntryInput{
			Type:     core.EntryFund,
			Amount:   amount,
			Actor:    actor,
			Metadata: core.LedgerMetadata{Month: month, AutoFunded: true},
			At:       now,
		})
		return err
	})
	if errors.Is(err, store.ErrDuplicateContribution) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &FundedBudget{BudgetID: b.ID, EntryID: entry.ID, Amount: entry.Amount}, false, nil
}
