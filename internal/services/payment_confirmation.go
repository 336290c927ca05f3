package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"accantona/internal/amqp"
	"accantona/internal/core"
	"accantona/internal/store"

	"github.com/google/uuid"
)

// PaymentConfirmation settles pending payment dues.
type PaymentConfirmation struct {
	store  store.Store
	ledger *FundingLedger
	perms  Permissions
	events EventPublisher
	now    func() time.Time
}

func NewPaymentConfirmation(st store.Store, ledger *FundingLedger, perms Permissions, events EventPublisher) *PaymentConfirmation {
	return &PaymentConfirmation{
		store:  st,
		ledger: ledger,
		perms:  perms,
		events: events,
		now:    time.Now,
	}
}

// ConfirmResult identifies what a confirmation wrote. NextDue is set when
// the plan recurs.
type ConfirmResult struct {
	TransactionID string
	EntryID       string
	NextDue       *core.PaymentDue
}

// Confirm turns a pending due into an expense transaction on accountID and
// a matching consume entry, then marks the due confirmed. All writes share
// one transaction and the status flip goes last, so a due is never left
// pending with its consume entry recorded. A second confirmation fails with
// AlreadyConfirmed.
func (p *PaymentConfirmation) Confirm(ctx context.Context, actor, workspaceID, paymentDueID, accountID string) (*ConfirmResult, error) {
	if err := requireManage(ctx, p.perms, actor, workspaceID); err != nil {
		return nil, surface(ctx, err)
	}
	now := p.now().UTC()

	var result ConfirmResult
	var due core.PaymentDue
	err := p.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		due, err = tx.GetPaymentDue(ctx, workspaceID, paymentDueID)
		if err != nil {
			return notFound(err, "payment due")
		}
		if due.Status != core.PaymentPending {
			return core.AlreadyConfirmed(paymentDueID)
		}

		account, err := tx.GetAccount(ctx, workspaceID, accountID)
		if err != nil {
			return notFound(err, "account")
		}
		rec, err := tx.GetBudget(ctx, workspaceID, due.BudgetID)
		if err != nil {
			return notFound(err, "budget")
		}
		budget, err := core.AssembleBudget(rec.Budget, rec.Payg, rec.Plan)
		if err != nil {
			return err
		}
		plan, err := budget.Plan()
		if err != nil {
			return err
		}
		if account.Currency != budget.Currency {
			return core.Validation("account currency %s does not match budget currency %s", account.Currency, budget.Currency)
		}

		txn := core.Transaction{
			ID:            uuid.NewString(),
			WorkspaceID:   workspaceID,
			AccountID:     account.ID,
			SubcategoryID: budget.SubcategoryID,
			Kind:          core.TransactionExpense,
			Amount:        due.AmountExpected,
			Description:   "Payment: " + budget.Name,
			OccurredAt:    now,
		}
		if err := txn.Validate(); err != nil {
			return core.Validation("invalid payment transaction: %v", err)
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return core.Dependency("transaction store unavailable", err)
		}
		result.TransactionID = txn.ID

		entry, err := p.ledger.append(ctx, tx, workspaceID, budget.ID, EntryInput{
			Type:                 core.EntryConsume,
			Amount:               due.AmountExpected,
			Actor:                actor,
			RelatedTransactionID: txn.ID,
			Metadata:             core.LedgerMetadata{Note: "payment " + due.ID},
		})
		if err != nil {
			return err
		}
		result.EntryID = entry.ID

		next, err := p.scheduleNext(ctx, tx, budget, plan, due)
		if err != nil {
			return err
		}
		result.NextDue = next

		err = tx.MarkPaymentConfirmed(ctx, workspaceID, due.ID, txn.ID, now)
		switch {
		case errors.Is(err, store.ErrNotPending):
			return core.AlreadyConfirmed(paymentDueID)
		case err != nil:
			return notFound(err, "payment due")
		}
		return nil
	})
	if err != nil {
		return nil, surface(ctx, err)
	}

	slog.InfoContext(ctx, "Payment confirmed",
		"workspace_id", workspaceID,
		"budget_id", due.BudgetID,
		"payment_due_id", due.ID,
		"transaction_id", result.TransactionID,
		"amount", core.FormatMoney(due.AmountExpected))

	publish(ctx, p.events, amqp.NewAuditEvent(amqp.EventPaymentConfirmed, workspaceID, due.BudgetID, actor).
		With("payment_due_id", due.ID).
		With("transaction_id", result.TransactionID).
		WithAmount(due.AmountExpected))
	return &result, nil
}

// scheduleNext advances a recurring plan to its next due date and opens the
// matching pending due.
func (p *PaymentConfirmation) scheduleNext(ctx context.Context, tx store.Store, b core.Budget, plan core.PlanConfig, due core.PaymentDue) (*core.PaymentDue, error) {
	strategy, err := GetRecurrenceStrategy(plan.Recurrence)
	if err != nil {
		return nil, core.ConfigIntegrity(b.ID, err.Error())
	}
	nextDate, ok := strategy.Next(due.DueDate)
	if !ok {
		return nil, nil
	}

	if err := tx.UpdateBudget(ctx, b.WorkspaceID, b.ID, store.BudgetPatch{DueDate: &nextDate}); err != nil {
		return nil, fmt.Errorf("advance plan due date: %w", err)
	}
	next := core.PaymentDue{
		ID:             uuid.NewString(),
		WorkspaceID:    b.WorkspaceID,
		BudgetID:       b.ID,
		DueDate:        nextDate,
		AmountExpected: plan.TargetAmount,
		Status:         core.PaymentPending,
	}
	if err := tx.InsertPaymentDue(ctx, next); err != nil {
		return nil, fmt.Errorf("insert next payment due: %w", err)
	}
	return &next, nil
}

// Upcoming lists pending dues falling on or before now+horizon, overdue
// ones included, ordered by due date.
func (p *PaymentConfirmation) Upcoming(ctx context.Context, workspaceID string, now time.Time, horizon time.Duration) ([]core.PaymentDue, error) {
	dues, err := p.store.ListPaymentDues(ctx, workspaceID, core.PaymentPending)
	if err != nil {
		return nil, surface(ctx, fmt.Errorf("list payment dues: %w", err))
	}
	limit := core.DateOf(now.Add(horizon))
	out := make([]core.PaymentDue, 0, len(dues))
	for _, d := range dues {
		if !d.DueDate.After(limit.Time) {
			out = append(out, d)
		}
	}
	return out, nil
}
