package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"accantona/internal/amqp"
	"accantona/internal/core"
	"accantona/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FundingLedger appends fund, consume and adjust entries and derives the
// reserved balance of a budget by replaying them.
type FundingLedger struct {
	store  store.Store
	perms  Permissions
	events EventPublisher
	now    func() time.Time
}

func NewFundingLedger(st store.Store, perms Permissions, events EventPublisher) *FundingLedger {
	return &FundingLedger{
		store:  st,
		perms:  perms,
		events: events,
		now:    time.Now,
	}
}

// EntryInput describes one ledger movement.
type EntryInput struct {
	Type                 core.EntryType
	Amount               decimal.Decimal
	Actor                string
	RelatedTransactionID string
	Metadata             core.LedgerMetadata
	// At stamps the entry. Zero means the ledger clock.
	At time.Time
}

// Replay folds entries into the reserved balance:
// fund + adjust - consume.
func Replay(entries []core.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Signed())
	}
	return total
}

func (l *FundingLedger) RecordFund(ctx context.Context, workspaceID, budgetID string, amount decimal.Decimal, actor string, meta core.LedgerMetadata) (*core.LedgerEntry, error) {
	return l.record(ctx, workspaceID, budgetID, EntryInput{Type: core.EntryFund, Amount: amount, Actor: actor, Metadata: meta})
}

func (l *FundingLedger) RecordConsume(ctx context.Context, workspaceID, budgetID string, amount decimal.Decimal, actor string, meta core.LedgerMetadata) (*core.LedgerEntry, error) {
	return l.record(ctx, workspaceID, budgetID, EntryInput{Type: core.EntryConsume, Amount: amount, Actor: actor, Metadata: meta})
}

func (l *FundingLedger) RecordAdjust(ctx context.Context, workspaceID, budgetID string, amount decimal.Decimal, actor string, meta core.LedgerMetadata) (*core.LedgerEntry, error) {
	return l.record(ctx, workspaceID, budgetID, EntryInput{Type: core.EntryAdjust, Amount: amount, Actor: actor, Metadata: meta})
}

// Post records a manual movement on behalf of a workspace manager. Manual
// entries never carry a month tag, but a manual fund still makes the
// scheduled run skip the budget for that month.
func (l *FundingLedger) Post(ctx context.Context, actor, workspaceID, budgetID string, in EntryInput) (*core.LedgerEntry, error) {
	if err := requireManage(ctx, l.perms, actor, workspaceID); err != nil {
		return nil, surface(ctx, err)
	}
	in.Actor = actor
	in.Metadata.Month = ""
	in.Metadata.AutoFunded = false
	in.At = time.Time{}
	return l.record(ctx, workspaceID, budgetID, in)
}

func (l *FundingLedger) record(ctx context.Context, workspaceID, budgetID string, in EntryInput) (*core.LedgerEntry, error) {
	var entry *core.LedgerEntry
	err := l.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		entry, err = l.append(ctx, tx, workspaceID, budgetID, in)
		return err
	})
	if err != nil {
		return nil, surface(ctx, err)
	}

	publish(ctx, l.events, amqp.NewAuditEvent(amqp.EventLedgerEntryRecorded, workspaceID, budgetID, in.Actor).
		With("entry_id", entry.ID).
		With("entry_type", string(entry.Type)).
		WithAmount(entry.Amount))
	return entry, nil
}

// append validates and inserts one entry through st, which is expected to
// be bound to a transaction. The budget is re-read first so no entry can be
// written for a budget that is gone. Store sentinels are returned as is.
func (l *FundingLedger) append(ctx context.Context, st store.Store, workspaceID, budgetID string, in EntryInput) (*core.LedgerEntry, error) {
	if !in.Amount.IsPositive() {
		return nil, core.Validation("amount must be greater than zero")
	}
	if _, err := st.GetBudget(ctx, workspaceID, budgetID); err != nil {
		return nil, notFound(err, "budget")
	}

	createdAt := in.At
	if createdAt.IsZero() {
		createdAt = l.now()
	}
	entry := core.LedgerEntry{
		ID:                   uuid.NewString(),
		WorkspaceID:          workspaceID,
		BudgetID:             budgetID,
		Type:                 in.Type,
		Amount:               core.RoundMoney(in.Amount),
		CreatedBy:            in.Actor,
		CreatedAt:            createdAt.UTC(),
		RelatedTransactionID: in.RelatedTransactionID,
		Metadata:             in.Metadata,
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := st.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	slog.InfoContext(ctx, "Ledger entry recorded",
		"workspace_id", workspaceID,
		"budget_id", budgetID,
		"entry_type", entry.Type,
		"amount", core.FormatMoney(entry.Amount))
	return &entry, nil
}

// CurrentReserved replays the full history of one budget.
func (l *FundingLedger) CurrentReserved(ctx context.Context, workspaceID, budgetID string) (decimal.Decimal, error) {
	entries, err := l.Entries(ctx, workspaceID, budgetID)
	if err != nil {
		return decimal.Zero, err
	}
	return Replay(entries), nil
}

// ReservedByBudget returns the reserved balance of every budget in the
// workspace from a single aggregate query.
func (l *FundingLedger) ReservedByBudget(ctx context.Context, workspaceID string) (map[string]decimal.Decimal, error) {
	reserved, err := l.store.ReservedByBudget(ctx, workspaceID)
	if err != nil {
		return nil, surface(ctx, fmt.Errorf("aggregate reserved: %w", err))
	}
	return reserved, nil
}

// Entries returns a budget's history in insertion order.
func (l *FundingLedger) Entries(ctx context.Context, workspaceID, budgetID string) ([]core.LedgerEntry, error) {
	if _, err := l.store.GetBudget(ctx, workspaceID, budgetID); err != nil {
		return nil, surface(ctx, notFound(err, "budget"))
	}
	entries, err := l.store.ListEntries(ctx, workspaceID, budgetID)
	if err != nil {
		return nil, surface(ctx, fmt.Errorf("list ledger entries: %w", err))
	}
	return entries, nil
}
