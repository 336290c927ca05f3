package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"accantona/internal/core"
	"accantona/internal/store"

	"github.com/shopspring/decimal"
)

func (r *SQLiteRepository) InsertEntry(ctx context.Context, e core.LedgerEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode entry metadata: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, workspace_id, budget_id, type, amount_cents, created_by, created_at,
		                             related_transaction_id, month, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkspaceID, e.BudgetID, string(e.Type), core.ToCents(e.Amount), e.CreatedBy, formatTime(e.CreatedAt),
		nullString(e.RelatedTransactionID), nullString(e.Metadata.Month), string(meta))
	if err != nil {
		if e.Type == core.EntryFund && e.Metadata.Month != "" && isUniqueViolation(err) {
			return store.ErrDuplicateContribution
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListEntries(ctx context.Context, workspaceID, budgetID string) ([]core.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, workspace_id, budget_id, type, amount_cents, created_by, created_at, related_transaction_id, metadata
		 FROM ledger_entries WHERE workspace_id = ? AND budget_id = ? ORDER BY rowid`,
		workspaceID, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		var (
			e         core.LedgerEntry
			typ       string
			cents     int64
			createdAt string
			related   sql.NullString
			meta      string
		)
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.BudgetID, &typ, &cents, &e.CreatedBy, &createdAt, &related, &meta); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = core.EntryType(typ)
		e.Amount = core.FromCents(cents)
		e.RelatedTransactionID = related.String
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode entry metadata: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ReservedByBudget(ctx context.Context, workspaceID string) (map[string]decimal.Decimal, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT budget_id,
		        SUM(CASE WHEN type = 'consume' THEN -amount_cents ELSE amount_cents END)
		 FROM ledger_entries WHERE workspace_id = ? GROUP BY budget_id`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("sum reserved by budget: %w", err)
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var (
			budgetID string
			cents    int64
		)
		if err := rows.Scan(&budgetID, &cents); err != nil {
			return nil, fmt.Errorf("scan reserved: %w", err)
		}
		out[budgetID] = core.FromCents(cents)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) HasFundBetween(ctx context.Context, budgetID string, from, to time.Time) (bool, error) {
	var exists int
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries
		 WHERE budget_id = ? AND type = 'fund' AND created_at >= ? AND created_at < ?)`,
		budgetID, formatTime(from), formatTime(to)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check monthly fund: %w", err)
	}
	return exists == 1, nil
}

func (r *SQLiteRepository) InsertPaymentDue(ctx context.Context, p core.PaymentDue) error {
	var confirmedAt sql.NullString
	if p.ConfirmedAt != nil {
		confirmedAt = nullString(formatTime(*p.ConfirmedAt))
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO payment_dues (id, workspace_id, budget_id, due_date, amount_expected_cents, status, confirmed_at, transaction_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.BudgetID, p.DueDate.String(), core.ToCents(p.AmountExpected), string(p.Status),
		confirmedAt, nullString(p.TransactionID))
	if err != nil {
		return fmt.Errorf("insert payment due: %w", err)
	}
	return nil
}

const paymentDueColumns = `id, workspace_id, budget_id, due_date, amount_expected_cents, status, confirmed_at, transaction_id`

func scanPaymentDue(row interface{ Scan(...any) error }) (core.PaymentDue, error) {
	var (
		p           core.PaymentDue
		due         sql.NullString
		cents       int64
		status      string
		confirmedAt sql.NullString
		txID        sql.NullString
	)
	if err := row.Scan(&p.ID, &p.WorkspaceID, &p.BudgetID, &due, &cents, &status, &confirmedAt, &txID); err != nil {
		return core.PaymentDue{}, err
	}
	var err error
	if p.DueDate, err = dateOrZero(due); err != nil {
		return core.PaymentDue{}, err
	}
	if p.ConfirmedAt, err = timePtr(confirmedAt); err != nil {
		return core.PaymentDue{}, err
	}
	p.AmountExpected = core.FromCents(cents)
	p.Status = core.PaymentStatus(status)
	p.TransactionID = txID.String
	return p, nil
}

func (r *SQLiteRepository) GetPaymentDue(ctx context.Context, workspaceID, id string) (core.PaymentDue, error) {
	p, err := scanPaymentDue(r.q.QueryRowContext(ctx,
		`SELECT `+paymentDueColumns+` FROM payment_dues WHERE id = ? AND workspace_id = ?`, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.PaymentDue{}, store.ErrNotFound
	}
	if err != nil {
		return core.PaymentDue{}, fmt.Errorf("get payment due: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListPaymentDues(ctx context.Context, workspaceID string, status core.PaymentStatus) ([]core.PaymentDue, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+paymentDueColumns+` FROM payment_dues
		 WHERE workspace_id = ? AND (? = '' OR status = ?)
		 ORDER BY due_date, rowid`,
		workspaceID, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("list payment dues: %w", err)
	}
	defer rows.Close()

	var out []core.PaymentDue
	for rows.Next() {
		p, err := scanPaymentDue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment due: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPaymentConfirmed only touches pending rows, so two confirmations
// racing on the same due cannot both succeed.
func (r *SQLiteRepository) MarkPaymentConfirmed(ctx context.Context, workspaceID, id, transactionID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE payment_dues SET status = 'confirmed', confirmed_at = ?, transaction_id = ?
		 WHERE id = ? AND workspace_id = ? AND status = 'pending'`,
		formatTime(at), transactionID, id, workspaceID)
	if err != nil {
		return fmt.Errorf("confirm payment due: %w", err)
	}
	if err := expectOneRow(res); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if _, err := r.GetPaymentDue(ctx, workspaceID, id); err != nil {
		return err
	}
	return store.ErrNotPending
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO transactions (id, workspace_id, account_id, subcategory_id, kind, amount_cents, description, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WorkspaceID, t.AccountID, nullString(t.SubcategoryID), string(t.Kind), core.ToCents(t.Amount),
		t.Description, formatTime(t.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SpendingBySubcategory(ctx context.Context, workspaceID string, from, to time.Time) (map[string]decimal.Decimal, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT subcategory_id, SUM(amount_cents) FROM transactions
		 WHERE workspace_id = ? AND kind = 'expense' AND subcategory_id IS NOT NULL
		   AND occurred_at >= ? AND occurred_at < ?
		 GROUP BY subcategory_id`,
		workspaceID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("sum spending: %w", err)
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var (
			sub   string
			cents int64
		)
		if err := rows.Scan(&sub, &cents); err != nil {
			return nil, fmt.Errorf("scan spending: %w", err)
		}
		out[sub] = core.FromCents(cents)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) AccountBalances(ctx context.Context, workspaceID string) (map[string]decimal.Decimal, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT a.id, a.opening_balance_cents + COALESCE(SUM(
		            CASE t.kind WHEN 'income' THEN t.amount_cents WHEN 'expense' THEN -t.amount_cents END), 0)
		 FROM accounts a
		 LEFT JOIN transactions t ON t.account_id = a.id
		 WHERE a.workspace_id = ?
		 GROUP BY a.id, a.opening_balance_cents`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("account balances: %w", err)
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var (
			id    string
			cents int64
		)
		if err := rows.Scan(&id, &cents); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out[id] = core.FromCents(cents)
	}
	return out, rows.Err()
}
