package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"accantona/internal/core"
	"accantona/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Directory

func (s *Store) CreateWorkspace(ctx context.Context, w core.Workspace) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO workspaces (id, name, reporting_currency) VALUES ($1, $2, $3)`,
		w.ID, w.Name, w.ReportingCurrency)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (core.Workspace, error) {
	var w core.Workspace
	err := s.q.QueryRow(ctx,
		`SELECT id, name, reporting_currency FROM workspaces WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.ReportingCurrency)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Workspace{}, store.ErrNotFound
	}
	if err != nil {
		return core.Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return w, nil
}

func (s *Store) ListWorkspaces(ctx context.Context) ([]core.Workspace, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name, reporting_currency FROM workspaces ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []core.Workspace
	for rows.Next() {
		var w core.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.ReportingCurrency); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) UpsertMember(ctx context.Context, m core.Member) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO members (workspace_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		m.WorkspaceID, m.UserID, string(m.Role))
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *Store) GetMemberRole(ctx context.Context, workspaceID, userID string) (core.MemberRole, error) {
	var role string
	err := s.q.QueryRow(ctx,
		`SELECT role FROM members WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get member role: %w", err)
	}
	return core.MemberRole(role), nil
}

func (s *Store) CreateSubcategory(ctx context.Context, sc core.Subcategory) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO subcategories (id, workspace_id, name) VALUES ($1, $2, $3)`,
		sc.ID, sc.WorkspaceID, sc.Name)
	if err != nil {
		return fmt.Errorf("insert subcategory: %w", err)
	}
	return nil
}

func (s *Store) GetSubcategory(ctx context.Context, workspaceID, id string) (core.Subcategory, error) {
	var sc core.Subcategory
	err := s.q.QueryRow(ctx,
		`SELECT id, workspace_id, name FROM subcategories WHERE id = $1 AND workspace_id = $2`, id, workspaceID).
		Scan(&sc.ID, &sc.WorkspaceID, &sc.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Subcategory{}, store.ErrNotFound
	}
	if err != nil {
		return core.Subcategory{}, fmt.Errorf("get subcategory: %w", err)
	}
	return sc, nil
}

func (s *Store) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO accounts (id, workspace_id, name, currency, opening_balance) VALUES ($1, $2, $3, $4, $5::numeric)`,
		a.ID, a.WorkspaceID, a.Name, a.Currency, a.OpeningBalance.String())
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

const accountColumns = `id, workspace_id, name, currency, opening_balance::text`

func scanAccount(row pgx.Row) (core.Account, error) {
	var (
		a       core.Account
		opening string
	)
	if err := row.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Currency, &opening); err != nil {
		return core.Account{}, err
	}
	var err error
	a.OpeningBalance, err = parseAmount(opening)
	return a, err
}

func (s *Store) GetAccount(ctx context.Context, workspaceID, id string) (core.Account, error) {
	a, err := scanAccount(s.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND workspace_id = $2`, id, workspaceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Account{}, store.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, workspaceID string) ([]core.Account, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE workspace_id = $1 ORDER BY seq`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Budgets

func (s *Store) InsertBudget(ctx context.Context, b core.Budget) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO budgets (id, workspace_id, subcategory_id, name, currency, type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.WorkspaceID, b.SubcategoryID, b.Name, b.Currency, string(b.Type), string(b.Status), b.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	return nil
}

func (s *Store) InsertPaygConfig(ctx context.Context, budgetID string, c core.PaygConfig) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO payg_configs (budget_id, monthly_cap, is_recurring) VALUES ($1, $2::numeric, $3)`,
		budgetID, c.MonthlyCap.String(), c.IsRecurring)
	if err != nil {
		return fmt.Errorf("insert payg config: %w", err)
	}
	return nil
}

func (s *Store) InsertPlanConfig(ctx context.Context, budgetID string, c core.PlanConfig) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO plan_configs (budget_id, target_amount, due_date, recurrence, start_policy, allow_use_safe)
		 VALUES ($1, $2::numeric, $3, $4, $5, $6)`,
		budgetID, c.TargetAmount.String(), c.DueDate.Time, string(c.Recurrence), string(c.StartPolicy), c.AllowUseSafe)
	if err != nil {
		return fmt.Errorf("insert plan config: %w", err)
	}
	return nil
}

const budgetSelect = `
SELECT b.id, b.workspace_id, b.subcategory_id, b.name, b.currency, b.type, b.status, b.created_at,
       p.budget_id, p.monthly_cap::text, p.is_recurring,
       s.budget_id, s.target_amount::text, s.due_date, s.recurrence, s.start_policy, s.allow_use_safe
FROM budgets b
LEFT JOIN payg_configs p ON p.budget_id = b.id
LEFT JOIN plan_configs s ON s.budget_id = b.id`

func scanBudget(row pgx.Row) (store.BudgetRecord, error) {
	var (
		rec    store.BudgetRecord
		b      = &rec.Budget
		typ    string
		status string

		paygID      *string
		monthlyCap  *string
		isRecurring *bool

		planID       *string
		target       *string
		dueDate      *time.Time
		recurrence   *string
		startPolicy  *string
		allowUseSafe *bool
	)
	err := row.Scan(&b.ID, &b.WorkspaceID, &b.SubcategoryID, &b.Name, &b.Currency, &typ, &status, &b.CreatedAt,
		&paygID, &monthlyCap, &isRecurring,
		&planID, &target, &dueDate, &recurrence, &startPolicy, &allowUseSafe)
	if err != nil {
		return store.BudgetRecord{}, err
	}
	b.Type = core.BudgetType(typ)
	b.Status = core.BudgetStatus(status)
	b.CreatedAt = b.CreatedAt.UTC()

	if paygID != nil {
		limit, err := parseAmount(*monthlyCap)
		if err != nil {
			return store.BudgetRecord{}, err
		}
		rec.Payg = &core.PaygConfig{MonthlyCap: limit, IsRecurring: *isRecurring}
	}
	if planID != nil {
		amount, err := parseAmount(*target)
		if err != nil {
			return store.BudgetRecord{}, err
		}
		rec.Plan = &core.PlanConfig{
			TargetAmount: amount,
			DueDate:      core.DateOf(*dueDate),
			Recurrence:   core.Recurrence(*recurrence),
			StartPolicy:  core.StartPolicy(*startPolicy),
			AllowUseSafe: *allowUseSafe,
		}
	}
	return rec, nil
}

func (s *Store) GetBudget(ctx context.Context, workspaceID, budgetID string) (store.BudgetRecord, error) {
	rec, err := scanBudget(s.q.QueryRow(ctx, budgetSelect+` WHERE b.id = $1 AND b.workspace_id = $2`, budgetID, workspaceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.BudgetRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.BudgetRecord{}, fmt.Errorf("get budget: %w", err)
	}
	return rec, nil
}

func (s *Store) ListBudgets(ctx context.Context, workspaceID string) ([]store.BudgetRecord, error) {
	rows, err := s.q.Query(ctx, budgetSelect+` WHERE b.workspace_id = $1 ORDER BY b.seq`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []store.BudgetRecord
	for rows.Next() {
		rec, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBudget(ctx context.Context, workspaceID, budgetID string, p store.BudgetPatch) error {
	var name, status any
	if p.Name != nil {
		name = *p.Name
	}
	if p.Status != nil {
		status = string(*p.Status)
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE budgets SET name = COALESCE($1::text, name), status = COALESCE($2::text, status)
		 WHERE id = $3 AND workspace_id = $4`,
		name, status, budgetID, workspaceID)
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	if err := expectOneRow(tag); err != nil {
		return err
	}

	if p.MonthlyCap != nil || p.IsRecurring != nil {
		var capValue, recurring any
		if p.MonthlyCap != nil {
			capValue = p.MonthlyCap.String()
		}
		if p.IsRecurring != nil {
			recurring = *p.IsRecurring
		}
		_, err := s.q.Exec(ctx,
			`UPDATE payg_configs SET monthly_cap = COALESCE($1::numeric, monthly_cap), is_recurring = COALESCE($2::boolean, is_recurring)
			 WHERE budget_id = $3`,
			capValue, recurring, budgetID)
		if err != nil {
			return fmt.Errorf("update payg config: %w", err)
		}
	}

	if p.TargetAmount != nil || p.DueDate != nil {
		var target, due any
		if p.TargetAmount != nil {
			target = p.TargetAmount.String()
		}
		if p.DueDate != nil {
			due = p.DueDate.Time
		}
		_, err := s.q.Exec(ctx,
			`UPDATE plan_configs SET target_amount = COALESCE($1::numeric, target_amount), due_date = COALESCE($2::date, due_date)
			 WHERE budget_id = $3`,
			target, due, budgetID)
		if err != nil {
			return fmt.Errorf("update plan config: %w", err)
		}
	}
	return nil
}

func (s *Store) DeleteBudget(ctx context.Context, workspaceID, budgetID string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM budgets WHERE id = $1 AND workspace_id = $2`, budgetID, workspaceID)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	return expectOneRow(tag)
}

// Ledger

func (s *Store) InsertEntry(ctx context.Context, e core.LedgerEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode entry metadata: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO ledger_entries (id, workspace_id, budget_id, type, amount, created_by, created_at,
		                             related_transaction_id, month, metadata)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10::jsonb)`,
		e.ID, e.WorkspaceID, e.BudgetID, string(e.Type), e.Amount.String(), e.CreatedBy, e.CreatedAt.UTC(),
		nullable(e.RelatedTransactionID), nullable(e.Metadata.Month), string(meta))
	if err != nil {
		if e.Type == core.EntryFund && e.Metadata.Month != "" && isUniqueViolation(err) {
			return store.ErrDuplicateContribution
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, workspaceID, budgetID string) ([]core.LedgerEntry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, workspace_id, budget_id, type, amount::text, created_by, created_at, related_transaction_id, metadata::text
		 FROM ledger_entries WHERE workspace_id = $1 AND budget_id = $2 ORDER BY seq`,
		workspaceID, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		var (
			e       core.LedgerEntry
			typ     string
			amount  string
			related *string
			meta    string
		)
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.BudgetID, &typ, &amount, &e.CreatedBy, &e.CreatedAt, &related, &meta); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = core.EntryType(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		if related != nil {
			e.RelatedTransactionID = *related
		}
		if e.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode entry metadata: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) sumByKey(ctx context.Context, query string, args ...any) (map[string]decimal.Decimal, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var key, sum string
		if err := rows.Scan(&key, &sum); err != nil {
			return nil, err
		}
		if out[key], err = parseAmount(sum); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

func (s *Store) ReservedByBudget(ctx context.Context, workspaceID string) (map[string]decimal.Decimal, error) {
	out, err := s.sumByKey(ctx,
		`SELECT budget_id, SUM(CASE WHEN type = 'consume' THEN -amount ELSE amount END)::text
		 FROM ledger_entries WHERE workspace_id = $1 GROUP BY budget_id`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("sum reserved by budget: %w", err)
	}
	return out, nil
}

func (s *Store) HasFundBetween(ctx context.Context, budgetID string, from, to time.Time) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries
		 WHERE budget_id = $1 AND type = 'fund' AND created_at >= $2 AND created_at < $3)`,
		budgetID, from, to).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check monthly fund: %w", err)
	}
	return exists, nil
}

// Payments

func (s *Store) InsertPaymentDue(ctx context.Context, p core.PaymentDue) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO payment_dues (id, workspace_id, budget_id, due_date, amount_expected, status, confirmed_at, transaction_id)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`,
		p.ID, p.WorkspaceID, p.BudgetID, p.DueDate.Time, p.AmountExpected.String(), string(p.Status),
		p.ConfirmedAt, nullable(p.TransactionID))
	if err != nil {
		return fmt.Errorf("insert payment due: %w", err)
	}
	return nil
}

const paymentDueColumns = `id, workspace_id, budget_id, due_date, amount_expected::text, status, confirmed_at, transaction_id`

func scanPaymentDue(row pgx.Row) (core.PaymentDue, error) {
	var (
		p           core.PaymentDue
		due         time.Time
		amount      string
		status      string
		confirmedAt *time.Time
		txID        *string
	)
	if err := row.Scan(&p.ID, &p.WorkspaceID, &p.BudgetID, &due, &amount, &status, &confirmedAt, &txID); err != nil {
		return core.PaymentDue{}, err
	}
	var err error
	if p.AmountExpected, err = parseAmount(amount); err != nil {
		return core.PaymentDue{}, err
	}
	p.DueDate = core.DateOf(due)
	p.Status = core.PaymentStatus(status)
	if confirmedAt != nil {
		t := confirmedAt.UTC()
		p.ConfirmedAt = &t
	}
	if txID != nil {
		p.TransactionID = *txID
	}
	return p, nil
}

func (s *Store) GetPaymentDue(ctx context.Context, workspaceID, id string) (core.PaymentDue, error) {
	p, err := scanPaymentDue(s.q.QueryRow(ctx,
		`SELECT `+paymentDueColumns+` FROM payment_dues WHERE id = $1 AND workspace_id = $2`, id, workspaceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.PaymentDue{}, store.ErrNotFound
	}
	if err != nil {
		return core.PaymentDue{}, fmt.Errorf("get payment due: %w", err)
	}
	return p, nil
}

func (s *Store) ListPaymentDues(ctx context.Context, workspaceID string, status core.PaymentStatus) ([]core.PaymentDue, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+paymentDueColumns+` FROM payment_dues
		 WHERE workspace_id = $1 AND ($2::text = '' OR status = $2::text)
		 ORDER BY due_date, seq`,
		workspaceID, string(status))
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

func (s *Store) MarkPaymentConfirmed(ctx context.Context, workspaceID, id, transactionID string, at time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE payment_dues SET status = 'confirmed', confirmed_at = $1, transaction_id = $2
		 WHERE id = $3 AND workspace_id = $4 AND status = 'pending'`,
		at.UTC(), transactionID, id, workspaceID)
	if err != nil {
		return fmt.Errorf("confirm payment due: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetPaymentDue(ctx, workspaceID, id); err != nil {
		return err
	}
	return store.ErrNotPending
}

// Transactions

func (s *Store) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO transactions (id, workspace_id, account_id, subcategory_id, kind, amount, description, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`,
		t.ID, t.WorkspaceID, t.AccountID, nullable(t.SubcategoryID), string(t.Kind), t.Amount.String(), t.Description, t.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) SpendingBySubcategory(ctx context.Context, workspaceID string, from, to time.Time) (map[string]decimal.Decimal, error) {
	out, err := s.sumByKey(ctx,
		`SELECT subcategory_id, SUM(amount)::text FROM transactions
		 WHERE workspace_id = $1 AND kind = 'expense' AND subcategory_id IS NOT NULL
		   AND occurred_at >= $2 AND occurred_at < $3
		 GROUP BY subcategory_id`,
		workspaceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("sum spending: %w", err)
	}
	return out, nil
}

func (s *Store) AccountBalances(ctx context.Context, workspaceID string) (map[string]decimal.Decimal, error) {
	out, err := s.sumByKey(ctx,
		`SELECT a.id, (a.opening_balance + COALESCE(SUM(
		            CASE t.kind WHEN 'income' THEN t.amount WHEN 'expense' THEN -t.amount END), 0))::text
		 FROM accounts a
		 LEFT JOIN transactions t ON t.account_id = a.id
		 WHERE a.workspace_id = $1
		 GROUP BY a.id, a.opening_balance`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("account balances: %w", err)
	}
	return out, nil
}
