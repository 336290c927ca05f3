package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"accantona/internal/core"
	"accantona/internal/store"
)

func (r *SQLiteRepository) InsertBudget(ctx context.Context, b core.Budget) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO budgets (id, workspace_id, subcategory_id, name, currency, type, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.WorkspaceID, b.SubcategoryID, b.Name, b.Currency, string(b.Type), string(b.Status), formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) InsertPaygConfig(ctx context.Context, budgetID string, c core.PaygConfig) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO payg_configs (budget_id, monthly_cap_cents, is_recurring) VALUES (?, ?, ?)`,
		budgetID, core.ToCents(c.MonthlyCap), boolInt(c.IsRecurring))
	if err != nil {
		return fmt.Errorf("insert payg config: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) InsertPlanConfig(ctx context.Context, budgetID string, c core.PlanConfig) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO plan_configs (budget_id, target_amount_cents, due_date, recurrence, start_policy, allow_use_safe)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		budgetID, core.ToCents(c.TargetAmount), c.DueDate.String(), string(c.Recurrence), string(c.StartPolicy), boolInt(c.AllowUseSafe))
	if err != nil {
		return fmt.Errorf("insert plan config: %w", err)
	}
	return nil
}

const budgetSelect = `
SELECT b.id, b.workspace_id, b.subcategory_id, b.name, b.currency, b.type, b.status, b.created_at,
       p.budget_id, p.monthly_cap_cents, p.is_recurring,
       s.budget_id, s.target_amount_cents, s.due_date, s.recurrence, s.start_policy, s.allow_use_safe
FROM budgets b
LEFT JOIN payg_configs p ON p.budget_id = b.id
LEFT JOIN plan_configs s ON s.budget_id = b.id`

func scanBudget(row interface{ Scan(...any) error }) (store.BudgetRecord, error) {
	var (
		rec       store.BudgetRecord
		b         = &rec.Budget
		typ       string
		status    string
		createdAt string

		paygID      sql.NullString
		capCents    sql.NullInt64
		isRecurring sql.NullInt64

		planID       sql.NullString
		targetCents  sql.NullInt64
		dueDate      sql.NullString
		recurrence   sql.NullString
		startPolicy  sql.NullString
		allowUseSafe sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.WorkspaceID, &b.SubcategoryID, &b.Name, &b.Currency, &typ, &status, &createdAt,
		&paygID, &capCents, &isRecurring,
		&planID, &targetCents, &dueDate, &recurrence, &startPolicy, &allowUseSafe)
	if err != nil {
		return store.BudgetRecord{}, err
	}
	b.Type = core.BudgetType(typ)
	b.Status = core.BudgetStatus(status)
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return store.BudgetRecord{}, err
	}

	if paygID.Valid {
		rec.Payg = &core.PaygConfig{
			MonthlyCap:  core.FromCents(capCents.Int64),
			IsRecurring: isRecurring.Int64 != 0,
		}
	}
	if planID.Valid {
		due, err := core.ParseDate(dueDate.String)
		if err != nil {
			return store.BudgetRecord{}, err
		}
		rec.Plan = &core.PlanConfig{
			TargetAmount: core.FromCents(targetCents.Int64),
			DueDate:      due,
			Recurrence:   core.Recurrence(recurrence.String),
			StartPolicy:  core.StartPolicy(startPolicy.String),
			AllowUseSafe: allowUseSafe.Int64 != 0,
		}
	}
	return rec, nil
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, workspaceID, budgetID string) (store.BudgetRecord, error) {
	rec, err := scanBudget(r.q.QueryRowContext(ctx,
		budgetSelect+` WHERE b.id = ? AND b.workspace_id = ?`, budgetID, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.BudgetRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.BudgetRecord{}, fmt.Errorf("get budget: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, workspaceID string) ([]store.BudgetRecord, error) {
	rows, err := r.q.QueryContext(ctx, budgetSelect+` WHERE b.workspace_id = ? ORDER BY b.rowid`, workspaceID)
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

func (r *SQLiteRepository) UpdateBudget(ctx context.Context, workspaceID, budgetID string, p store.BudgetPatch) error {
	var name, status any
	if p.Name != nil {
		name = *p.Name
	}
	if p.Status != nil {
		status = string(*p.Status)
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE budgets SET name = COALESCE(?, name), status = COALESCE(?, status)
		 WHERE id = ? AND workspace_id = ?`,
		name, status, budgetID, workspaceID)
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}

	if p.MonthlyCap != nil || p.IsRecurring != nil {
		var capCents, recurring any
		if p.MonthlyCap != nil {
			capCents = core.ToCents(*p.MonthlyCap)
		}
		if p.IsRecurring != nil {
			recurring = boolInt(*p.IsRecurring)
		}
		_, err := r.q.ExecContext(ctx,
			`UPDATE payg_configs SET monthly_cap_cents = COALESCE(?, monthly_cap_cents), is_recurring = COALESCE(?, is_recurring)
			 WHERE budget_id = ?`,
			capCents, recurring, budgetID)
		if err != nil {
			return fmt.Errorf("update payg config: %w", err)
		}
	}

	if p.TargetAmount != nil || p.DueDate != nil {
		var target, due any
		if p.TargetAmount != nil {
			target = core.ToCents(*p.TargetAmount)
		}
		if p.DueDate != nil {
			due = p.DueDate.String()
		}
		_, err := r.q.ExecContext(ctx,
			`UPDATE plan_configs SET target_amount_cents = COALESCE(?, target_amount_cents), due_date = COALESCE(?, due_date)
			 WHERE budget_id = ?`,
			target, due, budgetID)
		if err != nil {
			return fmt.Errorf("update plan config: %w", err)
		}
	}
	return nil
}

// DeleteBudget relies on ON DELETE CASCADE for configs, entries and dues.
func (r *SQLiteRepository) DeleteBudget(ctx context.Context, workspaceID, budgetID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM budgets WHERE id = ? AND workspace_id = ?`, budgetID, workspaceID)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	return expectOneRow(res)
}

// dateOrZero parses an optional YYYY-MM-DD column.
func dateOrZero(s sql.NullString) (core.Date, error) {
	if !s.Valid || s.String == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s.String)
}

func timePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
