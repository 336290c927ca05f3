package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"accantona/internal/core"
	"accantona/internal/store"
)

func (r *SQLiteRepository) CreateWorkspace(ctx context.Context, w core.Workspace) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, reporting_currency) VALUES (?, ?, ?)`,
		w.ID, w.Name, w.ReportingCurrency)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetWorkspace(ctx context.Context, id string) (core.Workspace, error) {
	var w core.Workspace
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, reporting_currency FROM workspaces WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.ReportingCurrency)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Workspace{}, store.ErrNotFound
	}
	if err != nil {
		return core.Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return w, nil
}

func (r *SQLiteRepository) ListWorkspaces(ctx context.Context) ([]core.Workspace, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, reporting_currency FROM workspaces ORDER BY rowid`)
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

func (r *SQLiteRepository) UpsertMember(ctx context.Context, m core.Member) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO members (workspace_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		m.WorkspaceID, m.UserID, string(m.Role))
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetMemberRole(ctx context.Context, workspaceID, userID string) (core.MemberRole, error) {
	var role string
	err := r.q.QueryRowContext(ctx,
		`SELECT role FROM members WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID).
		Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get member role: %w", err)
	}
	return core.MemberRole(role), nil
}

func (r *SQLiteRepository) CreateSubcategory(ctx context.Context, s core.Subcategory) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO subcategories (id, workspace_id, name) VALUES (?, ?, ?)`,
		s.ID, s.WorkspaceID, s.Name)
	if err != nil {
		return fmt.Errorf("insert subcategory: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSubcategory(ctx context.Context, workspaceID, id string) (core.Subcategory, error) {
	var s core.Subcategory
	err := r.q.QueryRowContext(ctx,
		`SELECT id, workspace_id, name FROM subcategories WHERE id = ? AND workspace_id = ?`, id, workspaceID).
		Scan(&s.ID, &s.WorkspaceID, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Subcategory{}, store.ErrNotFound
	}
	if err != nil {
		return core.Subcategory{}, fmt.Errorf("get subcategory: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO accounts (id, workspace_id, name, currency, opening_balance_cents) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.Name, a.Currency, core.ToCents(a.OpeningBalance))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

const accountColumns = `id, workspace_id, name, currency, opening_balance_cents`

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var (
		a     core.Account
		cents int64
	)
	if err := row.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Currency, &cents); err != nil {
		return core.Account{}, err
	}
	a.OpeningBalance = core.FromCents(cents)
	return a, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, workspaceID, id string) (core.Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND workspace_id = ?`, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, store.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, workspaceID string) ([]core.Account, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE workspace_id = ? ORDER BY rowid`, workspaceID)
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
