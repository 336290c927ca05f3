// Package memory is an in-process implementation of store.Store used by
// tests and by the memory backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"accantona/internal/core"
	"accantona/internal/store"

	"github.com/shopspring/decimal"
)

type memberKey struct {
	workspaceID string
	userID      string
}

type state struct {
	workspaces    map[string]core.Workspace
	members       map[memberKey]core.MemberRole
	subcategories map[string]core.Subcategory
	accounts      map[string]core.Account
	budgets       map[string]core.Budget
	payg          map[string]core.PaygConfig
	plan          map[string]core.PlanConfig
	fundMonths    map[string]struct{}
	entries       []core.LedgerEntry
	dues          []core.PaymentDue
	transactions  []core.Transaction
	// insertion order
	workspaceIDs []string
	accountIDs   []string
	budgetIDs    []string
}

func newState() *state {
	return &state{
		workspaces:    map[string]core.Workspace{},
		members:       map[memberKey]core.MemberRole{},
		subcategories: map[string]core.Subcategory{},
		accounts:      map[string]core.Account{},
		budgets:       map[string]core.Budget{},
		payg:          map[string]core.PaygConfig{},
		plan:          map[string]core.PlanConfig{},
		fundMonths:    map[string]struct{}{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.workspaces {
		c.workspaces[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.subcategories {
		c.subcategories[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.budgets {
		c.budgets[k] = v
	}
	for k, v := range s.payg {
		c.payg[k] = v
	}
	for k, v := range s.plan {
		c.plan[k] = v
	}
	for k := range s.fundMonths {
		c.fundMonths[k] = struct{}{}
	}
	c.entries = append([]core.LedgerEntry(nil), s.entries...)
	c.dues = append([]core.PaymentDue(nil), s.dues...)
	c.transactions = append([]core.Transaction(nil), s.transactions...)
	c.workspaceIDs = append([]string(nil), s.workspaceIDs...)
	c.accountIDs = append([]string(nil), s.accountIDs...)
	c.budgetIDs = append([]string(nil), s.budgetIDs...)
	return c
}

// db keeps everything in maps guarded by one mutex.
type db struct {
	mu sync.RWMutex
	st *state
}

// Store serializes every write with the open transaction, if any, so a
// rollback restoring its snapshot never drops a concurrent write. Reads
// do not wait for transactions.
type Store struct {
	*db
	txMu sync.Mutex
}

func New() *Store {
	return &Store{db: &db{st: newState()}}
}

// txStore is the view handed to WithTx callbacks. It writes to db directly
// since the transaction already holds txMu.
type txStore struct {
	*db
}

func (t txStore) WithTx(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (s *Store) WithTx(_ context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(txStore{s.db}); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Writes outside WithTx.

func (s *Store) CreateWorkspace(ctx context.Context, w core.Workspace) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.CreateWorkspace(ctx, w)
}

func (s *Store) UpsertMember(ctx context.Context, m core.Member) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.UpsertMember(ctx, m)
}

func (s *Store) CreateSubcategory(ctx context.Context, sc core.Subcategory) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.CreateSubcategory(ctx, sc)
}

func (s *Store) CreateAccount(ctx context.Context, a core.Account) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.CreateAccount(ctx, a)
}

func (s *Store) InsertBudget(ctx context.Context, b core.Budget) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.InsertBudget(ctx, b)
}

func (s *Store) InsertPaygConfig(ctx context.Context, budgetID string, c core.PaygConfig) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.InsertPaygConfig(ctx, budgetID, c)
}

func (s *Store) InsertPlanConfig(ctx context.Context, budgetID string, c core.PlanConfig) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.InsertPlanConfig(ctx, budgetID, c)
}

func (s *Store) UpdateBudget(ctx context.Context, workspaceID, budgetID string, p store.BudgetPatch) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.UpdateBudget(ctx, workspaceID, budgetID, p)
}

func (s *Store) DeleteBudget(ctx context.Context, workspaceID, budgetID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.DeleteBudget(ctx, workspaceID, budgetID)
}

func (s *Store) InsertEntry(ctx context.Context, e core.LedgerEntry) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.InsertEntry(ctx, e)
}

func (s *Store) InsertPaymentDue(ctx context.Context, p core.PaymentDue) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.InsertPaymentDue(ctx, p)
}

func (s *Store) MarkPaymentConfirmed(ctx context.Context, workspaceID, id, transactionID string, at time.Time) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.MarkPaymentConfirmed(ctx, workspaceID, id, transactionID, at)
}

func (s *Store) InsertTransaction(ctx context.Context, t core.Transaction) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.db.InsertTransaction(ctx, t)
}

func (s *db) Ping(context.Context) error { return nil }

func (s *db) Close() error { return nil }

func fundKey(budgetID, month string) string {
	return budgetID + "|" + month
}

// Directory

func (s *db) CreateWorkspace(_ context.Context, w core.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.workspaces[w.ID]; ok {
		return fmt.Errorf("workspace %s already exists", w.ID)
	}
	s.st.workspaces[w.ID] = w
	s.st.workspaceIDs = append(s.st.workspaceIDs, w.ID)
	return nil
}

func (s *db) GetWorkspace(_ context.Context, id string) (core.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.st.workspaces[id]
	if !ok {
		return core.Workspace{}, store.ErrNotFound
	}
	return w, nil
}

func (s *db) ListWorkspaces(context.Context) ([]core.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Workspace, 0, len(s.st.workspaceIDs))
	for _, id := range s.st.workspaceIDs {
		out = append(out, s.st.workspaces[id])
	}
	return out, nil
}

func (s *db) UpsertMember(_ context.Context, m core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.workspaces[m.WorkspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", m.WorkspaceID, store.ErrNotFound)
	}
	s.st.members[memberKey{m.WorkspaceID, m.UserID}] = m.Role
	return nil
}

func (s *db) GetMemberRole(_ context.Context, workspaceID, userID string) (core.MemberRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.st.members[memberKey{workspaceID, userID}]
	if !ok {
		return "", store.ErrNotFound
	}
	return role, nil
}

func (s *db) CreateSubcategory(_ context.Context, sc core.Subcategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.workspaces[sc.WorkspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", sc.WorkspaceID, store.ErrNotFound)
	}
	s.st.subcategories[sc.ID] = sc
	return nil
}

func (s *db) GetSubcategory(_ context.Context, workspaceID, id string) (core.Subcategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.st.subcategories[id]
	if !ok || sc.WorkspaceID != workspaceID {
		return core.Subcategory{}, store.ErrNotFound
	}
	return sc, nil
}

func (s *db) CreateAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.workspaces[a.WorkspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", a.WorkspaceID, store.ErrNotFound)
	}
	if _, ok := s.st.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	s.st.accounts[a.ID] = a
	s.st.accountIDs = append(s.st.accountIDs, a.ID)
	return nil
}

func (s *db) GetAccount(_ context.Context, workspaceID, id string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.st.accounts[id]
	if !ok || a.WorkspaceID != workspaceID {
		return core.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (s *db) ListAccounts(_ context.Context, workspaceID string) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Account
	for _, id := range s.st.accountIDs {
		if a := s.st.accounts[id]; a.WorkspaceID == workspaceID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Budgets

func (s *db) InsertBudget(_ context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.workspaces[b.WorkspaceID]; !ok {
		return fmt.Errorf("workspace %s: %w", b.WorkspaceID, store.ErrNotFound)
	}
	if _, ok := s.st.budgets[b.ID]; ok {
		return fmt.Errorf("budget %s already exists", b.ID)
	}
	b.Config = nil
	s.st.budgets[b.ID] = b
	s.st.budgetIDs = append(s.st.budgetIDs, b.ID)
	return nil
}

func (s *db) InsertPaygConfig(_ context.Context, budgetID string, c core.PaygConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.budgets[budgetID]; !ok {
		return fmt.Errorf("budget %s: %w", budgetID, store.ErrNotFound)
	}
	if _, ok := s.st.payg[budgetID]; ok {
		return fmt.Errorf("payg config for budget %s already exists", budgetID)
	}
	s.st.payg[budgetID] = c
	return nil
}

func (s *db) InsertPlanConfig(_ context.Context, budgetID string, c core.PlanConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.budgets[budgetID]; !ok {
		return fmt.Errorf("budget %s: %w", budgetID, store.ErrNotFound)
	}
	if _, ok := s.st.plan[budgetID]; ok {
		return fmt.Errorf("plan config for budget %s already exists", budgetID)
	}
	s.st.plan[budgetID] = c
	return nil
}

func (s *db) record(id string) store.BudgetRecord {
	rec := store.BudgetRecord{Budget: s.st.budgets[id]}
	if c, ok := s.st.payg[id]; ok {
		rec.Payg = &c
	}
	if c, ok := s.st.plan[id]; ok {
		rec.Plan = &c
	}
	return rec
}

func (s *db) GetBudget(_ context.Context, workspaceID, budgetID string) (store.BudgetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.st.budgets[budgetID]
	if !ok || b.WorkspaceID != workspaceID {
		return store.BudgetRecord{}, store.ErrNotFound
	}
	return s.record(budgetID), nil
}

func (s *db) ListBudgets(_ context.Context, workspaceID string) ([]store.BudgetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.BudgetRecord
	for _, id := range s.st.budgetIDs {
		if s.st.budgets[id].WorkspaceID == workspaceID {
			out = append(out, s.record(id))
		}
	}
	return out, nil
}

func (s *db) UpdateBudget(_ context.Context, workspaceID, budgetID string, p store.BudgetPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.budgets[budgetID]
	if !ok || b.WorkspaceID != workspaceID {
		return store.ErrNotFound
	}
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Status != nil {
		b.Status = *p.Status
	}
	s.st.budgets[budgetID] = b

	if c, ok := s.st.payg[budgetID]; ok {
		if p.MonthlyCap != nil {
			c.MonthlyCap = *p.MonthlyCap
		}
		if p.IsRecurring != nil {
			c.IsRecurring = *p.IsRecurring
		}
		s.st.payg[budgetID] = c
	}
	if c, ok := s.st.plan[budgetID]; ok {
		if p.TargetAmount != nil {
			c.TargetAmount = *p.TargetAmount
		}
		if p.DueDate != nil {
			c.DueDate = *p.DueDate
		}
		s.st.plan[budgetID] = c
	}
	return nil
}

func (s *db) DeleteBudget(_ context.Context, workspaceID, budgetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.budgets[budgetID]
	if !ok || b.WorkspaceID != workspaceID {
		return store.ErrNotFound
	}
	delete(s.st.budgets, budgetID)
	delete(s.st.payg, budgetID)
	delete(s.st.plan, budgetID)
	for i, id := range s.st.budgetIDs {
		if id == budgetID {
			s.st.budgetIDs = append(s.st.budgetIDs[:i:i], s.st.budgetIDs[i+1:]...)
			break
		}
	}

	entries := s.st.entries[:0:0]
	for _, e := range s.st.entries {
		if e.BudgetID == budgetID {
			delete(s.st.fundMonths, fundKey(budgetID, e.Metadata.Month))
			continue
		}
		entries = append(entries, e)
	}
	s.st.entries = entries

	dues := s.st.dues[:0:0]
	for _, d := range s.st.dues {
		if d.BudgetID != budgetID {
			dues = append(dues, d)
		}
	}
	s.st.dues = dues
	return nil
}

// Ledger

func (s *db) InsertEntry(_ context.Context, e core.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.budgets[e.BudgetID]; !ok {
		return fmt.Errorf("budget %s: %w", e.BudgetID, store.ErrNotFound)
	}
	if e.Type == core.EntryFund && e.Metadata.Month != "" {
		key := fundKey(e.BudgetID, e.Metadata.Month)
		if _, ok := s.st.fundMonths[key]; ok {
			return store.ErrDuplicateContribution
		}
		s.st.fundMonths[key] = struct{}{}
	}
	s.st.entries = append(s.st.entries, e)
	return nil
}

func (s *db) ListEntries(_ context.Context, workspaceID, budgetID string) ([]core.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.LedgerEntry
	for _, e := range s.st.entries {
		if e.WorkspaceID == workspaceID && e.BudgetID == budgetID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *db) ReservedByBudget(_ context.Context, workspaceID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]decimal.Decimal{}
	for _, e := range s.st.entries {
		if e.WorkspaceID != workspaceID {
			continue
		}
		out[e.BudgetID] = out[e.BudgetID].Add(e.Signed())
	}
	return out, nil
}

func (s *db) HasFundBetween(_ context.Context, budgetID string, from, to time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.st.entries {
		if e.BudgetID == budgetID && e.Type == core.EntryFund && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

// Payments

func (s *db) InsertPaymentDue(_ context.Context, p core.PaymentDue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.budgets[p.BudgetID]; !ok {
		return fmt.Errorf("budget %s: %w", p.BudgetID, store.ErrNotFound)
	}
	s.st.dues = append(s.st.dues, p)
	return nil
}

func (s *db) GetPaymentDue(_ context.Context, workspaceID, id string) (core.PaymentDue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.st.dues {
		if d.ID == id && d.WorkspaceID == workspaceID {
			return d, nil
		}
	}
	return core.PaymentDue{}, store.ErrNotFound
}

func (s *db) ListPaymentDues(_ context.Context, workspaceID string, status core.PaymentStatus) ([]core.PaymentDue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.PaymentDue
	for _, d := range s.st.dues {
		if d.WorkspaceID != workspaceID || (status != "" && d.Status != status) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate.Time)
	})
	return out, nil
}

func (s *db) MarkPaymentConfirmed(_ context.Context, workspaceID, id, transactionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.st.dues {
		if d.ID != id || d.WorkspaceID != workspaceID {
			continue
		}
		if d.Status != core.PaymentPending {
			return store.ErrNotPending
		}
		confirmedAt := at
		d.Status = core.PaymentConfirmed
		d.ConfirmedAt = &confirmedAt
		d.TransactionID = transactionID
		s.st.dues[i] = d
		return nil
	}
	return store.ErrNotFound
}

// Transactions

func (s *db) InsertTransaction(_ context.Context, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[t.AccountID]
	if !ok || a.WorkspaceID != t.WorkspaceID {
		return fmt.Errorf("account %s: %w", t.AccountID, store.ErrNotFound)
	}
	s.st.transactions = append(s.st.transactions, t)
	return nil
}

func (s *db) SpendingBySubcategory(_ context.Context, workspaceID string, from, to time.Time) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]decimal.Decimal{}
	for _, t := range s.st.transactions {
		if t.WorkspaceID != workspaceID || t.Kind != core.TransactionExpense || t.SubcategoryID == "" {
			continue
		}
		if t.OccurredAt.Before(from) || !t.OccurredAt.Before(to) {
			continue
		}
		out[t.SubcategoryID] = out[t.SubcategoryID].Add(t.Amount)
	}
	return out, nil
}

func (s *db) AccountBalances(_ context.Context, workspaceID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]decimal.Decimal{}
	for _, id := range s.st.accountIDs {
		if a := s.st.accounts[id]; a.WorkspaceID == workspaceID {
			out[id] = a.OpeningBalance
		}
	}
	for _, t := range s.st.transactions {
		bal, ok := out[t.AccountID]
		if !ok || t.WorkspaceID != workspaceID {
			continue
		}
		switch t.Kind {
		case core.TransactionIncome:
			out[t.AccountID] = bal.Add(t.Amount)
		case core.TransactionExpense:
			out[t.AccountID] = bal.Sub(t.Amount)
		}
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
