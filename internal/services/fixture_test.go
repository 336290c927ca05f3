package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"accantona/internal/amqp"
	"accantona/internal/auth"
	"accantona/internal/core"
	"accantona/internal/fx"
	"accantona/internal/store"
	"accantona/internal/store/memory"
	"accantona/internal/store/storetest"

	"github.com/shopspring/decimal"
)

const (
	wsID    = storetest.WorkspaceID
	owner   = storetest.OwnerID
	viewer  = storetest.ViewerID
	subCar  = storetest.SubcategoryID
	account = storetest.AccountID
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.AuditEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev *amqp.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// failingLedger rejects every ledger insert, inside transactions too.
type failingLedger struct {
	store.Store
}

func (f failingLedger) InsertEntry(context.Context, core.LedgerEntry) error {
	return errors.New("ledger unavailable")
}

func (f failingLedger) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return f.Store.WithTx(ctx, func(tx store.Store) error {
		return fn(failingLedger{tx})
	})
}

// failingConfig rejects config inserts and remembers the budget they were
// for.
type failingConfig struct {
	store.Store
	budgetID *string
}

func (f failingConfig) InsertPaygConfig(_ context.Context, budgetID string, _ core.PaygConfig) error {
	*f.budgetID = budgetID
	return errors.New("config table locked")
}

func (f failingConfig) InsertPlanConfig(_ context.Context, budgetID string, _ core.PlanConfig) error {
	*f.budgetID = budgetID
	return errors.New("config table locked")
}

func (f failingConfig) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return f.Store.WithTx(ctx, func(tx store.Store) error {
		return fn(failingConfig{tx, f.budgetID})
	})
}

type failingRates struct{}

func (failingRates) Rate(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("fx feed down")
}

type fixture struct {
	mem        *memory.Store
	events     *recordingPublisher
	catalog    *BudgetCatalog
	ledger     *FundingLedger
	processor  *FundingProcessor
	aggregator *ReservationAggregator
	payments   *PaymentConfirmation
}

// newFixture wires the services over a seeded memory store. wrap lets a
// test put a failing decorator in front of the store.
func newFixture(t *testing.T, now time.Time, wrap func(store.Store) store.Store) *fixture {
	t.Helper()
	mem := memory.New()
	if err := storetest.Seed().Apply(context.Background(), mem); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var st store.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}

	perms := auth.NewPermissionChecker(mem)
	events := &recordingPublisher{}
	ledger := NewFundingLedger(st, perms, events)
	catalog := NewBudgetCatalog(st, perms, ledger, events)
	rates := fx.NewStatic("EUR", map[string]decimal.Decimal{"USD": dec("1.25")})

	f := &fixture{
		mem:        mem,
		events:     events,
		catalog:    catalog,
		ledger:     ledger,
		processor:  NewFundingProcessor(st, ledger, perms, events),
		aggregator: NewReservationAggregator(st, catalog, rates),
		payments:   NewPaymentConfirmation(st, ledger, perms, events),
	}
	f.setNow(now)
	return f
}

func (f *fixture) setNow(now time.Time) {
	clock := func() time.Time { return now }
	f.catalog.now = clock
	f.ledger.now = clock
	f.payments.now = clock
}

func (f *fixture) createPlan(t *testing.T, target string, due core.Date, mod func(*CreateBudgetInput)) *core.Budget {
	t.Helper()
	in := CreateBudgetInput{
		SubcategoryID: subCar,
		Currency:      "EUR",
		Type:          core.BudgetPlanSpend,
		Amount:        dec(target),
		DueDate:       due,
		StartPolicy:   core.StartThisMonth,
	}
	if mod != nil {
		mod(&in)
	}
	b, err := f.catalog.Create(context.Background(), owner, wsID, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return b
}

func (f *fixture) createPayg(t *testing.T, limit string, subcategory string) *core.Budget {
	t.Helper()
	b, err := f.catalog.Create(context.Background(), owner, wsID, CreateBudgetInput{
		SubcategoryID: subcategory,
		Currency:      "EUR",
		Type:          core.BudgetPayg,
		Amount:        dec(limit),
		IsRecurring:   true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return b
}

func (f *fixture) reserved(t *testing.T, budgetID string) decimal.Decimal {
	t.Helper()
	r, err := f.ledger.CurrentReserved(context.Background(), wsID, budgetID)
	if err != nil {
		t.Fatalf("CurrentReserved() error = %v", err)
	}
	return r
}

func (f *fixture) entries(t *testing.T, budgetID string) []core.LedgerEntry {
	t.Helper()
	entries, err := f.mem.ListEntries(context.Background(), wsID, budgetID)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	return entries
}

// insertBareBudget stores a budget row with no config at all.
func (f *fixture) insertBareBudget(t *testing.T, id string, typ core.BudgetType) {
	t.Helper()
	err := f.mem.InsertBudget(context.Background(), core.Budget{
		ID: id, WorkspaceID: wsID, SubcategoryID: subCar, Name: "Broken",
		Currency: "EUR", Type: typ, Status: core.StatusActive, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertBudget() error = %v", err)
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(s string) core.Date {
	d, err := core.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func at(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t.Add(12 * time.Hour)
}

func assertKind(t *testing.T, err error, want core.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := core.KindOf(err); got != want {
		t.Fatalf("error kind = %s, want %s (%v)", got, want, err)
	}
	if core.CorrelationOf(err) == "" {
		t.Errorf("error %v carries no correlation id", err)
	}
}
