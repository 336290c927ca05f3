package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"accantona/internal/core"
	"accantona/internal/fx"
	"accantona/internal/store"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// maxRateLookups bounds concurrent FX lookups in one aggregation pass.
const maxRateLookups = 4

// ConvertedAmount is a figure in the reporting currency. Approximate is set
// when at least one contributing rate fell back to 1:1; the affected source
// currencies are listed.
type ConvertedAmount struct {
	Amount             decimal.Decimal
	Currency           string
	Approximate        bool
	FallbackCurrencies []string
}

// BudgetProgress pairs a listed budget with its progress figures.
type BudgetProgress struct {
	BudgetView
	Progress core.Progress
}

// Dashboard is the workspace overview.
type Dashboard struct {
	WorkspaceID   string
	TotalBalance  ConvertedAmount
	Reserved      ConvertedAmount
	AvailableCash ConvertedAmount
	Budgets       []BudgetProgress
}

// ReservationAggregator rolls budgets up into workspace figures.
type ReservationAggregator struct {
	store   store.Store
	catalog *BudgetCatalog
	rates   fx.RateSource
}

func NewReservationAggregator(st store.Store, catalog *BudgetCatalog, rates fx.RateSource) *ReservationAggregator {
	return &ReservationAggregator{store: st, catalog: catalog, rates: rates}
}

// rateTable holds the rates resolved for one pass.
type rateTable struct {
	to        string
	rates     map[string]decimal.Decimal
	fallbacks map[string]bool
}

// resolveRates looks up each distinct currency once, concurrently. A
// failed lookup falls back to 1 and marks the currency.
func (a *ReservationAggregator) resolveRates(ctx context.Context, currencies map[string]bool, to string) *rateTable {
	t := &rateTable{to: to, rates: map[string]decimal.Decimal{}, fallbacks: map[string]bool{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRateLookups)
	for currency := range currencies {
		if currency == to {
			t.rates[currency] = decimal.NewFromInt(1)
			continue
		}
		g.Go(func() error {
			rate, err := a.rates.Rate(gctx, currency, to)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.WarnContext(ctx, "FX rate unavailable, using 1:1",
					"from", currency,
					"to", to,
					"error", err)
				t.rates[currency] = decimal.NewFromInt(1)
				t.fallbacks[currency] = true
				return nil
			}
			t.rates[currency] = rate
			return nil
		})
	}
	_ = g.Wait()
	return t
}

// convert sums amounts keyed by currency into the reporting currency.
func (t *rateTable) convert(amounts map[string]decimal.Decimal) ConvertedAmount {
	out := ConvertedAmount{Amount: decimal.Zero, Currency: t.to}
	for currency, amount := range amounts {
		out.Amount = out.Amount.Add(amount.Mul(t.rates[currency]))
		if t.fallbacks[currency] {
			out.Approximate = true
			out.FallbackCurrencies = append(out.FallbackCurrencies, currency)
		}
	}
	out.Amount = core.RoundMoney(out.Amount)
	sort.Strings(out.FallbackCurrencies)
	return out
}

func (a *ReservationAggregator) reportingCurrency(ctx context.Context, workspaceID string) (string, error) {
	ws, err := a.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return "", notFound(err, "workspace")
	}
	return ws.ReportingCurrency, nil
}

// WorkspaceReserved sums every budget's reserved balance in the workspace
// reporting currency.
func (a *ReservationAggregator) WorkspaceReserved(ctx context.Context, workspaceID string) (ConvertedAmount, error) {
	to, err := a.reportingCurrency(ctx, workspaceID)
	if err != nil {
		return ConvertedAmount{}, surface(ctx, err)
	}
	records, err := a.store.ListBudgets(ctx, workspaceID)
	if err != nil {
		return ConvertedAmount{}, surface(ctx, fmt.Errorf("list budgets: %w", err))
	}
	reserved, err := a.store.ReservedByBudget(ctx, workspaceID)
	if err != nil {
		return ConvertedAmount{}, surface(ctx, fmt.Errorf("aggregate reserved: %w", err))
	}

	byCurrency := map[string]decimal.Decimal{}
	currencies := map[string]bool{}
	for _, rec := range records {
		c := rec.Budget.Currency
		byCurrency[c] = byCurrency[c].Add(reserved[rec.Budget.ID])
		currencies[c] = true
	}
	return a.resolveRates(ctx, currencies, to).convert(byCurrency), nil
}

// AvailableCash is balance minus reserved. It is not clamped: a negative
// result means the workspace is over-committed.
func AvailableCash(totalBalance, reserved decimal.Decimal) decimal.Decimal {
	return totalBalance.Sub(reserved)
}

// Progress computes how far a budget is towards its cap or target. PAYG
// measures spending against the cap and turns over_budget above 1.0. Plans
// measure reserved against the target; paid wins once the due payment has
// been settled (see isPaid).
func Progress(v BudgetView, paid bool) core.Progress {
	if v.IntegrityError != nil {
		return core.Progress{Ratio: decimal.Zero, Percent: decimal.Zero, State: core.ProgressIntegrityError}
	}
	switch cfg := v.Budget.Config.(type) {
	case core.PaygConfig:
		p := core.NewProgress(v.SpendingAmount, cfg.MonthlyCap)
		p.State = core.ProgressOnTrack
		if v.SpendingAmount.GreaterThan(cfg.MonthlyCap) {
			p.State = core.ProgressOverBudget
		}
		return p
	case core.PlanConfig:
		p := core.NewProgress(v.CurrentReserved, cfg.TargetAmount)
		switch {
		case paid:
			p.State = core.ProgressPaid
		case v.CurrentReserved.GreaterThanOrEqual(cfg.TargetAmount):
			p.State = core.ProgressFunded
		default:
			p.State = core.ProgressOnTrack
		}
		return p
	}
	return core.Progress{Ratio: decimal.Zero, Percent: decimal.Zero, State: core.ProgressIntegrityError}
}

// Dashboard builds the workspace overview for the month containing now.
func (a *ReservationAggregator) Dashboard(ctx context.Context, workspaceID string, now time.Time) (*Dashboard, error) {
	to, err := a.reportingCurrency(ctx, workspaceID)
	if err != nil {
		return nil, surface(ctx, err)
	}
	views, err := a.catalog.List(ctx, workspaceID, now)
	if err != nil {
		return nil, err
	}
	accounts, err := a.store.ListAccounts(ctx, workspaceID)
	if err != nil {
		return nil, surface(ctx, fmt.Errorf("list accounts: %w", err))
	}
	balances, err := a.store.AccountBalances(ctx, workspaceID)
	if err != nil {
		return nil, surface(ctx, core.Dependency("transaction store unavailable", err))
	}
	confirmed, err := a.store.ListPaymentDues(ctx, workspaceID, core.PaymentConfirmed)
	if err != nil {
		return nil, surface(ctx, fmt.Errorf("list confirmed payments: %w", err))
	}

	currencies := map[string]bool{}
	balanceByCurrency := map[string]decimal.Decimal{}
	for _, acc := range accounts {
		currencies[acc.Currency] = true
		balanceByCurrency[acc.Currency] = balanceByCurrency[acc.Currency].Add(balances[acc.ID])
	}
	reservedByCurrency := map[string]decimal.Decimal{}
	for _, v := range views {
		c := v.Budget.Currency
		currencies[c] = true
		if v.IntegrityError == nil {
			reservedByCurrency[c] = reservedByCurrency[c].Add(v.CurrentReserved)
		}
	}
	// Degraded rows still hold ledger entries; count them from the
	// aggregate so the workspace total stays exact.
	if hasIntegrityErrors(views) {
		raw, err := a.store.ReservedByBudget(ctx, workspaceID)
		if err != nil {
			return nil, surface(ctx, fmt.Errorf("aggregate reserved: %w", err))
		}
		for _, v := range views {
			if v.IntegrityError != nil {
				reservedByCurrency[v.Budget.Currency] = reservedByCurrency[v.Budget.Currency].Add(raw[v.Budget.ID])
			}
		}
	}

	rates := a.resolveRates(ctx, currencies, to)
	d := &Dashboard{
		WorkspaceID:  workspaceID,
		TotalBalance: rates.convert(balanceByCurrency),
		Reserved:     rates.convert(reservedByCurrency),
	}
	d.AvailableCash = ConvertedAmount{
		Amount:             AvailableCash(d.TotalBalance.Amount, d.Reserved.Amount),
		Currency:           to,
		Approximate:        d.TotalBalance.Approximate || d.Reserved.Approximate,
		FallbackCurrencies: mergeCurrencies(d.TotalBalance.FallbackCurrencies, d.Reserved.FallbackCurrencies),
	}

	paid := paidCycles(confirmed)
	for _, v := range views {
		d.Budgets = append(d.Budgets, BudgetProgress{BudgetView: v, Progress: Progress(v, isPaid(v, paid, now))})
	}
	return d, nil
}

func hasIntegrityErrors(views []BudgetView) bool {
	for _, v := range views {
		if v.IntegrityError != nil {
			return true
		}
	}
	return false
}

// paidCycles indexes confirmed dues by budget and due date.
func paidCycles(confirmed []core.PaymentDue) map[string]map[string]bool {
	out := map[string]map[string]bool{}
	for _, d := range confirmed {
		if out[d.BudgetID] == nil {
			out[d.BudgetID] = map[string]bool{}
		}
		out[d.BudgetID][d.DueDate.String()] = true
	}
	return out
}

// isPaid reports whether the plan's current cycle was settled: its due is
// confirmed, the due date has been reached and the month shows spending on
// the subcategory. A recurring plan moves to its next due date on
// confirmation, so only one-off plans stay paid.
func isPaid(v BudgetView, paid map[string]map[string]bool, now time.Time) bool {
	plan, err := v.Budget.Plan()
	if err != nil {
		return false
	}
	if now.Before(plan.DueDate.Time) || !v.SpendingAmount.IsPositive() {
		return false
	}
	return paid[v.Budget.ID][plan.DueDate.String()]
}

func mergeCurrencies(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range append(append([]string(nil), a...), b...) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
