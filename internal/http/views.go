package http

import (
	"time"

	"accantona/internal/core"
	"accantona/internal/services"

	"github.com/shopspring/decimal"
)

// JSON representations of service results. Money is always a string with
// two decimals.

type paygJSON struct {
	MonthlyCap  string `json:"monthlyCap"`
	IsRecurring bool   `json:"isRecurring"`
}

type planJSON struct {
	TargetAmount string    `json:"targetAmount"`
	DueDate      core.Date `json:"dueDate"`
	Recurrence   string    `json:"recurrence"`
	StartPolicy  string    `json:"startPolicy"`
	AllowUseSafe bool      `json:"allowUseSafe"`
}

type budgetJSON struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspaceId"`
	SubcategoryID string    `json:"subcategoryId"`
	Name          string    `json:"name"`
	Currency      string    `json:"currency"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	Payg          *paygJSON `json:"payg,omitempty"`
	Plan          *planJSON `json:"plan,omitempty"`
}

func newBudgetJSON(b core.Budget) budgetJSON {
	out := budgetJSON{
		ID:            b.ID,
		WorkspaceID:   b.WorkspaceID,
		SubcategoryID: b.SubcategoryID,
		Name:          b.Name,
		Currency:      b.Currency,
		Type:          string(b.Type),
		Status:        string(b.Status),
		CreatedAt:     b.CreatedAt,
	}
	switch cfg := b.Config.(type) {
	case core.PaygConfig:
		out.Payg = &paygJSON{MonthlyCap: core.FormatMoney(cfg.MonthlyCap), IsRecurring: cfg.IsRecurring}
	case core.PlanConfig:
		out.Plan = &planJSON{
			TargetAmount: core.FormatMoney(cfg.TargetAmount),
			DueDate:      cfg.DueDate,
			Recurrence:   string(cfg.Recurrence),
			StartPolicy:  string(cfg.StartPolicy),
			AllowUseSafe: cfg.AllowUseSafe,
		}
	}
	return out
}

type progressJSON struct {
	Ratio   string `json:"ratio"`
	Percent string `json:"percent"`
	State   string `json:"state"`
}

type budgetViewJSON struct {
	budgetJSON
	CurrentReserved     string        `json:"currentReserved"`
	SpendingAmount      string        `json:"spendingAmount"`
	MonthlyContribution string        `json:"monthlyContribution,omitempty"`
	IntegrityError      string        `json:"integrityError,omitempty"`
	Progress            *progressJSON `json:"progress,omitempty"`
}

func newBudgetViewJSON(v services.BudgetView) budgetViewJSON {
	out := budgetViewJSON{
		budgetJSON:      newBudgetJSON(v.Budget),
		CurrentReserved: core.FormatMoney(v.CurrentReserved),
		SpendingAmount:  core.FormatMoney(v.SpendingAmount),
	}
	if !v.MonthlyContribution.IsZero() {
		out.MonthlyContribution = core.FormatMoney(v.MonthlyContribution)
	}
	if v.IntegrityError != nil {
		out.IntegrityError = v.IntegrityError.Error()
	}
	return out
}

type previewJSON struct {
	TotalMonths         int    `json:"totalMonths"`
	MonthlyContribution string `json:"monthlyContribution"`
	FirstMonth          string `json:"firstMonth"`
}

type ledgerEntryJSON struct {
	ID                   string              `json:"id"`
	BudgetID             string              `json:"budgetId"`
	Type                 string              `json:"type"`
	Amount               string              `json:"amount"`
	CreatedBy            string              `json:"createdBy"`
	CreatedAt            time.Time           `json:"createdAt"`
	RelatedTransactionID string              `json:"relatedTransactionId,omitempty"`
	Metadata             core.LedgerMetadata `json:"metadata"`
}

func newLedgerEntryJSON(e core.LedgerEntry) ledgerEntryJSON {
	return ledgerEntryJSON{
		ID:                   e.ID,
		BudgetID:             e.BudgetID,
		Type:                 string(e.Type),
		Amount:               core.FormatMoney(e.Amount),
		CreatedBy:            e.CreatedBy,
		CreatedAt:            e.CreatedAt,
		RelatedTransactionID: e.RelatedTransactionID,
		Metadata:             e.Metadata,
	}
}

type ledgerJSON struct {
	BudgetID        string            `json:"budgetId"`
	CurrentReserved string            `json:"currentReserved"`
	Entries         []ledgerEntryJSON `json:"entries"`
}

type fundedBudgetJSON struct {
	BudgetID string `json:"budgetId"`
	EntryID  string `json:"entryId"`
	Amount   string `json:"amount"`
}

type applyResultJSON struct {
	WorkspaceID   string             `json:"workspaceId"`
	Month         string             `json:"month"`
	Funded        []fundedBudgetJSON `json:"funded"`
	AlreadyFunded int                `json:"alreadyFunded"`
	NotFundable   int                `json:"notFundable"`
	Failed        int                `json:"failed"`
}

func newApplyResultJSON(res services.ApplyResult) applyResultJSON {
	out := applyResultJSON{
		WorkspaceID:   res.WorkspaceID,
		Month:         res.Month,
		Funded:        make([]fundedBudgetJSON, 0, len(res.Funded)),
		AlreadyFunded: res.AlreadyFunded,
		NotFundable:   res.NotFundable,
		Failed:        res.Failed,
	}
	for _, f := range res.Funded {
		out.Funded = append(out.Funded, fundedBudgetJSON{BudgetID: f.BudgetID, EntryID: f.EntryID, Amount: core.FormatMoney(f.Amount)})
	}
	return out
}

type convertedJSON struct {
	Amount             string   `json:"amount"`
	Currency           string   `json:"currency"`
	Approximate        bool     `json:"approximate"`
	FallbackCurrencies []string `json:"fallbackCurrencies,omitempty"`
}

func newConvertedJSON(c services.ConvertedAmount) convertedJSON {
	return convertedJSON{
		Amount:             core.FormatMoney(c.Amount),
		Currency:           c.Currency,
		Approximate:        c.Approximate,
		FallbackCurrencies: c.FallbackCurrencies,
	}
}

type dashboardJSON struct {
	WorkspaceID   string           `json:"workspaceId"`
	TotalBalance  convertedJSON    `json:"totalBalance"`
	Reserved      convertedJSON    `json:"reserved"`
	AvailableCash convertedJSON    `json:"availableCash"`
	Budgets       []budgetViewJSON `json:"budgets"`
}

func newDashboardJSON(d *services.Dashboard) dashboardJSON {
	out := dashboardJSON{
		WorkspaceID:   d.WorkspaceID,
		TotalBalance:  newConvertedJSON(d.TotalBalance),
		Reserved:      newConvertedJSON(d.Reserved),
		AvailableCash: newConvertedJSON(d.AvailableCash),
		Budgets:       make([]budgetViewJSON, 0, len(d.Budgets)),
	}
	for _, b := range d.Budgets {
		row := newBudgetViewJSON(b.BudgetView)
		row.Progress = &progressJSON{
			Ratio:   formatRatio(b.Progress.Ratio),
			Percent: b.Progress.Percent.StringFixed(1),
			State:   string(b.Progress.State),
		}
		out.Budgets = append(out.Budgets, row)
	}
	return out
}

func formatRatio(d decimal.Decimal) string {
	return d.StringFixed(4)
}

type paymentDueJSON struct {
	ID             string     `json:"id"`
	BudgetID       string     `json:"budgetId"`
	DueDate        core.Date  `json:"dueDate"`
	AmountExpected string     `json:"amountExpected"`
	Status         string     `json:"status"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
	TransactionID  string     `json:"transactionId,omitempty"`
}

func newPaymentDueJSON(d core.PaymentDue) paymentDueJSON {
	return paymentDueJSON{
		ID:             d.ID,
		BudgetID:       d.BudgetID,
		DueDate:        d.DueDate,
		AmountExpected: core.FormatMoney(d.AmountExpected),
		Status:         string(d.Status),
		ConfirmedAt:    d.ConfirmedAt,
		TransactionID:  d.TransactionID,
	}
}

type confirmResultJSON struct {
	TransactionID string          `json:"transactionId"`
	EntryID       string          `json:"entryId"`
	NextDue       *paymentDueJSON `json:"nextDue,omitempty"`
}

func newConfirmResultJSON(res *services.ConfirmResult) confirmResultJSON {
	out := confirmResultJSON{TransactionID: res.TransactionID, EntryID: res.EntryID}
	if res.NextDue != nil {
		next := newPaymentDueJSON(*res.NextDue)
		out.NextDue = &next
	}
	return out
}
