package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	BudgetPayg      BudgetType = "payg"
	BudgetPlanSpend BudgetType = "plan_spend"
)

const (
	StatusActive   BudgetStatus = "active"
	StatusArchived BudgetStatus = "archived"
)

const (
	RecurrenceNone      Recurrence = "none"
	RecurrenceMonthly   Recurrence = "monthly"
	RecurrenceQuarterly Recurrence = "quarterly"
	RecurrenceYearly    Recurrence = "yearly"
)

const (
	StartThisMonth StartPolicy = "start_this_month"
	StartNextMonth StartPolicy = "start_next_month"
)

const (
	EntryFund    EntryType = "fund"
	EntryConsume EntryType = "consume"
	EntryAdjust  EntryType = "adjust"
)

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
)

const (
	TransactionExpense TransactionKind = "expense"
	TransactionIncome  TransactionKind = "income"
)

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
	RoleViewer MemberRole = "viewer"
)

type (
	BudgetType      string
	BudgetStatus    string
	Recurrence      string
	StartPolicy     string
	EntryType       string
	PaymentStatus   string
	TransactionKind string
	MemberRole      string

	// Date is a calendar day without a meaningful time of day.
	Date struct {
		time.Time
	}

	// BudgetConfig is the strategy-specific half of a budget. Only PaygConfig
	// and PlanConfig implement it.
	BudgetConfig interface {
		Type() BudgetType
		Validate() error
		sealed()
	}

	PaygConfig struct {
		MonthlyCap  decimal.Decimal
		IsRecurring bool
	}

	PlanConfig struct {
		TargetAmount decimal.Decimal
		DueDate      Date
		Recurrence   Recurrence
		StartPolicy  StartPolicy
		AllowUseSafe bool
	}

	Budget struct {
		ID            string
		WorkspaceID   string
		SubcategoryID string
		Name          string
		Currency      string
		Type          BudgetType
		Status        BudgetStatus
		CreatedAt     time.Time
		Config        BudgetConfig
	}

	LedgerMetadata struct {
		Month            string `json:"month,omitempty"` // YYYY-MM of an automatic contribution
		FundingAccountID string `json:"fundingAccountId,omitempty"`
		AutoFunded       bool   `json:"autoFunded,omitempty"`
		Note             string `json:"note,omitempty"`
	}

	LedgerEntry struct {
		ID                   string
		WorkspaceID          string
		BudgetID             string
		Type                 EntryType
		Amount               decimal.Decimal // always positive, sign comes from Type
		CreatedBy            string
		CreatedAt            time.Time
		RelatedTransactionID string
		Metadata             LedgerMetadata
	}

	PaymentDue struct {
		ID             string
		WorkspaceID    string
		BudgetID       string
		DueDate        Date
		AmountExpected decimal.Decimal
		Status         PaymentStatus
		ConfirmedAt    *time.Time
		TransactionID  string
	}

	Workspace struct {
		ID                string
		Name              string
		ReportingCurrency string
	}

	Member struct {
		WorkspaceID string
		UserID      string
		Role        MemberRole
	}

	Subcategory struct {
		ID          string
		WorkspaceID string
		Name        string
	}

	Account struct {
		ID             string
		WorkspaceID    string
		Name           string
		Currency       string
		OpeningBalance decimal.Decimal
	}

	Transaction struct {
		ID            string
		WorkspaceID   string
		AccountID     string
		SubcategoryID string
		Kind          TransactionKind
		Amount        decimal.Decimal
		Description   string
		OccurredAt    time.Time
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("invalid currency")
	ErrEmptyDescription = errors.New("empty description")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (b BudgetType) IsValid() bool {
	return b == BudgetPayg || b == BudgetPlanSpend
}

func (r Recurrence) IsValid() bool {
	switch r {
	case RecurrenceNone, RecurrenceMonthly, RecurrenceQuarterly, RecurrenceYearly:
		return true
	}
	return false
}

func (p StartPolicy) IsValid() bool {
	return p == StartThisMonth || p == StartNextMonth
}

func (e EntryType) IsValid() bool {
	switch e {
	case EntryFund, EntryConsume, EntryAdjust:
		return true
	}
	return false
}

func (r MemberRole) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// CanManage reports whether the role may create, update or delete budgets.
func (r MemberRole) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

func (PaygConfig) Type() BudgetType { return BudgetPayg }

func (PaygConfig) sealed() {}

func (c PaygConfig) Validate() error {
	if !c.MonthlyCap.IsPositive() {
		return Validation("monthly cap must be greater than zero")
	}
	return nil
}

func (PlanConfig) Type() BudgetType { return BudgetPlanSpend }

func (PlanConfig) sealed() {}

func (c PlanConfig) Validate() error {
	if !c.TargetAmount.IsPositive() {
		return Validation("target amount must be greater than zero")
	}
	if err := c.DueDate.Validate(); err != nil {
		return Validation("due date is required")
	}
	if !c.Recurrence.IsValid() {
		return Validation("invalid recurrence type %q", c.Recurrence)
	}
	if !c.StartPolicy.IsValid() {
		return Validation("invalid start policy %q", c.StartPolicy)
	}
	return nil
}

// AssembleBudget attaches the config rows found for a budget. Exactly the
// config matching base.Type must be present; otherwise the budget is
// returned without config together with a ConfigIntegrityError.
func AssembleBudget(base Budget, payg *PaygConfig, plan *PlanConfig) (Budget, error) {
	base.Config = nil
	switch {
	case payg != nil && plan != nil:
		return base, ConfigIntegrity(base.ID, "budget has both payg and plan configs")
	case base.Type == BudgetPayg && payg != nil:
		base.Config = *payg
	case base.Type == BudgetPlanSpend && plan != nil:
		base.Config = *plan
	case payg == nil && plan == nil:
		return base, ConfigIntegrity(base.ID, "budget has no config")
	default:
		return base, ConfigIntegrity(base.ID, fmt.Sprintf("budget of type %s carries the wrong config", base.Type))
	}
	return base, nil
}

// Payg returns the PAYG config or a ConfigIntegrityError.
func (b Budget) Payg() (PaygConfig, error) {
	c, ok := b.Config.(PaygConfig)
	if !ok || b.Type != BudgetPayg {
		return PaygConfig{}, ConfigIntegrity(b.ID, "budget is not a payg budget with config")
	}
	return c, nil
}

// Plan returns the plan config or a ConfigIntegrityError.
func (b Budget) Plan() (PlanConfig, error) {
	c, ok := b.Config.(PlanConfig)
	if !ok || b.Type != BudgetPlanSpend {
		return PlanConfig{}, ConfigIntegrity(b.ID, "budget is not a plan budget with config")
	}
	return c, nil
}

func (b Budget) IsActive() bool {
	return b.Status == StatusActive
}

// Signed returns the entry's effect on the reserved balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Type == EntryConsume {
		return e.Amount.Neg()
	}
	return e.Amount
}

func (e LedgerEntry) Validate() error {
	if !e.Type.IsValid() {
		return Validation("invalid ledger entry type %q", e.Type)
	}
	if !e.Amount.IsPositive() {
		return Validation("amount must be greater than zero")
	}
	if e.BudgetID == "" {
		return Validation("budget id is required")
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.Kind != TransactionExpense && t.Kind != TransactionIncome {
		return errors.New("invalid transaction kind")
	}
	if t.AccountID == "" {
		return errors.New("account id is required")
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

// NormalizeCurrency upper-cases and checks an ISO 4217 style code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}
