package services

import (
	"time"

	"accantona/internal/core"

	"github.com/shopspring/decimal"
)

// TotalMonths counts the calendar months from the effective start (the
// month of now, or the next one under start_next_month) to the month of
// due, both inclusive. Zero or less means the plan cannot be funded.
func TotalMonths(due core.Date, policy core.StartPolicy, now time.Time) int {
	start := core.StartOfMonth(now)
	if policy == core.StartNextMonth {
		start = core.AddMonths(start, 1)
	}
	return core.MonthDiff(core.StartOfMonth(due.Time), start) + 1
}

// ComputeMonthlyContribution returns target / TotalMonths rounded half-up to
// cents, or zero when the due month is already behind the effective start.
// Creation preview, auto-fund and the monthly apply all go through here.
func ComputeMonthlyContribution(cfg core.PlanConfig, now time.Time) decimal.Decimal {
	months := TotalMonths(cfg.DueDate, cfg.StartPolicy, now)
	if months <= 0 {
		return decimal.Zero
	}
	return cfg.TargetAmount.DivRound(decimal.NewFromInt(int64(months)), core.MinorUnits)
}

// ValidatePlanSchedule is the creation-time check: a plan must have at
// least one fundable month.
func ValidatePlanSchedule(cfg core.PlanConfig, now time.Time) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if TotalMonths(cfg.DueDate, cfg.StartPolicy, now) < 1 {
		return core.Validation("due date must be in the future")
	}
	return nil
}
