package core

import "github.com/shopspring/decimal"

const (
	ProgressOnTrack        ProgressState = "on_track"
	ProgressOverBudget     ProgressState = "over_budget"
	ProgressFunded         ProgressState = "funded"
	ProgressPaid           ProgressState = "paid"
	ProgressIntegrityError ProgressState = "integrity_error"
)

// ProgressState is how a budget row renders on the dashboard.
type ProgressState string

// Progress of a budget towards its cap or target.
// Ratio is not capped; Percent is clamped to 0..100 for display.
type Progress struct {
	Ratio   decimal.Decimal
	Percent decimal.Decimal
	State   ProgressState
}

var maxPercent = decimal.NewFromInt(100)

// NewProgress builds a progress value from a numerator and a positive
// denominator.
func NewProgress(value, of decimal.Decimal) Progress {
	if !of.IsPositive() {
		return Progress{Ratio: decimal.Zero, Percent: decimal.Zero}
	}
	ratio := value.DivRound(of, 4)
	percent := ratio.Mul(maxPercent)
	if percent.GreaterThan(maxPercent) {
		percent = maxPercent
	}
	if percent.IsNegative() {
		percent = decimal.Zero
	}
	return Progress{Ratio: ratio, Percent: percent.Round(1)}
}
