// This file holds one strategy per plan recurrence. A strategy moves a
// confirmed due date to the next one in the series.

package services

import (
	"fmt"
	"time"

	"accantona/internal/core"
)

// RecurrenceStrategy computes the next due date of a recurring plan.
type RecurrenceStrategy interface {
	// Next returns the due date following current. ok is false when the
	// plan does not recur.
	Next(current core.Date) (next core.Date, ok bool)
}

// OneOff never recurs.
type OneOff struct{}

func (OneOff) Next(core.Date) (core.Date, bool) { return core.Date{}, false }

// EveryMonths advances by a fixed number of calendar months, keeping the
// day of month and clamping it to the month's last day (Jan 31 -> Feb 28).
type EveryMonths int

func (n EveryMonths) Next(current core.Date) (core.Date, bool) {
	first := time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, time.UTC)
	target := core.AddMonths(first, int(n))
	day := current.Day()
	if last := core.LastDayOfMonth(target.Year(), target.Month()); day > last {
		day = last
	}
	return core.NewDate(target.Year(), int(target.Month()), day), true
}

var recurrenceStrategies = map[core.Recurrence]RecurrenceStrategy{
	core.RecurrenceNone:      OneOff{},
	core.RecurrenceMonthly:   EveryMonths(1),
	core.RecurrenceQuarterly: EveryMonths(3),
	core.RecurrenceYearly:    EveryMonths(12),
}

// GetRecurrenceStrategy returns the strategy for r.
func GetRecurrenceStrategy(r core.Recurrence) (RecurrenceStrategy, error) {
	s, ok := recurrenceStrategies[r]
	if !ok {
		return nil, fmt.Errorf("unknown recurrence type: %s", r)
	}
	return s, nil
}
