package core

import "time"

// MonthKeyLayout formats the month tag stored on automatic contributions.
const MonthKeyLayout = "2006-01"

// StartOfMonth returns midnight of the first day of t's month, in t's location.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// AddMonths moves a first-of-month instant by n calendar months. Callers pass
// values from StartOfMonth so day overflow cannot occur.
func AddMonths(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month()+time.Month(n), t.Day(), 0, 0, 0, 0, t.Location())
}

// MonthDiff is the number of calendar months from b to a, ignoring days.
func MonthDiff(a, b time.Time) int {
	return (a.Year()-b.Year())*12 + int(a.Month()) - int(b.Month())
}

// MonthRange returns the half-open interval [start, end) of t's month.
func MonthRange(t time.Time) (time.Time, time.Time) {
	start := StartOfMonth(t)
	return start, AddMonths(start, 1)
}

// MonthKey returns the YYYY-MM tag of t's month.
func MonthKey(t time.Time) string {
	return t.Format(MonthKeyLayout)
}

// LastDayOfMonth returns the number of days in the month of (year, month).
func LastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
