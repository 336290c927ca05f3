// Package fx resolves currency conversion rates for the reservation
// aggregator.
package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ratePrecision is the number of decimal places kept on cross rates.
const ratePrecision = 8

// ErrUnknownCurrency is returned when a table has no rate for a currency.
var ErrUnknownCurrency = errors.New("unknown currency")

// RateSource returns how many units of to buy one unit of from.
// Implementations return 1 when from == to.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Table holds rates quoted against a single base currency
// (1 Base = Rates[c] units of c).
type Table struct {
	Base  string
	AsOf  time.Time
	Rates map[string]decimal.Decimal
}

// Cross derives the from -> to rate through the base currency.
func (t Table) Cross(from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	fromRate, err := t.quote(from)
	if err != nil {
		return decimal.Zero, err
	}
	toRate, err := t.quote(to)
	if err != nil {
		return decimal.Zero, err
	}
	return toRate.DivRound(fromRate, ratePrecision), nil
}

func (t Table) quote(code string) (decimal.Decimal, error) {
	if code == t.Base {
		return decimal.NewFromInt(1), nil
	}
	r, ok := t.Rates[code]
	if !ok || !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", code, ErrUnknownCurrency)
	}
	return r, nil
}

// Static serves a fixed table, typically from configuration.
type Static struct {
	table Table
}

func NewStatic(base string, rates map[string]decimal.Decimal) *Static {
	normalized := make(map[string]decimal.Decimal, len(rates))
	for code, r := range rates {
		normalized[strings.ToUpper(code)] = r
	}
	return &Static{table: Table{Base: strings.ToUpper(base), Rates: normalized}}
}

func (s *Static) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	return s.table.Cross(from, to)
}

// ParseStaticRates parses "USD=1.08,GBP=0.85" into a rate map.
func ParseStaticRates(s string) (map[string]decimal.Decimal, error) {
	rates := map[string]decimal.Decimal{}
	if strings.TrimSpace(s) == "" {
		return rates, nil
	}
	for _, pair := range strings.Split(s, ",") {
		code, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: expected CODE=RATE", pair)
		}
		code = strings.ToUpper(strings.TrimSpace(code))
		if len(code) != 3 {
			return nil, fmt.Errorf("invalid currency code %q", code)
		}
		r, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !r.IsPositive() {
			return nil, fmt.Errorf("invalid rate for %s: %q", code, value)
		}
		rates[code] = r
	}
	return rates, nil
}
