// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for decoding and validating JSON request
// bodies and query parameters.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"accantona/internal/core"
	"accantona/internal/services"

	"github.com/shopspring/decimal"
)

// maxBodyBytes caps the size of a request body.
const maxBodyBytes = 1 << 20

const (
	defaultUpcomingDays = 30
	maxUpcomingDays     = 366
)

// DecodeJSON reads exactly one JSON object from the body into v. Unknown
// fields are rejected so that typos surface as validation errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return core.Validation("request body is empty")
		case errors.As(err, &maxErr):
			return core.Validation("request body exceeds %d bytes", maxErr.Limit)
		default:
			return core.Validation("invalid request body: %v", err)
		}
	}
	if dec.More() {
		return core.Validation("request body must hold a single JSON object")
	}
	return nil
}

// budgetRequest is the body of create and preview calls.
type budgetRequest struct {
	SubcategoryID    string          `json:"subcategoryId"`
	Name             string          `json:"name"`
	Currency         string          `json:"currency"`
	Type             string          `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	IsRecurring      bool            `json:"isRecurring"`
	DueDate          core.Date       `json:"dueDate"`
	Recurrence       string          `json:"recurrence"`
	StartPolicy      string          `json:"startPolicy"`
	AllowUseSafe     bool            `json:"allowUseSafe"`
	AutoFund         bool            `json:"autoFund"`
	FundingAccountID string          `json:"fundingAccountId"`
}

func (req budgetRequest) toInput() services.CreateBudgetInput {
	return services.CreateBudgetInput{
		SubcategoryID:    sanitizeInput(req.SubcategoryID),
		Name:             sanitizeInput(req.Name),
		Currency:         req.Currency,
		Type:             core.BudgetType(strings.TrimSpace(req.Type)),
		Amount:           req.Amount,
		IsRecurring:      req.IsRecurring,
		DueDate:          req.DueDate,
		Recurrence:       core.Recurrence(strings.TrimSpace(req.Recurrence)),
		StartPolicy:      core.StartPolicy(strings.TrimSpace(req.StartPolicy)),
		AllowUseSafe:     req.AllowUseSafe,
		AutoFund:         req.AutoFund,
		FundingAccountID: strings.TrimSpace(req.FundingAccountID),
	}
}

// updateBudgetRequest is a partial update; absent fields stay unchanged.
type updateBudgetRequest struct {
	Name         *string          `json:"name"`
	Status       *string          `json:"status"`
	MonthlyCap   *decimal.Decimal `json:"monthlyCap"`
	IsRecurring  *bool            `json:"isRecurring"`
	TargetAmount *decimal.Decimal `json:"targetAmount"`
}

func (req updateBudgetRequest) toPatch() services.UpdateBudgetPatch {
	patch := services.UpdateBudgetPatch{
		MonthlyCap:   req.MonthlyCap,
		IsRecurring:  req.IsRecurring,
		TargetAmount: req.TargetAmount,
	}
	if req.Name != nil {
		name := sanitizeInput(*req.Name)
		patch.Name = &name
	}
	if req.Status != nil {
		status := core.BudgetStatus(strings.TrimSpace(*req.Status))
		patch.Status = &status
	}
	return patch
}

// ledgerEntryRequest is a manual ledger movement.
type ledgerEntryRequest struct {
	Type                 string          `json:"type"`
	Amount               decimal.Decimal `json:"amount"`
	Note                 string          `json:"note"`
	FundingAccountID     string          `json:"fundingAccountId"`
	RelatedTransactionID string          `json:"relatedTransactionId"`
}

func (req ledgerEntryRequest) toInput() services.EntryInput {
	return services.EntryInput{
		Type:                 core.EntryType(strings.TrimSpace(req.Type)),
		Amount:               req.Amount,
		RelatedTransactionID: strings.TrimSpace(req.RelatedTransactionID),
		Metadata: core.LedgerMetadata{
			Note:             sanitizeInput(req.Note),
			FundingAccountID: strings.TrimSpace(req.FundingAccountID),
		},
	}
}

// confirmPaymentRequest names the account the payment is drawn from.
type confirmPaymentRequest struct {
	AccountID string `json:"accountId"`
}

// ParseHorizon reads the days query parameter of the upcoming payments
// listing.
func ParseHorizon(r *http.Request) (time.Duration, error) {
	days := defaultUpcomingDays
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxUpcomingDays {
			return 0, core.Validation("days must be a number between 0 and %d", maxUpcomingDays)
		}
		days = n
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// ParseAsOf reads the optional at query parameter (YYYY-MM-DD) used to
// evaluate month-scoped figures on another day. It defaults to now.
func ParseAsOf(r *http.Request, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get("at"))
	if v == "" {
		return now, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return time.Time{}, core.Validation("at must be a date in YYYY-MM-DD format")
	}
	return d.Time, nil
}

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
