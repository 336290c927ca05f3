package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to callers of budget operations.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation_error"
	KindPermission       ErrorKind = "permission_denied"
	KindNotFound         ErrorKind = "not_found_error"
	KindConflict         ErrorKind = "conflict_error"
	KindAlreadyConfirmed ErrorKind = "already_confirmed"
	KindConfigIntegrity  ErrorKind = "config_integrity_error"
	KindDependency       ErrorKind = "dependency_error"
	KindInternal         ErrorKind = "internal_error"
)

// Error is the taxonomy error carried up to the API envelope.
type Error struct {
	Kind          ErrorKind
	Message       string
	BudgetID      string
	CorrelationID string
	Err           error
}

// Sentinels for errors.Is matching on kind.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrPermissionDenied = &Error{Kind: KindPermission}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrAlreadyConfirmed = &Error{Kind: KindAlreadyConfirmed}
	ErrConfigIntegrity  = &Error{Kind: KindConfigIntegrity}
	ErrDependency       = &Error{Kind: KindDependency}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, core.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(msg string) error {
	return &Error{Kind: KindPermission, Message: msg}
}

func NotFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

// Conflict never says whether the row was missing or belonged to another
// workspace.
func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func AlreadyConfirmed(paymentDueID string) error {
	return &Error{Kind: KindAlreadyConfirmed, Message: fmt.Sprintf("payment %s is already confirmed", paymentDueID)}
}

func ConfigIntegrity(budgetID, msg string) error {
	return &Error{Kind: KindConfigIntegrity, Message: msg, BudgetID: budgetID}
}

func Dependency(msg string, err error) error {
	return &Error{Kind: KindDependency, Message: msg, Err: err}
}

// KindOf returns the taxonomy kind of err, or KindInternal for anything
// unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// WithCorrelation returns err as a taxonomy error stamped with id.
// Unclassified errors become internal errors wrapping the original.
func WithCorrelation(err error, id string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.CorrelationID != "" {
			return err
		}
		cp := *e
		cp.CorrelationID = id
		return &cp
	}
	return &Error{Kind: KindInternal, Message: "internal error", CorrelationID: id, Err: err}
}

// CorrelationOf extracts the correlation id stamped on err, if any.
func CorrelationOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.CorrelationID
	}
	return ""
}
