// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON envelope
// responses. Every body has the shape
// {success, data, error{code, message, correlationId}}.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"accantona/internal/core"
	"accantona/internal/middleware/trace"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	BudgetID      string `json:"budgetId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// JSONResponseBuilder provides a fluent API for building envelope responses.
type JSONResponseBuilder struct {
	statusCode int
	envelope   Envelope
	headers    map[string]string
}

// NewJSONResponse creates a successful response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		envelope:   Envelope{Success: true},
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Data sets the payload. On an error envelope it carries partial results.
func (b *JSONResponseBuilder) Data(data any) *JSONResponseBuilder {
	b.envelope.Data = data
	return b
}

// Fail turns the response into an error envelope.
func (b *JSONResponseBuilder) Fail(body ErrorBody) *JSONResponseBuilder {
	b.envelope.Success = false
	b.envelope.Data = nil
	b.envelope.Error = &body
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if err := json.NewEncoder(w).Encode(b.envelope); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindPermission:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict, core.KindAlreadyConfirmed:
		return http.StatusConflict
	case core.KindConfigIntegrity:
		return http.StatusUnprocessableEntity
	case core.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse renders err as an error envelope. Internal errors never
// leak their cause; the correlation id points to the log line instead.
func ErrorResponse(r *http.Request, err error) *JSONResponseBuilder {
	correlationID := core.CorrelationOf(err)
	if correlationID == "" {
		correlationID = trace.GetRequestID(r.Context())
	}

	kind := core.KindOf(err)
	body := ErrorBody{
		Code:          string(kind),
		Message:       err.Error(),
		CorrelationID: correlationID,
	}
	var e *core.Error
	if errors.As(err, &e) {
		if e.Message != "" {
			body.Message = e.Message
		}
		body.BudgetID = e.BudgetID
	}
	if kind == core.KindInternal {
		body.Message = "internal error"
	}
	return NewJSONResponse().Status(StatusForKind(kind)).Fail(body)
}

// BadRequestError creates a 400 validation error response.
func BadRequestError(r *http.Request, message string) *JSONResponseBuilder {
	return ErrorResponse(r, core.Validation("%s", message))
}

// UnauthorizedError creates a 401 response for a missing or invalid token.
func UnauthorizedError(r *http.Request) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusUnauthorized).
		Header("WWW-Authenticate", `Bearer realm="accantona"`).
		Fail(ErrorBody{
			Code:          string(core.KindPermission),
			Message:       "authentication required",
			CorrelationID: trace.GetRequestID(r.Context()),
		})
}

// TooManyRequestsError creates a 429 response for throttled clients.
func TooManyRequestsError(r *http.Request) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusTooManyRequests).
		Fail(ErrorBody{
			Code:          "rate_limited",
			Message:       "rate limit exceeded, please try again later",
			CorrelationID: trace.GetRequestID(r.Context()),
		})
}

// NotFoundError creates a 404 response for unknown routes.
func NotFoundError(r *http.Request) *JSONResponseBuilder {
	return ErrorResponse(r, core.NotFound("route"))
}

// MethodNotAllowedError creates a 405 response.
func MethodNotAllowedError(r *http.Request) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusMethodNotAllowed).
		Fail(ErrorBody{
			Code:          "method_not_allowed",
			Message:       "method not allowed",
			CorrelationID: trace.GetRequestID(r.Context()),
		})
}
