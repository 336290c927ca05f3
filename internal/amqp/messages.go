package amqp

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Audit event types.
const (
	EventBudgetCreated        = "budget.created"
	EventBudgetUpdated        = "budget.updated"
	EventBudgetDeleted        = "budget.deleted"
	EventLedgerEntryRecorded  = "ledger.entry_recorded"
	EventContributionsApplied = "contributions.applied"
	EventPaymentConfirmed     = "payment.confirmed"
)

// AuditEvent is a lightweight record of a state change. Consumers fetch
// anything else they need from the store.
type AuditEvent struct {
	Type          string            `json:"type"`
	WorkspaceID   string            `json:"workspaceId"`
	BudgetID      string            `json:"budgetId,omitempty"`
	Actor         string            `json:"actor,omitempty"`
	Amount        string            `json:"amount,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewAuditEvent creates an event stamped with the current time.
func NewAuditEvent(eventType, workspaceID, budgetID, actor string) *AuditEvent {
	return &AuditEvent{
		Type:        eventType,
		WorkspaceID: workspaceID,
		BudgetID:    budgetID,
		Actor:       actor,
		Timestamp:   time.Now().UTC(),
	}
}

// With sets an attribute and returns the event for chaining.
func (m *AuditEvent) With(key, value string) *AuditEvent {
	if m.Attributes == nil {
		m.Attributes = map[string]string{}
	}
	m.Attributes[key] = value
	return m
}

// WithAmount sets the amount rendered with two decimals.
func (m *AuditEvent) WithAmount(d decimal.Decimal) *AuditEvent {
	m.Amount = d.StringFixed(2)
	return m
}

// ToJSON converts the message to JSON bytes
func (m *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AuditEventFromJSON creates a message from JSON bytes
func AuditEventFromJSON(data []byte) (*AuditEvent, error) {
	var msg AuditEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
