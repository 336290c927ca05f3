// Package services implements the budget funding and reservation ledger:
// the catalog of budgets, the contribution planner, the funding ledger and
// its monthly processor, the reservation aggregator and payment
// confirmation.
package services

import (
	"context"
	"errors"
	"log/slog"

	"accantona/internal/amqp"
	"accantona/internal/core"
	"accantona/internal/middleware/trace"
	"accantona/internal/store"
)

// EventPublisher receives audit events for mutating operations.
// Publishing is fire-and-forget: failures are logged, never returned.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *amqp.AuditEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, *amqp.AuditEvent) error { return nil }

// Permissions gates mutating operations.
type Permissions interface {
	CanManageWorkspace(ctx context.Context, userID, workspaceID string) (bool, error)
}

func publish(ctx context.Context, p EventPublisher, ev *amqp.AuditEvent) {
	if p == nil {
		slog.WarnContext(ctx, "Event publisher not available, skipping audit event", "type", ev.Type)
		return
	}
	ev.CorrelationID = trace.GetRequestID(ctx)
	if err := p.PublishEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish audit event",
			"type", ev.Type,
			"workspace_id", ev.WorkspaceID,
			"budget_id", ev.BudgetID,
			"error", err)
	}
}

func requireManage(ctx context.Context, perms Permissions, actor, workspaceID string) error {
	if actor == "" {
		return core.PermissionDenied("authentication required")
	}
	ok, err := perms.CanManageWorkspace(ctx, actor, workspaceID)
	if err != nil {
		return core.Dependency("permission check failed", err)
	}
	if !ok {
		return core.PermissionDenied("you cannot manage this workspace")
	}
	return nil
}

// surface stamps err with the request correlation id. Errors that are not
// part of the taxonomy become internal errors.
func surface(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	ctx, id := trace.EnsureRequestID(ctx)
	if core.KindOf(err) == core.KindInternal {
		slog.ErrorContext(ctx, "Unclassified failure", "correlation_id", id, "error", err)
	}
	return core.WithCorrelation(err, id)
}

// notFound maps store.ErrNotFound to a taxonomy NotFound for what.
func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return core.NotFound(what)
	}
	return err
}
