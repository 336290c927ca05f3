package auth

import (
	"context"
	"errors"
	"fmt"

	"accantona/internal/core"
	"accantona/internal/store"
)

// RoleLookup resolves a user's role in a workspace.
type RoleLookup interface {
	GetMemberRole(ctx context.Context, workspaceID, userID string) (core.MemberRole, error)
}

// PermissionChecker answers permission questions from workspace
// membership. Non-members have no rights.
type PermissionChecker struct {
	roles RoleLookup
}

func NewPermissionChecker(roles RoleLookup) *PermissionChecker {
	return &PermissionChecker{roles: roles}
}

func (p *PermissionChecker) role(ctx context.Context, userID, workspaceID string) (core.MemberRole, bool, error) {
	if userID == "" || workspaceID == "" {
		return "", false, nil
	}
	role, err := p.roles.GetMemberRole(ctx, workspaceID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup member role: %w", err)
	}
	return role, true, nil
}

// CanManageWorkspace reports whether userID may create, update or delete
// budgets and post ledger movements in workspaceID.
func (p *PermissionChecker) CanManageWorkspace(ctx context.Context, userID, workspaceID string) (bool, error) {
	role, ok, err := p.role(ctx, userID, workspaceID)
	if err != nil || !ok {
		return false, err
	}
	return role.CanManage(), nil
}

// CanViewWorkspace reports whether userID is any kind of member.
func (p *PermissionChecker) CanViewWorkspace(ctx context.Context, userID, workspaceID string) (bool, error) {
	_, ok, err := p.role(ctx, userID, workspaceID)
	return ok, err
}
