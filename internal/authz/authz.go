// Package authz provides role-based authorization helpers.
//
// This package exists to share access-control logic between the HTTP server
// and the MCP server without creating a circular dependency (both import this
// package; neither imports the other).
package authz

import (
	"errors"
	"fmt"

	"github.com/anzu-ai/anzu/internal/auth"
	"github.com/anzu-ai/anzu/internal/model"
)

// ErrForbidden is returned when the caller's role is insufficient for an
// operation. Handlers map it to 403.
var ErrForbidden = errors.New("insufficient role")

// RequireRole checks that the caller holds at least minRole.
func RequireRole(claims *auth.Claims, minRole model.UserRole) error {
	if claims == nil {
		return ErrForbidden
	}
	if !model.RoleAtLeast(claims.Role, minRole) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, claims.Role, minRole)
	}
	return nil
}

// CanAssignRole reports whether the caller may grant target to another user.
// Callers can only hand out roles strictly below their own; platform admins
// can assign anything.
func CanAssignRole(claims *auth.Claims, target model.UserRole) bool {
	if claims == nil || !model.ValidRole(target) {
		return false
	}
	if claims.Role == model.RolePlatformAdmin {
		return true
	}
	return model.RoleRank(target) < model.RoleRank(claims.Role)
}

// CanManageUser reports whether the caller may modify or delete target.
// Users can always manage themselves; otherwise the caller must outrank
// the target. This stops an admin from deleting the tenant owner.
func CanManageUser(claims *auth.Claims, target model.User) bool {
	if claims == nil {
		return false
	}
	if claims.TenantID == target.TenantID && claims.UserID == target.UserID {
		return true
	}
	if claims.Role == model.RolePlatformAdmin {
		return true
	}
	return model.RoleRank(claims.Role) > model.RoleRank(target.Role)
}

// CanAccessConversation reports whether the caller may read or delete conv.
// Conversations are private to the user who started them; no role override,
// tenant admins included.
func CanAccessConversation(claims *auth.Claims, conv model.Conversation) bool {
	if claims == nil {
		return false
	}
	return conv.TenantID == claims.TenantID && conv.UserID == claims.UserID
}
