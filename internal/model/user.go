package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserRole represents the RBAC role assigned to a user within a tenant.
type UserRole string

const (
	RolePlatformAdmin UserRole = "platform_admin"
	RoleOwner         UserRole = "owner"
	RoleAdmin         UserRole = "admin"
	RoleMember        UserRole = "member"
	RoleViewer        UserRole = "viewer"
)

// User represents a user identity with role assignment inside a tenant.
type User struct {
	ID         uuid.UUID      `json:"id"`
	UserID     string         `json:"user_id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	Name       string         `json:"name"`
	Role       UserRole       `json:"role"`
	APIKeyHash *string        `json:"-"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	LastSeen   *time.Time     `json:"last_seen,omitempty"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters — RoleAtLeast uses >= comparison.
func RoleRank(r UserRole) int {
	switch r {
	case RolePlatformAdmin:
		return 5
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole UserRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidRole reports whether r is a role this deployment knows about.
func ValidRole(r UserRole) bool {
	return RoleRank(r) > 0
}

// ValidateUserID checks that a user ID conforms to the allowed format.
// User IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs (email addresses are valid user IDs).
func ValidateUserID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("user_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("user_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("user_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
