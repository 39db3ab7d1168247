package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/model"
)

func TestValidateUserID_Valid(t *testing.T) {
	valid := []string{
		"user",
		"test-user",
		"user.v2",
		"User_01",
		"user@example.com",
		"u",
		strings.Repeat("a", 255),
	}
	for _, id := range valid {
		require.NoError(t, model.ValidateUserID(id), "expected valid: %q", id)
	}
}

func TestValidateUserID_Invalid(t *testing.T) {
	invalid := []string{
		"",
		strings.Repeat("a", 256),
		"user name",
		"user/name",
		"user\n",
		"ユーザー",
	}
	for _, id := range invalid {
		assert.Error(t, model.ValidateUserID(id), "expected invalid: %q", id)
	}
}

func TestRoleRank(t *testing.T) {
	// Verify strict ordering: platform_admin > owner > admin > member > viewer.
	// Unknown roles must rank below viewer.
	tests := []struct {
		role model.UserRole
		rank int
	}{
		{model.RolePlatformAdmin, 5},
		{model.RoleOwner, 4},
		{model.RoleAdmin, 3},
		{model.RoleMember, 2},
		{model.RoleViewer, 1},
		{model.UserRole("unknown"), 0},
		{model.UserRole(""), 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.rank, model.RoleRank(tt.role), "RoleRank(%q)", tt.role)
		})
	}

	ordered := []model.UserRole{
		model.RoleViewer,
		model.RoleMember,
		model.RoleAdmin,
		model.RoleOwner,
		model.RolePlatformAdmin,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, model.RoleRank(ordered[i]), model.RoleRank(ordered[i-1]),
			"%q should rank higher than %q", ordered[i], ordered[i-1])
	}
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, model.RoleAtLeast(model.RoleAdmin, model.RoleMember))
	assert.True(t, model.RoleAtLeast(model.RoleAdmin, model.RoleAdmin))
	assert.False(t, model.RoleAtLeast(model.RoleViewer, model.RoleMember))
	assert.False(t, model.RoleAtLeast(model.UserRole("bogus"), model.RoleViewer))
}

func TestValidRole(t *testing.T) {
	assert.True(t, model.ValidRole(model.RoleOwner))
	assert.False(t, model.ValidRole(model.UserRole("superuser")))
}
