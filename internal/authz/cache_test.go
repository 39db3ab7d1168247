package authz

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzu-ai/anzu/internal/model"
)

func TestMembershipCache_GetSet(t *testing.T) {
	c := NewMembershipCache(time.Second)
	defer c.Close()

	key := Key(uuid.New(), "alice")

	// Miss on empty cache.
	_, ok := c.Get(key)
	assert.False(t, ok)

	// Set and hit.
	user := model.User{UserID: "alice", Role: model.RoleAdmin}
	c.Set(key, user)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, model.RoleAdmin, got.Role)
}

func TestMembershipCache_Expiry(t *testing.T) {
	c := NewMembershipCache(50 * time.Millisecond)
	defer c.Close()

	c.Set("t:alice", model.User{UserID: "alice"})

	// Should be present immediately.
	_, ok := c.Get("t:alice")
	require.True(t, ok)

	// Wait for expiry.
	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("t:alice")
	assert.False(t, ok, "entry should have expired")
}

func TestMembershipCache_Invalidate(t *testing.T) {
	c := NewMembershipCache(time.Second)
	defer c.Close()

	c.Set("t:alice", model.User{UserID: "alice", Role: model.RoleMember})
	c.Invalidate("t:alice")

	_, ok := c.Get("t:alice")
	assert.False(t, ok, "invalidated entry should be gone")
}

func TestMembershipCache_EvictExpired(t *testing.T) {
	c := NewMembershipCache(10 * time.Millisecond)
	defer c.Close()

	c.Set("key1", model.User{UserID: "a"})
	c.Set("key2", model.User{UserID: "b"})

	time.Sleep(20 * time.Millisecond)

	c.evictExpired()

	c.mu.RLock()
	assert.Empty(t, c.entries, "evictExpired should have removed all expired entries")
	c.mu.RUnlock()
}

func TestMembershipCache_KeyIsolatesTenants(t *testing.T) {
	c := NewMembershipCache(time.Second)
	defer c.Close()

	tenantA, tenantB := uuid.New(), uuid.New()
	c.Set(Key(tenantA, "alice"), model.User{UserID: "alice", Role: model.RoleOwner})
	c.Set(Key(tenantB, "alice"), model.User{UserID: "alice", Role: model.RoleViewer})

	got, ok := c.Get(Key(tenantA, "alice"))
	require.True(t, ok)
	assert.Equal(t, model.RoleOwner, got.Role)

	got, ok = c.Get(Key(tenantB, "alice"))
	require.True(t, ok)
	assert.Equal(t, model.RoleViewer, got.Role)
}
