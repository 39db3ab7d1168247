package authz

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anzu-ai/anzu/internal/model"
)

// MembershipCache is a short-TTL in-memory cache of resolved tenant
// memberships. API-key authentication resolves a key to a user row on
// every request; caching the row skips that lookup on hot paths while
// keeping role changes visible within one TTL.
//
// Key: "tenant_id:user_id".
type MembershipCache struct {
	mu      sync.RWMutex
	entries map[string]cachedEntry
	ttl     time.Duration
	done    chan struct{}
}

type cachedEntry struct {
	user      model.User
	expiresAt time.Time
}

// NewMembershipCache creates a new cache with the given TTL.
// Call Close to stop the background eviction goroutine.
func NewMembershipCache(ttl time.Duration) *MembershipCache {
	c := &MembershipCache{
		entries: make(map[string]cachedEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Key builds the cache key for a tenant/user pair.
func Key(tenantID uuid.UUID, userID string) string {
	return tenantID.String() + ":" + userID
}

// Get returns the cached user and true if a valid entry exists.
func (c *MembershipCache) Get(key string) (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return model.User{}, false
	}
	return entry.user, true
}

// Set stores a user with the configured TTL.
func (c *MembershipCache) Set(key string, user model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedEntry{
		user:      user,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops an entry immediately. Called after role changes and
// user deletion so the next request sees the update.
func (c *MembershipCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Close stops the background eviction goroutine.
func (c *MembershipCache) Close() {
	close(c.done)
}

// evictLoop removes expired entries every minute.
func (c *MembershipCache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *MembershipCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
