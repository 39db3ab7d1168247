package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// threadTracker remembers each caller's most recent conversation so anzu_ask
// can continue the thread when the client omits conversation_id. Entries
// expire after the window; a fresh ask then starts a new conversation.
//
// This is an in-memory, per-process structure — it does not survive restarts,
// which is acceptable because clients can always pass conversation_id
// explicitly.
type threadTracker struct {
	mu      sync.Mutex
	threads map[threadKey]threadEntry
	window  time.Duration
}

type threadKey struct {
	tenantID uuid.UUID
	userID   string
}

type threadEntry struct {
	conversationID uuid.UUID
	at             time.Time
}

func newThreadTracker(window time.Duration) *threadTracker {
	return &threadTracker{
		threads: make(map[threadKey]threadEntry),
		window:  window,
	}
}

// Remember records the caller's current conversation.
func (t *threadTracker) Remember(tenantID uuid.UUID, userID string, conversationID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threads[threadKey{tenantID, userID}] = threadEntry{conversationID: conversationID, at: time.Now()}

	// Lazy cleanup: purge stale entries when the map has grown large so many
	// distinct callers over time don't grow it without bound.
	if len(t.threads) > 1000 {
		t.purgeStale()
	}
}

// Lookup returns the caller's most recent conversation if it is still within
// the window.
func (t *threadTracker) Lookup(tenantID uuid.UUID, userID string) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.threads[threadKey{tenantID, userID}]
	if !ok {
		return uuid.Nil, false
	}
	if time.Since(entry.at) > t.window {
		delete(t.threads, threadKey{tenantID, userID})
		return uuid.Nil, false
	}
	return entry.conversationID, true
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *threadTracker) purgeStale() {
	now := time.Now()
	for k, entry := range t.threads {
		if now.Sub(entry.at) > t.window {
			delete(t.threads, k)
		}
	}
}
