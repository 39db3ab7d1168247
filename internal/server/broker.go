package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/anzu-ai/anzu/internal/storage"
)

// Broker fans out Postgres LISTEN/NOTIFY messages to SSE subscribers.
// It runs a background goroutine that calls db.WaitForNotification in a loop
// and sends each payload to the subscribers of the tenant named in it.
// Notification payloads are JSON objects carrying a tenant_id field; events
// without one are dropped rather than broadcast across tenants.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker. Call Start to begin listening.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[uuid.UUID]map[chan []byte]struct{}),
	}
}

// Start begins listening on the document and analytics channels.
// It blocks, so call it in a goroutine. Returns when ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	if err := b.db.Listen(ctx, storage.ChannelDocuments); err != nil {
		b.logger.Error("broker: listen documents", "error", err)
		return
	}
	if err := b.db.Listen(ctx, storage.ChannelAnalytics); err != nil {
		b.logger.Error("broker: listen analytics", "error", err)
		return
	}

	b.logger.Info("broker: listening for notifications",
		"channels", []string{storage.ChannelDocuments, storage.ChannelAnalytics})

	for {
		channel, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}

		tenantID, ok := tenantIDFromPayload(payload)
		if !ok {
			b.logger.Warn("broker: notification without tenant_id, dropping", "channel", channel)
			continue
		}

		b.broadcast(tenantID, formatSSE(eventName(channel), payload))
	}
}

// Subscribe returns a channel that receives SSE-formatted events for one
// tenant. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(tenantID uuid.UUID) chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	if b.subscribers[tenantID] == nil {
		b.subscribers[tenantID] = make(map[chan []byte]struct{})
	}
	b.subscribers[tenantID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(tenantID uuid.UUID, ch chan []byte) {
	b.mu.Lock()
	if subs := b.subscribers[tenantID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subscribers, tenantID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to one tenant's subscribers. Slow subscribers
// with a full buffer are skipped (their event is dropped) to prevent one
// slow client from blocking all others.
func (b *Broker) broadcast(tenantID uuid.UUID, event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[tenantID] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full — drop this event for them.
		}
	}
}

// tenantIDFromPayload extracts the tenant_id field from a notification payload.
func tenantIDFromPayload(payload string) (uuid.UUID, bool) {
	var envelope struct {
		TenantID uuid.UUID `json:"tenant_id"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil || envelope.TenantID == uuid.Nil {
		return uuid.Nil, false
	}
	return envelope.TenantID, true
}

// eventName maps a Postgres channel to the SSE event type clients see.
func eventName(channel string) string {
	switch channel {
	case storage.ChannelDocuments:
		return "document"
	case storage.ChannelAnalytics:
		return "analytics"
	default:
		return channel
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
