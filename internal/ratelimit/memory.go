package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	evictInterval  = time.Minute
	staleThreshold = 10 * time.Minute
)

type bucket struct {
	tokens float64
	seen   time.Time
}

// MemoryLimiter is an in-process token-bucket limiter keyed by string.
// It backs the auth endpoints, which must stay limited even when Redis
// is not configured, and serves as the fallback for all rules when it is
// the only limiter available.
type MemoryLimiter struct {
	rate  float64 // tokens refilled per second
	burst float64 // bucket capacity

	now func() time.Time // swapped out in tests

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing a sustained rate of
// requests per second per key with the given burst capacity. Keys idle
// past 10 minutes are evicted by a background goroutine; call Close to
// stop it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Allow consumes one token for key, reporting whether one was available.
// The error return exists only to satisfy the shared limiter contract.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &bucket{tokens: m.burst - 1, seen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.seen).Seconds() * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.seen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, b := range m.buckets {
		if b.seen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
