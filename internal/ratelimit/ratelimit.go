// Package ratelimit provides request rate limiting.
//
// Tenant-level limits use a Redis fixed-window counter (Limiter) so they
// hold across instances. When no Redis client is configured the Limiter
// runs in noop mode and permits everything. Per-IP protection for
// unauthenticated endpoints uses an in-process token bucket
// (MemoryLimiter) that needs no external infrastructure.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule describes one rate limit: at most Limit requests per Window,
// counted separately per key under the rule's Prefix.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders returns the standard X-RateLimit-* response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}

// Limiter enforces fixed-window rate limits backed by Redis.
// A nil client puts the limiter in noop mode: every request is allowed.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Limiter. client may be nil to disable limiting.
func New(client *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{client: client, logger: logger}
}

// Allow checks and consumes one request for key under rule.
// Redis errors fail open: blocking all traffic on a limiter outage is
// worse than briefly not limiting it.
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) Result {
	if l.client == nil {
		return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: time.Now().Add(rule.Window)}
	}

	now := time.Now()
	windowStart := now.Truncate(rule.Window)
	resetAt := windowStart.Add(rule.Window)
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", rule.Prefix, key, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, rule.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("ratelimit: redis error, failing open", "error", err, "rule", rule.Prefix)
		return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: resetAt}
	}

	count := int(incr.Val())
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
