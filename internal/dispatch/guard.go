// Package dispatch guards the auto-responder against double dispatch on
// redelivered webhooks. The guard is a short-TTL first-claim check: the first
// caller to claim an event ID wins, later claims within the window lose. It
// is intentionally independent from the storage idempotency ledger, which
// protects persistence rather than side effects.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a claim suppresses redispatching. Platform
// redeliveries arrive within seconds, so a short window is enough.
const DefaultTTL = 10 * time.Minute

// Guard answers whether this process should dispatch side effects for an
// event. Claim returns true exactly once per event ID within the TTL window.
type Guard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
}

// RedisGuard implements Guard with SETNX so the window holds across
// replicas.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(eventID), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

func (g *RedisGuard) key(eventID string) string {
	return "chatrelay:dispatch:" + eventID
}

// MemoryGuard is the single-process fallback used when Redis is not
// configured.
type MemoryGuard struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{ttl: ttl, claims: make(map[string]time.Time)}
}

func (g *MemoryGuard) Claim(_ context.Context, eventID string) (bool, error) {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, found := g.claims[eventID]; found && now.Before(expiry) {
		return false, nil
	}
	g.claims[eventID] = now.Add(g.ttl)

	// Opportunistic cleanup of expired claims.
	if len(g.claims) > 4096 {
		for id, expiry := range g.claims {
			if now.After(expiry) {
				delete(g.claims, id)
			}
		}
	}
	return true, nil
}

// NoOpGuard always allows dispatch. Used when the guard is disabled.
type NoOpGuard struct{}

func (NoOpGuard) Claim(context.Context, string) (bool, error) { return true, nil }
