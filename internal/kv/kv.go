// Package kv abstracts the key-value store backing the response cache,
// the escalation queue, and the status store. A Redis implementation is
// the production backend; an in-process store with the same semantics
// serves as the degraded fallback.
package kv

import (
	"context"
	"log/slog"
	"time"
)

// Member is one scored member of a sorted set.
type Member struct {
	Member string
	Score  float64
}

// Store is the minimal key-value surface the pipeline depends on:
// strings with TTL, sorted sets, and lists.
type Store interface {
	// Get returns the value for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// SetEx stores value under key with the given TTL. A non-positive
	// TTL stores the value without expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the given keys.
	Del(ctx context.Context, keys ...string) error

	// ZAdd adds or updates scored members in a sorted set.
	ZAdd(ctx context.Context, key string, members ...Member) error

	// ZRem removes members from a sorted set.
	ZRem(ctx context.Context, key string, members ...string) error

	// ZPopMin atomically removes and returns up to count members with
	// the lowest scores, ordered by score then member.
	ZPopMin(ctx context.Context, key string, count int) ([]Member, error)

	// ZCard returns the cardinality of a sorted set.
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRangeByScore returns up to limit members with min <= score <= max,
	// ordered by score then member. limit <= 0 means no limit.
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int) ([]Member, error)

	// RPush appends values to the tail of a list.
	RPush(ctx context.Context, key string, values ...string) error

	// LLen returns the length of a list.
	LLen(ctx context.Context, key string) (int64, error)

	// LRange returns list elements in [start, stop] (inclusive, negative
	// indexes count from the tail, Redis semantics).
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Connect returns a Redis-backed store when the URL is reachable, or an
// in-process store with degraded=true otherwise. The pipeline keeps the
// same semantics either way; only durability and capacity differ.
func Connect(ctx context.Context, redisURL string, logger *slog.Logger) (store Store, degraded bool) {
	rs, err := NewRedisStore(redisURL)
	if err != nil {
		logger.Warn("kv: redis unavailable, using in-process store", "error", err)
		return NewMemoryStore(), true
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		logger.Warn("kv: redis unreachable, using in-process store", "error", err)
		_ = rs.Close()
		return NewMemoryStore(), true
	}

	logger.Info("kv: redis connected", "url", redisURL)
	return rs, false
}
