// Package limiter implements the fail-open fixed-window rate limiter: a
// namespaced Store over a shared Backend, and the Policy wrapper that turns
// counts into allow/reject decisions per route class.
package limiter

import (
	"context"
	"time"

	"github.com/subtrack/subtrack/internal/core"
)

// Backend is a shared, persistent record store. IncrementRateLimit must be a
// single atomic operation per key. GetRateLimit returns nil, nil when the key
// is absent.
type Backend interface {
	IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (core.RateLimitRecord, error)
	DecrementRateLimit(ctx context.Context, key string, now time.Time) error
	GetRateLimit(ctx context.Context, key string) (*core.RateLimitRecord, error)
	DeleteRateLimit(ctx context.Context, key string) error
	DeleteExpiredRateLimit(ctx context.Context, key string, now time.Time) error
	CleanupRateLimits(ctx context.Context, now time.Time) (int64, error)

	ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitRecord, error)
	CountRateLimits(ctx context.Context, q core.RateLimitQuery) (int, error)
	ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
