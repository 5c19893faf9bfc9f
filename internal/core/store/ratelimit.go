package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/subtrack/subtrack/internal/core"
)

// A single statement so concurrent increments for one key never lose updates.
const incrementRateLimitSQL = `
	INSERT INTO rate_limits (key, total_hits, reset_time)
	VALUES (?, 1, ?)
	ON CONFLICT(key) DO UPDATE SET
		total_hits = CASE WHEN rate_limits.reset_time <= ? THEN 1 ELSE rate_limits.total_hits + 1 END,
		reset_time = CASE WHEN rate_limits.reset_time <= ? THEN excluded.reset_time ELSE rate_limits.reset_time END
	RETURNING total_hits, reset_time
`

// IncrementRateLimit counts one hit for key, opening a new window of length
// window when none is live at now.
func (s *Store) IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (core.RateLimitRecord, error) {
	if s == nil || s.DB == nil {
		return core.RateLimitRecord{}, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return core.RateLimitRecord{}, errors.New("key is required")
	}

	nowMs := core.UnixMillis(now)
	resetMs := core.UnixMillis(now.Add(window))

	var (
		totalHits int64
		resetTime int64
	)
	row := s.DB.QueryRowContext(ctx, incrementRateLimitSQL, key, resetMs, nowMs, nowMs)
	if err := row.Scan(&totalHits, &resetTime); err != nil {
		return core.RateLimitRecord{}, fmt.Errorf("increment rate limit: %w", err)
	}

	return core.RateLimitRecord{
		Key:       key,
		TotalHits: totalHits,
		ResetTime: core.FromUnixMillis(resetTime),
	}, nil
}

// DecrementRateLimit refunds one hit on a live record. Absent, expired and
// zero-count records are left untouched.
func (s *Store) DecrementRateLimit(ctx context.Context, key string, now time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		UPDATE rate_limits
		SET total_hits = total_hits - 1
		WHERE key = ? AND total_hits > 0 AND reset_time > ?
	`, key, core.UnixMillis(now))
	if err != nil {
		return fmt.Errorf("decrement rate limit: %w", err)
	}

	return nil
}

// GetRateLimit returns the stored record for key, or nil when absent. Expiry
// is left to the caller.
func (s *Store) GetRateLimit(ctx context.Context, key string) (*core.RateLimitRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("key is required")
	}

	var (
		totalHits int64
		resetTime int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT total_hits, reset_time
		FROM rate_limits
		WHERE key = ?
	`, key)

	if err := row.Scan(&totalHits, &resetTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	return &core.RateLimitRecord{
		Key:       key,
		TotalHits: totalHits,
		ResetTime: core.FromUnixMillis(resetTime),
	}, nil
}

// DeleteRateLimit removes the record for key regardless of expiry.
func (s *Store) DeleteRateLimit(ctx context.Context, key string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM rate_limits WHERE key = ?`, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

// DeleteExpiredRateLimit removes key only if its window has closed at now, so
// a window reopened by a concurrent increment survives.
func (s *Store) DeleteExpiredRateLimit(ctx context.Context, key string, now time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM rate_limits
		WHERE key = ? AND reset_time <= ?
	`, strings.TrimSpace(key), core.UnixMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired rate limit: %w", err)
	}
	return nil
}

// CleanupRateLimits deletes every record whose window closed at or before now.
func (s *Store) CleanupRateLimits(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM rate_limits WHERE reset_time <= ?`, core.UnixMillis(now))
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limits: %w", err)
	}
	return affected, nil
}
