// Package redisstore persists rate limit records as redis hashes. Every
// mutation is a Lua script so it executes atomically on the server, and each
// hash carries a PEXPIREAT at its reset time so redis reaps expired windows
// natively.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/core"
)

const defaultKeyPrefix = "ratelimit:"

// KEYS[1] record; ARGV[1] now ms; ARGV[2] reset ms for a fresh window.
const incrementScript = `
local hits = redis.call('HGET', KEYS[1], 'hits')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')
local now = tonumber(ARGV[1])
if (not hits) or reset <= now then
	local fresh = tonumber(ARGV[2])
	redis.call('HSET', KEYS[1], 'hits', 1, 'reset', fresh)
	redis.call('PEXPIREAT', KEYS[1], fresh)
	return {1, fresh}
end
local total = redis.call('HINCRBY', KEYS[1], 'hits', 1)
return {total, reset}
`

// KEYS[1] record; ARGV[1] now ms.
const decrementScript = `
local hits = tonumber(redis.call('HGET', KEYS[1], 'hits') or '-1')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')
if hits > 0 and reset > tonumber(ARGV[1]) then
	return redis.call('HINCRBY', KEYS[1], 'hits', -1)
end
return 0
`

// KEYS[1] record.
const getScript = `
local v = redis.call('HMGET', KEYS[1], 'hits', 'reset')
if not v[1] then
	return false
end
return {tonumber(v[1]), tonumber(v[2])}
`

// KEYS[1] record; ARGV[1] now ms.
const deleteExpiredScript = `
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '-1')
if reset >= 0 and reset <= tonumber(ARGV[1]) then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// Store implements the rate limit backend on redis.
type Store struct {
	client Client
	prefix string
}

// NewStore wraps client. An empty prefix uses "ratelimit:".
func NewStore(client Client, prefix string) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Open connects to redis using cfg and verifies the connection.
func Open(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	adapter := NewClientAdapter(NewUniversalClient(cfg))
	if err := adapter.Ping(ctx); err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}
	return NewStore(adapter, cfg.KeyPrefix), nil
}

func (s *Store) redisKey(key string) string {
	return s.prefix + strings.TrimSpace(key)
}

func (s *Store) IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (core.RateLimitRecord, error) {
	if strings.TrimSpace(key) == "" {
		return core.RateLimitRecord{}, errors.New("key is required")
	}

	result, err := s.client.Eval(ctx, incrementScript, []string{s.redisKey(key)},
		core.UnixMillis(now),
		core.UnixMillis(now.Add(window)),
	)
	if err != nil {
		return core.RateLimitRecord{}, fmt.Errorf("increment rate limit: %w", err)
	}

	hits, reset, err := parsePair(result)
	if err != nil {
		return core.RateLimitRecord{}, fmt.Errorf("increment rate limit: %w", err)
	}
	return core.RateLimitRecord{
		Key:       strings.TrimSpace(key),
		TotalHits: hits,
		ResetTime: core.FromUnixMillis(reset),
	}, nil
}

func (s *Store) DecrementRateLimit(ctx context.Context, key string, now time.Time) error {
	if _, err := s.client.Eval(ctx, decrementScript, []string{s.redisKey(key)}, core.UnixMillis(now)); err != nil {
		return fmt.Errorf("decrement rate limit: %w", err)
	}
	return nil
}

func (s *Store) GetRateLimit(ctx context.Context, key string) (*core.RateLimitRecord, error) {
	result, err := s.client.Eval(ctx, getScript, []string{s.redisKey(key)})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	hits, reset, err := parsePair(result)
	if err != nil {
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}
	return &core.RateLimitRecord{
		Key:       strings.TrimSpace(key),
		TotalHits: hits,
		ResetTime: core.FromUnixMillis(reset),
	}, nil
}

func (s *Store) DeleteRateLimit(ctx context.Context, key string) error {
	if _, err := s.client.Del(ctx, s.redisKey(key)); err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredRateLimit(ctx context.Context, key string, now time.Time) error {
	_, err := s.deleteExpired(ctx, s.redisKey(key), now)
	return err
}

func (s *Store) deleteExpired(ctx context.Context, redisKey string, now time.Time) (bool, error) {
	result, err := s.client.Eval(ctx, deleteExpiredScript, []string{redisKey}, core.UnixMillis(now))
	if err != nil {
		return false, fmt.Errorf("delete expired rate limit: %w", err)
	}
	deleted, err := toInt64(result)
	if err != nil {
		return false, fmt.Errorf("delete expired rate limit: %w", err)
	}
	return deleted > 0, nil
}

// CleanupRateLimits sweeps keys whose expiry redis has not yet reaped.
func (s *Store) CleanupRateLimits(ctx context.Context, now time.Time) (int64, error) {
	keys, err := s.client.Scan(ctx, escapeGlob(s.prefix)+"*")
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limits: %w", err)
	}

	var removed int64
	for _, key := range keys {
		deleted, err := s.deleteExpired(ctx, key, now)
		if err != nil {
			return removed, fmt.Errorf("cleanup rate limits: %w", err)
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

func (s *Store) matchingKeys(ctx context.Context, q core.RateLimitQuery) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if key := strings.TrimSpace(q.Key); key != "" && !q.All {
		return []string{s.redisKey(key)}, nil
	}

	pattern := escapeGlob(s.prefix) + "*"
	if !q.All {
		pattern = escapeGlob(s.prefix+strings.TrimSpace(q.Prefix)) + "*"
	}
	keys, err := s.client.Scan(ctx, pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitRecord, error) {
	keys, err := s.matchingKeys(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}

	records := []core.RateLimitRecord{}
	for _, redisKey := range keys {
		record, err := s.GetRateLimit(ctx, strings.TrimPrefix(redisKey, s.prefix))
		if err != nil {
			return nil, fmt.Errorf("list rate limits: %w", err)
		}
		if record != nil {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q core.RateLimitQuery) (int, error) {
	records, err := s.ListRateLimits(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Store) ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error) {
	keys, err := s.matchingKeys(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}

	var deleted int64
	for _, key := range keys {
		n, err := s.client.Del(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("reset rate limits: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close closes the store
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func parsePair(result interface{}) (int64, int64, error) {
	res, ok := result.([]interface{})
	if !ok || len(res) != 2 {
		return 0, 0, errors.New("invalid rate limit script result")
	}
	first, err := toInt64(res[0])
	if err != nil {
		return 0, 0, err
	}
	second, err := toInt64(res[1])
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("invalid rate limit script result type %T", value)
	}
}

func escapeGlob(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(value)
}
