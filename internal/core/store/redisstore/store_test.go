package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtrack/subtrack/internal/core"
)

// mockClient implements the Client interface for testing
type mockClient struct {
	evalFunc func(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	delFunc  func(ctx context.Context, keys ...string) (int64, error)
	scanKeys []string
	scanErr  error
	patterns []string
	closed   bool
}

func (m *mockClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if m.evalFunc != nil {
		return m.evalFunc(ctx, script, keys, args...)
	}
	return []interface{}{int64(1), int64(0)}, nil
}

func (m *mockClient) Del(ctx context.Context, keys ...string) (int64, error) {
	if m.delFunc != nil {
		return m.delFunc(ctx, keys...)
	}
	return int64(len(keys)), nil
}

func (m *mockClient) Scan(_ context.Context, match string) ([]string, error) {
	m.patterns = append(m.patterns, match)
	return m.scanKeys, m.scanErr
}

func (m *mockClient) Ping(context.Context) error {
	if m.closed {
		return errors.New("closed")
	}
	return nil
}

func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

var baseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewStoreDefaultPrefix(t *testing.T) {
	s := NewStore(&mockClient{}, "  ")
	assert.Equal(t, "ratelimit:", s.prefix)

	s = NewStore(&mockClient{}, "rl:")
	assert.Equal(t, "rl:", s.prefix)
}

func TestIncrementRateLimit(t *testing.T) {
	ctx := context.Background()
	reset := core.UnixMillis(baseTime.Add(15 * time.Minute))

	var gotKeys []string
	var gotArgs []interface{}
	client := &mockClient{
		evalFunc: func(_ context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
			assert.Equal(t, incrementScript, script)
			gotKeys = keys
			gotArgs = args
			return []interface{}{int64(3), reset}, nil
		},
	}
	s := NewStore(client, "")

	record, err := s.IncrementRateLimit(ctx, "auth:10.0.0.1", baseTime, 15*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, []string{"ratelimit:auth:10.0.0.1"}, gotKeys)
	require.Len(t, gotArgs, 2)
	assert.Equal(t, core.UnixMillis(baseTime), gotArgs[0])
	assert.Equal(t, reset, gotArgs[1])

	assert.Equal(t, "auth:10.0.0.1", record.Key)
	assert.Equal(t, int64(3), record.TotalHits)
	assert.Equal(t, baseTime.Add(15*time.Minute), record.ResetTime)
}

func TestIncrementRateLimitErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		evalResult interface{}
		evalErr    error
	}{
		{name: "redis error", evalErr: errors.New("connection refused")},
		{name: "wrong shape", evalResult: "unexpected"},
		{name: "short result", evalResult: []interface{}{int64(1)}},
		{name: "bad element", evalResult: []interface{}{int64(1), 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{
				evalFunc: func(context.Context, string, []string, ...interface{}) (interface{}, error) {
					return tt.evalResult, tt.evalErr
				},
			}
			_, err := NewStore(client, "").IncrementRateLimit(ctx, "k", baseTime, time.Minute)
			require.Error(t, err)
		})
	}

	_, err := NewStore(&mockClient{}, "").IncrementRateLimit(ctx, " ", baseTime, time.Minute)
	require.Error(t, err)
}

func TestGetRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		client := &mockClient{
			evalFunc: func(context.Context, string, []string, ...interface{}) (interface{}, error) {
				return nil, redis.Nil
			},
		}
		record, err := NewStore(client, "").GetRateLimit(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("present key", func(t *testing.T) {
		client := &mockClient{
			evalFunc: func(_ context.Context, script string, _ []string, _ ...interface{}) (interface{}, error) {
				assert.Equal(t, getScript, script)
				return []interface{}{int64(7), core.UnixMillis(baseTime)}, nil
			},
		}
		record, err := NewStore(client, "").GetRateLimit(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, int64(7), record.TotalHits)
		assert.Equal(t, baseTime, record.ResetTime)
	})

	t.Run("redis error", func(t *testing.T) {
		client := &mockClient{
			evalFunc: func(context.Context, string, []string, ...interface{}) (interface{}, error) {
				return nil, errors.New("timeout")
			},
		}
		_, err := NewStore(client, "").GetRateLimit(ctx, "k")
		require.Error(t, err)
	})
}

func TestCleanupRateLimits(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{
		scanKeys: []string{"ratelimit:a", "ratelimit:b", "ratelimit:c"},
		evalFunc: func(_ context.Context, script string, keys []string, _ ...interface{}) (interface{}, error) {
			assert.Equal(t, deleteExpiredScript, script)
			if keys[0] == "ratelimit:b" {
				return int64(0), nil
			}
			return int64(1), nil
		},
	}

	removed, err := NewStore(client, "").CleanupRateLimits(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, []string{"ratelimit:*"}, client.patterns)
}

func TestListRateLimitsStripsPrefix(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{
		scanKeys: []string{"rl:auth:b", "rl:auth:a"},
		evalFunc: func(context.Context, string, []string, ...interface{}) (interface{}, error) {
			return []interface{}{int64(2), core.UnixMillis(baseTime)}, nil
		},
	}
	s := NewStore(client, "rl:")

	records, err := s.ListRateLimits(ctx, core.RateLimitQuery{Prefix: "auth:"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "auth:a", records[0].Key)
	assert.Equal(t, "auth:b", records[1].Key)
	assert.Equal(t, []string{"rl:auth:*"}, client.patterns)

	count, err := s.CountRateLimits(ctx, core.RateLimitQuery{Prefix: "auth:"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = s.ListRateLimits(ctx, core.RateLimitQuery{})
	require.Error(t, err)
}

func TestResetRateLimits(t *testing.T) {
	ctx := context.Background()

	var deleted []string
	client := &mockClient{
		scanKeys: []string{"ratelimit:a", "ratelimit:b"},
		delFunc: func(_ context.Context, keys ...string) (int64, error) {
			deleted = append(deleted, keys...)
			return int64(len(keys)), nil
		},
	}
	s := NewStore(client, "")

	n, err := s.ResetRateLimits(ctx, core.RateLimitQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"ratelimit:a", "ratelimit:b"}, deleted)

	deleted = nil
	n, err = s.ResetRateLimits(ctx, core.RateLimitQuery{Key: "general:1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"ratelimit:general:1.2.3.4"}, deleted)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `rl\*:\[x\]\?`, escapeGlob("rl*:[x]?"))
}

func TestClose(t *testing.T) {
	client := &mockClient{}
	s := NewStore(client, "")
	require.NoError(t, s.Close())
	assert.True(t, client.closed)
	require.Error(t, s.Ping(context.Background()))
}
