package redisstore

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/subtrack/subtrack/internal/config"
)

const scanBatch = 256

// Client is the subset of redis operations the store needs.
type Client interface {
	// Eval executes a Lua script
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	// Del deletes keys and returns how many existed
	Del(ctx context.Context, keys ...string) (int64, error)
	// Scan returns every key matching the glob pattern
	Scan(ctx context.Context, match string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// ClientAdapter adapts go-redis client to our interface
type ClientAdapter struct {
	client redis.UniversalClient
}

// NewClientAdapter creates a new client adapter
func NewClientAdapter(client redis.UniversalClient) *ClientAdapter {
	return &ClientAdapter{client: client}
}

// NewUniversalClient builds a go-redis client from config. More than one
// address yields a cluster client.
func NewUniversalClient(cfg config.RedisConfig) redis.UniversalClient {
	addrs := cfg.Addrs
	if len(addrs) == 0 {
		addrs = []string{"localhost:6379"}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (c *ClientAdapter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return c.client.Eval(ctx, script, keys, args...).Result()
}

func (c *ClientAdapter) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return c.client.Del(ctx, keys...).Result()
}

// Scan walks every master when the client is a cluster client.
func (c *ClientAdapter) Scan(ctx context.Context, match string) ([]string, error) {
	if cluster, ok := c.client.(*redis.ClusterClient); ok {
		var (
			mu   sync.Mutex
			keys []string
		)
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			found, err := scanAll(ctx, node, match)
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, found...)
			mu.Unlock()
			return nil
		})
		return keys, err
	}
	return scanAll(ctx, c.client, match)
}

func scanAll(ctx context.Context, client redis.Cmdable, match string) ([]string, error) {
	var keys []string
	iter := client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (c *ClientAdapter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ClientAdapter) Close() error {
	return c.client.Close()
}
