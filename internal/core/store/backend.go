package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/subtrack/subtrack/internal/config"
	"github.com/subtrack/subtrack/internal/core/limiter"
	"github.com/subtrack/subtrack/internal/core/store/memstore"
	"github.com/subtrack/subtrack/internal/core/store/pgstore"
	"github.com/subtrack/subtrack/internal/core/store/redisstore"
)

// Store drivers.
const (
	DriverLibsql   = driverLibsql
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// OpenBackend opens the rate limit backend selected by cfg.Driver and
// prepares its schema where one is needed.
func OpenBackend(ctx context.Context, cfg config.StoreConfig) (limiter.Backend, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", DriverLibsql:
		db, err := Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	case DriverRedis:
		rs, err := redisstore.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return rs, nil
	case DriverPostgres, "postgresql":
		pg, err := pgstore.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

// NativeExpiry reports whether the driver reaps expired records on its own,
// making the periodic sweep redundant.
func NativeExpiry(driver string) bool {
	return strings.EqualFold(strings.TrimSpace(driver), DriverRedis)
}
