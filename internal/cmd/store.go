package cmd

import (
	"context"

	"github.com/subtrack/subtrack/internal/core/limiter"
	"github.com/subtrack/subtrack/internal/core/store"
)

// openBackend opens the configured rate limit store for CLI commands.
func openBackend(ctx context.Context) (limiter.Backend, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return store.OpenBackend(ctx, cfg.Store)
}
