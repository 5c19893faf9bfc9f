package store

import (
	"context"
	"errors"
	"fmt"
)

// reset_time is unix milliseconds.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rate_limits (
		key TEXT PRIMARY KEY,
		total_hits INTEGER NOT NULL DEFAULT 0 CHECK (total_hits >= 0),
		reset_time INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limits_reset_time ON rate_limits(reset_time);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
