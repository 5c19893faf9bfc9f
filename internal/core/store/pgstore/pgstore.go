// Package pgstore persists rate limit records in PostgreSQL through gorm.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/subtrack/subtrack/internal/core"
)

// rateLimitRow represents a row in the database
type rateLimitRow struct {
	Key       string `gorm:"primaryKey"`
	TotalHits int64  `gorm:"not null;default:0"`
	ResetTime int64  `gorm:"not null;index"`
}

func (rateLimitRow) TableName() string {
	return "rate_limits"
}

func (r rateLimitRow) record() core.RateLimitRecord {
	return core.RateLimitRecord{
		Key:       r.Key,
		TotalHits: r.TotalHits,
		ResetTime: core.FromUnixMillis(r.ResetTime),
	}
}

const incrementSQL = `
	INSERT INTO rate_limits (key, total_hits, reset_time)
	VALUES (?, 1, ?)
	ON CONFLICT (key) DO UPDATE SET
		total_hits = CASE
			WHEN rate_limits.reset_time <= ? THEN 1
			ELSE rate_limits.total_hits + 1
		END,
		reset_time = CASE
			WHEN rate_limits.reset_time <= ? THEN EXCLUDED.reset_time
			ELSE rate_limits.reset_time
		END
	RETURNING key, total_hits, reset_time
`

// Store is the PostgreSQL rate limit backend.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the rate_limits table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return open(ctx, db)
}

// open migrates db and wraps it. The connection pool is closed when the
// migration fails.
func open(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&rateLimitRow{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) IncrementRateLimit(ctx context.Context, key string, now time.Time, window time.Duration) (core.RateLimitRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.RateLimitRecord{}, errors.New("key is required")
	}

	nowMs := core.UnixMillis(now)
	var row rateLimitRow
	err := s.db.WithContext(ctx).
		Raw(incrementSQL, key, core.UnixMillis(now.Add(window)), nowMs, nowMs).
		Scan(&row).Error
	if err != nil {
		return core.RateLimitRecord{}, fmt.Errorf("increment rate limit: %w", err)
	}
	return row.record(), nil
}

func (s *Store) DecrementRateLimit(ctx context.Context, key string, now time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&rateLimitRow{}).
		Where("key = ? AND total_hits > 0 AND reset_time > ?", strings.TrimSpace(key), core.UnixMillis(now)).
		UpdateColumn("total_hits", gorm.Expr("total_hits - 1")).Error
	if err != nil {
		return fmt.Errorf("decrement rate limit: %w", err)
	}
	return nil
}

func (s *Store) GetRateLimit(ctx context.Context, key string) (*core.RateLimitRecord, error) {
	var row rateLimitRow
	err := s.db.WithContext(ctx).Where("key = ?", strings.TrimSpace(key)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}
	record := row.record()
	return &record, nil
}

func (s *Store) DeleteRateLimit(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&rateLimitRow{}, "key = ?", strings.TrimSpace(key)).Error; err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredRateLimit(ctx context.Context, key string, now time.Time) error {
	err := s.db.WithContext(ctx).
		Delete(&rateLimitRow{}, "key = ? AND reset_time <= ?", strings.TrimSpace(key), core.UnixMillis(now)).Error
	if err != nil {
		return fmt.Errorf("delete expired rate limit: %w", err)
	}
	return nil
}

func (s *Store) CleanupRateLimits(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Delete(&rateLimitRow{}, "reset_time <= ?", core.UnixMillis(now))
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup rate limits: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// scoped narrows db to the rows selected by q.
func scoped(db *gorm.DB, q core.RateLimitQuery) (*gorm.DB, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	switch {
	case q.All:
		return db.Session(&gorm.Session{AllowGlobalUpdate: true}), nil
	case strings.TrimSpace(q.Key) != "":
		return db.Where("key = ?", strings.TrimSpace(q.Key)), nil
	default:
		return db.Where("key LIKE ?", escapeLike(strings.TrimSpace(q.Prefix))+"%"), nil
	}
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *Store) ListRateLimits(ctx context.Context, q core.RateLimitQuery) ([]core.RateLimitRecord, error) {
	db, err := scoped(s.db.WithContext(ctx), q)
	if err != nil {
		return nil, err
	}

	var rows []rateLimitRow
	if err := db.Order("key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}

	records := make([]core.RateLimitRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q core.RateLimitQuery) (int, error) {
	db, err := scoped(s.db.WithContext(ctx).Model(&rateLimitRow{}), q)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return int(count), nil
}

func (s *Store) ResetRateLimits(ctx context.Context, q core.RateLimitQuery) (int64, error) {
	db, err := scoped(s.db.WithContext(ctx), q)
	if err != nil {
		return 0, err
	}

	result := db.Delete(&rateLimitRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("reset rate limits: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
