// Package memstore keeps rate limit records in process memory. It is meant
// for tests and single-instance development; limits do not survive restarts
// or span processes.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/subtrack/subtrack/internal/core"
)

// Store is a mutex-guarded map of records keyed by rate limit key.
type Store struct {
	mu      sync.Mutex
	records map[string]core.RateLimitRecord
	closed  bool
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]core.RateLimitRecord)}
}

var errClosed = errors.New("memory store is closed")

func (s *Store) IncrementRateLimit(_ context.Context, key string, now time.Time, window time.Duration) (core.RateLimitRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.RateLimitRecord{}, errors.New("key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.RateLimitRecord{}, errClosed
	}

	record, ok := s.records[key]
	if !ok || record.Expired(now) {
		record = core.RateLimitRecord{Key: key, TotalHits: 1, ResetTime: now.Add(window).UTC()}
	} else {
		record.TotalHits++
	}
	s.records[key] = record
	return record, nil
}

func (s *Store) DecrementRateLimit(_ context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	record, ok := s.records[strings.TrimSpace(key)]
	if !ok || record.Expired(now) || record.TotalHits <= 0 {
		return nil
	}
	record.TotalHits--
	s.records[record.Key] = record
	return nil
}

func (s *Store) GetRateLimit(_ context.Context, key string) (*core.RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	record, ok := s.records[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *Store) DeleteRateLimit(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	delete(s.records, strings.TrimSpace(key))
	return nil
}

func (s *Store) DeleteExpiredRateLimit(_ context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	key = strings.TrimSpace(key)
	if record, ok := s.records[key]; ok && record.Expired(now) {
		delete(s.records, key)
	}
	return nil
}

func (s *Store) CleanupRateLimits(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	var removed int64
	for key, record := range s.records {
		if record.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) ListRateLimits(_ context.Context, q core.RateLimitQuery) ([]core.RateLimitRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	records := []core.RateLimitRecord{}
	for key, record := range s.records {
		if q.Matches(key) {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q core.RateLimitQuery) (int, error) {
	records, err := s.ListRateLimits(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Store) ResetRateLimits(_ context.Context, q core.RateLimitQuery) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	var removed int64
	for key := range s.records {
		if q.Matches(key) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = make(map[string]core.RateLimitRecord)
	return nil
}

// Len returns the number of records held, live or expired.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
