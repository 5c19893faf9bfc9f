package core

import (
	"errors"
	"strings"
	"time"
)

// RateLimitRecord is the persisted fixed-window counter for a single key.
type RateLimitRecord struct {
	Key       string    `json:"key" yaml:"key"`
	TotalHits int64     `json:"total_hits" yaml:"total_hits"`
	ResetTime time.Time `json:"reset_time" yaml:"reset_time"`
}

// Expired reports whether the window has closed at now.
func (r RateLimitRecord) Expired(now time.Time) bool {
	return !now.Before(r.ResetTime)
}

// Remaining returns the hits left under max, floored at zero.
func (r RateLimitRecord) Remaining(max int64) int64 {
	if r.TotalHits >= max {
		return 0
	}
	return max - r.TotalHits
}

// RateLimitQuery selects records for admin listing and reset.
type RateLimitQuery struct {
	All    bool
	Key    string
	Prefix string
}

func (q RateLimitQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

// Matches reports whether key falls inside the query. Used by backends that
// cannot push the filter down to the store.
func (q RateLimitQuery) Matches(key string) bool {
	if q.All {
		return true
	}
	if exact := strings.TrimSpace(q.Key); exact != "" {
		return key == exact
	}
	prefix := strings.TrimSpace(q.Prefix)
	return prefix != "" && strings.HasPrefix(key, prefix)
}

// UnixMillis converts a timestamp to the millisecond form stored by backends.
func UnixMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromUnixMillis is the inverse of UnixMillis.
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
