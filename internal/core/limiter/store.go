package limiter

import (
	"context"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/subtrack/subtrack/internal/core"
	"github.com/subtrack/subtrack/internal/observability"
)

// DefaultStoreTimeout bounds every backend round trip.
const DefaultStoreTimeout = 2 * time.Second

// Result is the outcome of Increment. Degraded is set when the backend failed
// and Record is the synthetic fail-open value; Err carries the cause.
type Result struct {
	Record   core.RateLimitRecord
	Degraded bool
	Err      error
}

// Store is a view of a Backend bound to one namespace and window. It never
// returns backend errors to callers.
type Store struct {
	backend   Backend
	namespace string
	window    time.Duration
	timeout   time.Duration
	clock     func() time.Time
	logger    *logging.Logger
	onFailure func(op string, err error)

	logLimit rate.Sometimes
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTimeout sets the per-operation backend timeout.
func WithTimeout(timeout time.Duration) StoreOption {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for swallowed backend failures.
func WithLogger(logger *logging.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithFailureHook is called once per swallowed backend failure.
func WithFailureHook(fn func(op string, err error)) StoreOption {
	return func(s *Store) {
		s.onFailure = fn
	}
}

// NewStore binds backend to namespace. Keys passed to Store methods are
// stored as "namespace:key".
func NewStore(backend Backend, namespace string, window time.Duration, opts ...StoreOption) *Store {
	s := &Store{
		backend:   backend,
		namespace: strings.TrimSpace(namespace),
		window:    window,
		timeout:   DefaultStoreTimeout,
		clock:     time.Now,
		logLimit:  rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the key prefix owned by this store.
func (s *Store) Namespace() string {
	return s.namespace
}

// Window returns the fixed window length.
func (s *Store) Window() time.Duration {
	return s.window
}

// Key returns the backend key for a client key.
func (s *Store) Key(key string) string {
	key = strings.TrimSpace(key)
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

// Increment counts one hit for key. On backend failure it allows the request
// by returning a fresh one-hit window with Degraded set.
func (s *Store) Increment(ctx context.Context, key string) Result {
	now := s.clock()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	record, err := s.backend.IncrementRateLimit(ctx, s.Key(key), now, s.window)
	if err != nil {
		s.failed("increment", key, err)
		return Result{
			Record: core.RateLimitRecord{
				Key:       s.Key(key),
				TotalHits: 1,
				ResetTime: now.Add(s.window).UTC(),
			},
			Degraded: true,
			Err:      err,
		}
	}
	return Result{Record: record}
}

// Decrement refunds one hit. Absent, expired or zero records are left alone.
func (s *Store) Decrement(ctx context.Context, key string) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.backend.DecrementRateLimit(ctx, s.Key(key), s.clock()); err != nil {
		s.failed("decrement", key, err)
	}
}

// ResetKey deletes the record for key regardless of expiry.
func (s *Store) ResetKey(ctx context.Context, key string) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.backend.DeleteRateLimit(ctx, s.Key(key)); err != nil {
		s.failed("reset", key, err)
	}
}

// Get returns the live record for key. An expired record is deleted and
// reported absent, as is any backend failure.
func (s *Store) Get(ctx context.Context, key string) (core.RateLimitRecord, bool) {
	now := s.clock()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	record, err := s.backend.GetRateLimit(ctx, s.Key(key))
	if err != nil {
		s.failed("get", key, err)
		return core.RateLimitRecord{}, false
	}
	if record == nil {
		return core.RateLimitRecord{}, false
	}
	if record.Expired(now) {
		if err := s.backend.DeleteExpiredRateLimit(ctx, record.Key, now); err != nil {
			s.failed("get", key, err)
		}
		return core.RateLimitRecord{}, false
	}
	return *record, true
}

// Cleanup deletes every expired record in the backend, not only this
// namespace. It returns the number removed, or zero on failure.
func (s *Store) Cleanup(ctx context.Context) int64 {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	removed, err := s.backend.CleanupRateLimits(ctx, s.clock())
	if err != nil {
		s.failed("cleanup", "", err)
		return 0
	}
	return removed
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) failed(op, key string, err error) {
	if s.onFailure != nil {
		s.onFailure(op, err)
	}

	logger := s.logger
	if logger == nil {
		logger = observability.ServerLogger
	}
	if logger == nil {
		return
	}
	s.logLimit.Do(func() {
		logger.Warn("Rate limit store unavailable, failing open",
			zap.String("operation", op),
			zap.String("namespace", s.namespace),
			zap.String("key", key),
			zap.Error(err))
	})
}
