package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subtrack/subtrack/internal/core"
	"github.com/subtrack/subtrack/internal/core/limiter"
	"github.com/subtrack/subtrack/internal/core/store/memstore"
)

type downBackend struct {
	*memstore.Store
}

func (downBackend) IncrementRateLimit(context.Context, string, time.Time, time.Duration) (core.RateLimitRecord, error) {
	return core.RateLimitRecord{}, errors.New("store unavailable")
}

func newPolicy(t *testing.T, backend limiter.Backend, cfg limiter.PolicyConfig) *limiter.Policy {
	t.Helper()
	policy, err := limiter.NewPolicy(backend, cfg)
	require.NoError(t, err)
	return policy
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestKeyByIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", KeyByIP(req))

	req.RemoteAddr = "[::1]:5555"
	assert.Equal(t, "::1", KeyByIP(req))

	req.RemoteAddr = "10.0.0.2"
	assert.Equal(t, "10.0.0.2", KeyByIP(req))
}

func TestRateLimit_RejectsAfterCeiling(t *testing.T) {
	var auth limiter.PolicyConfig
	for _, cfg := range limiter.DefaultPolicyConfigs() {
		if cfg.Name == limiter.ClassAuth {
			auth = cfg
		}
	}
	handler := RateLimit(newPolicy(t, memstore.New(), auth))(okHandler())

	for i := 0; i < 5; i++ {
		rec := serve(handler, "10.0.0.1:1234")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header().Get(RateLimitLimitHeader))
	}

	rec := serve(handler, "10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0", rec.Header().Get(RateLimitRemainingHeader))
	assert.NotEmpty(t, rec.Header().Get(RetryAfterHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{
		"success":    false,
		"error":      "Too many authentication attempts, please try again later.",
		"retryAfter": "15 minutes",
	}, body)

	// a different client is counted separately
	rec = serve(handler, "10.0.0.2:1234")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_Headers(t *testing.T) {
	policy := newPolicy(t, memstore.New(), limiter.PolicyConfig{Name: "general", Window: time.Minute, Max: 3})

	rec := serve(RateLimit(policy)(okHandler()), "10.0.0.1:1")
	assert.Equal(t, "3", rec.Header().Get(RateLimitLimitHeader))
	assert.Equal(t, "2", rec.Header().Get(RateLimitRemainingHeader))
	assert.Equal(t, "60", rec.Header().Get(RateLimitResetHeader))

	rec = serve(RateLimit(policy, WithRateLimitHeaders(false))(okHandler()), "10.0.0.1:1")
	assert.Empty(t, rec.Header().Get(RateLimitLimitHeader))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	policy := newPolicy(t, downBackend{Store: memstore.New()}, limiter.PolicyConfig{Name: "auth", Window: time.Minute, Max: 1})
	handler := RateLimit(policy)(okHandler())

	for i := 0; i < 3; i++ {
		rec := serve(handler, "10.0.0.1:1")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_CustomKeyAndEmptyKey(t *testing.T) {
	policy := newPolicy(t, memstore.New(), limiter.PolicyConfig{Name: "users", Window: time.Minute, Max: 1})

	handler := RateLimit(policy, WithKeyFunc(func(r *http.Request) string {
		return r.Header.Get("X-User")
	}))(okHandler())

	for i := 0; i < 3; i++ {
		rec := serve(handler, "10.0.0.1:1")
		assert.Equal(t, http.StatusOK, rec.Code, "anonymous requests pass through")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimit_SkipSuccessfulRequests(t *testing.T) {
	backend := memstore.New()
	policy := newPolicy(t, backend, limiter.PolicyConfig{
		Name:                   "auth",
		Window:                 time.Minute,
		Max:                    2,
		SkipSuccessfulRequests: true,
	})

	status := http.StatusOK
	handler := RateLimit(policy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1").Code)
	}

	status = http.StatusUnauthorized
	assert.Equal(t, http.StatusUnauthorized, serve(handler, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(handler, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.1:1").Code)

	record, err := backend.GetRateLimit(context.Background(), "auth:10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(3), record.TotalHits)
}

func TestRateLimit_EmitsDecisionMetric(t *testing.T) {
	collector := setupTelemetry(t)
	policy := newPolicy(t, memstore.New(), limiter.PolicyConfig{Name: "general", Window: time.Minute, Max: 1})

	serve(RateLimit(policy)(okHandler()), "10.0.0.1:1")
	assert.Greater(t, collector.CountMetricsByName("rate_limit_decisions_total"), 0)
}

func TestRequireBearerToken(t *testing.T) {
	handler := RequireBearerToken("s3cret", nil)(okHandler())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/rate-limits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	RequireBearerToken("", nil)(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var rejected bool
	custom := RequireBearerToken("s3cret", func(w http.ResponseWriter, r *http.Request) {
		rejected = true
		w.WriteHeader(http.StatusTeapot)
	})(okHandler())
	rec = httptest.NewRecorder()
	custom.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, rejected)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, `Bearer realm="admin"`, rec.Header().Get("WWW-Authenticate"))
}
