package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subtrack/subtrack/internal/core/limiter"
	"github.com/subtrack/subtrack/internal/metrics"
	"github.com/subtrack/subtrack/internal/observability"
)

// Rate limit disclosure headers
const (
	RateLimitLimitHeader     = "RateLimit-Limit"
	RateLimitRemainingHeader = "RateLimit-Remaining"
	RateLimitResetHeader     = "RateLimit-Reset"
	RetryAfterHeader         = "Retry-After"
)

// KeyFunc derives the client identity a request is counted against.
type KeyFunc func(r *http.Request) string

// KeyByIP keys on the remote address host. Mount ClientIP with the proxy
// addresses first when the server sits behind a proxy.
func KeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// RateLimitResponse is the 429 body.
type RateLimitResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter string `json:"retryAfter"`
}

type rateLimitOptions struct {
	keyFunc KeyFunc
	headers bool
	now     func() time.Time
}

// RateLimitOption configures RateLimit.
type RateLimitOption func(*rateLimitOptions)

// WithKeyFunc replaces KeyByIP.
func WithKeyFunc(fn KeyFunc) RateLimitOption {
	return func(o *rateLimitOptions) {
		if fn != nil {
			o.keyFunc = fn
		}
	}
}

// WithRateLimitHeaders toggles the RateLimit-* response headers.
func WithRateLimitHeaders(enabled bool) RateLimitOption {
	return func(o *rateLimitOptions) {
		o.headers = enabled
	}
}

// RateLimit enforces policy in front of the wrapped handler. Requests over the
// ceiling get a 429; store failures never block.
func RateLimit(policy *limiter.Policy, opts ...RateLimitOption) func(http.Handler) http.Handler {
	options := rateLimitOptions{
		keyFunc: KeyByIP,
		headers: true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	cfg := policy.Config()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := options.keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision := policy.Check(r.Context(), key)
			metrics.RecordRateLimitDecision(cfg.Name, decision.Allowed, decision.Degraded)

			resetIn := secondsUntil(decision.ResetTime, options.now())
			if options.headers {
				w.Header().Set(RateLimitLimitHeader, strconv.Itoa(decision.Limit))
				w.Header().Set(RateLimitRemainingHeader, strconv.Itoa(decision.Remaining))
				w.Header().Set(RateLimitResetHeader, strconv.FormatInt(resetIn, 10))
			}

			if !decision.Allowed {
				if observability.ServerLogger != nil {
					observability.ServerLogger.Warn("Rate limit exceeded",
						zap.String("policy", cfg.Name),
						zap.String("key", key),
						zap.String("path", r.URL.Path),
						zap.String("request_id", GetRequestID(r.Context())))
				}

				w.Header().Set(RetryAfterHeader, strconv.FormatInt(resetIn, 10))
				writeRateLimitResponse(w, cfg)
				return
			}

			if !cfg.SkipSuccessfulRequests {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			if wrapped.statusCode < http.StatusBadRequest {
				policy.Refund(r.Context(), key)
			}
		})
	}
}

func writeRateLimitResponse(w http.ResponseWriter, cfg limiter.PolicyConfig) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(RateLimitResponse{
		Success:    false,
		Error:      cfg.Message,
		RetryAfter: cfg.RetryAfter(),
	})
}

func secondsUntil(t time.Time, now time.Time) int64 {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
