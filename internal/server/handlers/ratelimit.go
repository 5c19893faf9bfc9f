package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/subtrack/subtrack/internal/core"
	"github.com/subtrack/subtrack/internal/core/limiter"
	apperrors "github.com/subtrack/subtrack/internal/errors"
	"github.com/subtrack/subtrack/internal/metrics"
)

// RateLimitListResponse is returned by the admin list endpoint.
type RateLimitListResponse struct {
	Records []core.RateLimitRecord `json:"records"`
	Count   int                    `json:"count"`
}

// RateLimitDeleteResponse reports how many records a reset removed.
type RateLimitDeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

// RateLimitCleanupResponse reports how many expired records a sweep removed.
type RateLimitCleanupResponse struct {
	Removed int64 `json:"removed"`
}

// RateLimitAdmin serves inspection and reset of stored rate limit records.
// Store errors are reported, unlike on the request path.
type RateLimitAdmin struct {
	backend limiter.Backend
	now     func() time.Time
}

// NewRateLimitAdmin creates admin handlers over backend.
func NewRateLimitAdmin(backend limiter.Backend) *RateLimitAdmin {
	return &RateLimitAdmin{backend: backend, now: time.Now}
}

// List handles GET /admin/rate-limits?prefix=
func (a *RateLimitAdmin) List(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))
	query := core.RateLimitQuery{All: prefix == "", Prefix: prefix}

	records, err := a.backend.ListRateLimits(r.Context(), query)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list rate limits"))
		return
	}

	writeJSON(w, http.StatusOK, RateLimitListResponse{Records: records, Count: len(records)})
}

// Get handles GET /admin/rate-limits/{key}. Expired records are removed and
// reported as not found.
func (a *RateLimitAdmin) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	now := a.now()
	record, err := a.backend.GetRateLimit(r.Context(), key)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to fetch rate limit"))
		return
	}
	if record != nil && record.Expired(now) {
		_ = a.backend.DeleteExpiredRateLimit(r.Context(), key, now)
		record = nil
	}
	if record == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("no live rate limit for key"))
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Delete handles DELETE /admin/rate-limits/{key}.
func (a *RateLimitAdmin) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	deleted, err := a.backend.ResetRateLimits(r.Context(), core.RateLimitQuery{Key: key})
	metrics.RecordOperation("rate_limit_delete", err == nil)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to reset rate limit"))
		return
	}

	writeJSON(w, http.StatusOK, RateLimitDeleteResponse{Deleted: deleted})
}

// Cleanup handles POST /admin/rate-limits/cleanup.
func (a *RateLimitAdmin) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := a.backend.CleanupRateLimits(r.Context(), a.now())
	metrics.RecordOperation("rate_limit_cleanup", err == nil)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to clean up rate limits"))
		return
	}
	metrics.RecordRateLimitCleanup(removed)

	writeJSON(w, http.StatusOK, RateLimitCleanupResponse{Removed: removed})
}

func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "key")
	key, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(key) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("rate limit key is required"))
		return "", false
	}
	return strings.TrimSpace(key), true
}

// PolicyStatus is one route class as seen by the calling client.
type PolicyStatus struct {
	Policy    string     `json:"policy"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	Window    string     `json:"window"`
	ResetTime *time.Time `json:"reset_time,omitempty"`
}

// RateLimitStatusResponse lists the caller's standing under every policy.
type RateLimitStatusResponse struct {
	Key      string         `json:"key"`
	Policies []PolicyStatus `json:"policies"`
}

// RateLimitStatus reports the caller's remaining allowance under each policy
// without counting the request.
func RateLimitStatus(policies []*limiter.Policy, keyFunc func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := keyFunc(r)
		response := RateLimitStatusResponse{Key: key, Policies: make([]PolicyStatus, 0, len(policies))}

		for _, policy := range policies {
			cfg := policy.Config()
			status := PolicyStatus{
				Policy:    cfg.Name,
				Limit:     cfg.Max,
				Remaining: cfg.Max,
				Window:    cfg.RetryAfter(),
			}
			if record, ok := policy.Store().Get(r.Context(), key); ok {
				status.Remaining = int(record.Remaining(int64(cfg.Max)))
				reset := record.ResetTime
				status.ResetTime = &reset
			}
			response.Policies = append(response.Policies, status)
		}

		writeJSON(w, http.StatusOK, response)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
