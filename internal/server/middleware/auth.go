package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"
)

// RequireBearerToken rejects requests whose Authorization header does not
// carry token. An empty token rejects everything. reject writes the 401
// body; nil writes a bare UNAUTHORIZED envelope.
func RequireBearerToken(token string, reject http.HandlerFunc) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	if reject == nil {
		reject = func(w http.ResponseWriter, r *http.Request) {
			envelope := errors.NewErrorEnvelope("UNAUTHORIZED", "missing or invalid bearer token").
				WithCorrelationID(GetRequestID(r.Context()))
			writeErrorResponse(w, envelope, http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || len(expected) == 0 ||
				subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
