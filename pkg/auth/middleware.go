package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mkonda/poolguard/pkg/auditlog"
	"github.com/mkonda/poolguard/pkg/autherr"
	"github.com/mkonda/poolguard/pkg/metrics"
)

// audit records a decision when a trail is attached.
func (a *Authenticator) audit(e auditlog.Entry) {
	if a.trail != nil {
		a.trail.Record(e)
	}
}

// Middleware authenticates every request before the wrapped handler runs.
// On success the Principal is stored in the request context so handlers
// and nested middleware never re-run the pipeline. On failure the client
// receives a generic 401 body; the failure detail goes to the logs only.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); ok {
			// Already authenticated by an outer instance.
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		principal, err := a.Authenticate(r.Context(), r.Header)
		elapsed := time.Since(start)
		if err != nil {
			kind := autherr.Kind(err)
			metrics.AuthFailure(kind)
			slog.Warn("Authentication failed",
				"kind", kind,
				"error", err.Error(),
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr)
			a.audit(auditlog.Entry{
				Result:     "deny",
				Kind:       kind,
				Path:       r.URL.Path,
				RemoteAddr: r.RemoteAddr,
				RequestID:  middleware.GetReqID(r.Context()),
				DurationMS: elapsed.Milliseconds(),
			})
			writeUnauthorized(w)
			return
		}

		metrics.AuthSuccess()
		slog.Debug("Request authenticated",
			"subject", principal.Subject,
			"token_use", principal.TokenUse,
			"path", r.URL.Path)
		a.audit(auditlog.Entry{
			Result:     "allow",
			Subject:    principal.Subject,
			TokenUse:   principal.TokenUse,
			ClientID:   principal.ClientID,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
			RequestID:  middleware.GetReqID(r.Context()),
			DurationMS: elapsed.Milliseconds(),
		})

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// writeUnauthorized sends the uniform rejection response. The body never
// varies by failure kind so callers cannot probe the validation stages.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)

	if err := json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"}); err != nil {
		slog.Error("Failed to write response body", "error", err)
	}
}
