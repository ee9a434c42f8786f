package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/sentinel-gate/internal/httputil"
)

// Middleware returns a chi middleware that authenticates requests via Bearer token.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <api-key>")
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <api-key>")
				return
			}
			if token == "" {
				httputil.WriteAuthError(w, reqID, "Empty API key")
				return
			}
			if _, _, ok := ParseKey(token); !ok {
				httputil.WriteAuthError(w, reqID, "Malformed API key. Sentinel keys look like sntl-<env>-<secret>")
				return
			}

			meta, err := store.Lookup(r.Context(), HashKey(token))
			if err != nil {
				slog.Error("key lookup failed", "error", err, "key_prefix", KeyPrefix(token))
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}
			if meta == nil {
				slog.Warn("auth failed: key not found", "key_prefix", KeyPrefix(token))
				httputil.WriteAuthError(w, reqID, "Invalid API key")
				return
			}

			info := &AuthInfo{
				KeyID:     meta.ID,
				KeyPrefix: KeyPrefix(token),
				Owner:     meta.Owner,
				Scopes:    meta.Scopes,
				RPMLimit:  meta.RPMLimit,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), info)))
		})
	}
}

// RequireScope rejects authenticated callers whose key lacks scope. Requests
// without auth info pass, so routes work with authentication switched off.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info, ok := AuthFromContext(r.Context()); ok && !info.Allows(scope) {
				httputil.WriteForbiddenError(w, w.Header().Get("X-Request-ID"), "API key lacks scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
