package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"linqyard/internal/models"

	"github.com/gorilla/mux"
)

// Middleware authenticates requests that carry a bearer token. Requests
// without an Authorization header continue anonymously; a malformed or
// invalid token is rejected with 401. A nil verifier leaves every request
// anonymous.
func Middleware(v *Verifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || v == nil {
				next.ServeHTTP(w, r)
				return
			}

			const prefix = "Bearer "
			if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
				writeUnauthorized(w, "Authorization header must use the Bearer scheme")
				return
			}

			principal, err := v.Verify(strings.TrimSpace(authHeader[len(prefix):]))
			if err != nil {
				slog.Debug("Rejected bearer token", "path", r.URL.Path, "error", err)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			writeUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="linqyard"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, models.ErrorCodeUnauthorized))
}
