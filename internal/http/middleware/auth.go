package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wolfman30/medicarex-booking/internal/access"
)

// Authenticate resolves the bearer token into an access.Caller and stores it
// on the request context. Requests without a valid token get 401.
func Authenticate(resolver access.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}
			caller, err := resolver.Resolve(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(access.WithCaller(r.Context(), caller)))
		})
	}
}

// RequireRole rejects callers whose role is not in roles with 403. It must run
// after Authenticate.
func RequireRole(roles ...access.Role) func(http.Handler) http.Handler {
	allowed := make(map[access.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := access.CallerFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "no caller")
				return
			}
			if !allowed[caller.Role] {
				writeError(w, http.StatusForbidden, "forbidden", "role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
