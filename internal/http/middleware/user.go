package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/davidbz/tally/internal/observability"
)

// UserHeader carries the authenticated user id, set by the upstream auth proxy.
const UserHeader = "X-User-ID"

// RequireUser rejects requests without a user id and puts it into the context.
func RequireUser() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserHeader))
			if userID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "missing " + UserHeader + " header",
					"code":  "UNAUTHORIZED",
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(observability.WithUserID(r.Context(), userID)))
		})
	}
}
