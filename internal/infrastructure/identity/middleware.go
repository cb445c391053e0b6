// Package identity extracts the caller identity set by the upstream
// auth gateway. Authentication itself happens outside this service;
// user ids are opaque here.
package identity

import (
	"context"
	"net/http"
	"strconv"
)

const headerUserID = "X-User-ID"

type contextKey struct{}

// Middleware requires the gateway-set user header on every request and
// stores the parsed caller id on the context.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(headerUserID)
			if raw == "" {
				http.Error(w, "missing caller identity", http.StatusUnauthorized)
				return
			}
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				http.Error(w, "invalid caller identity", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), contextKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the caller id stored by Middleware.
func FromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(contextKey{}).(int64)
	return userID, ok
}
