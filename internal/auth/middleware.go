// Package auth resolves the calling owner from the request. The bearer
// token stands in for a real identity provider, which is outside this
// service; everything downstream only sees the owner id.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type ownerKey struct{}

// Middleware requires a bearer token and stores it on the request context
// as the owner id. Swapping in a real identity provider changes only this
// function; handlers keep reading the owner through Owner.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			unauthorized(w, "bearer token required")
			return
		}
		owner := strings.TrimSpace(token)
		if owner == "" {
			unauthorized(w, "empty bearer token")
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error": "` + reason + `"}`))
}

// Owner returns the owner id stored by Middleware. ok is false on requests
// that never passed through it.
func Owner(ctx context.Context) (owner string, ok bool) {
	owner, ok = ctx.Value(ownerKey{}).(string)
	return owner, ok
}
