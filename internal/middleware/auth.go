package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kbekoe/databroker/internal/auth"
)

type contextKey string

const AdminContextKey contextKey = "admin"

const RoleAdmin = "admin"

// AdminAuthMiddleware admits only bearer tokens carrying the admin role. The
// admin id from the token is placed on the request context.
func AdminAuthMiddleware(tm *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			adminID, role, err := tm.ParseToken(tokenStr)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if role != RoleAdmin {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), AdminContextKey, adminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
