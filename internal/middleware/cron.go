package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CronAuthMiddleware guards the scheduler endpoints with a shared secret. Only
// the bcrypt hash of the secret is configured on the server, so a leaked config
// does not leak the secret itself. With no hash configured the check is off
// and requests pass through, which is the local development setup.
func CronAuthMiddleware(secretHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secretHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			secret := strings.TrimPrefix(authHeader, "Bearer ")
			if err := bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
