package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ServiceAuth returns middleware that validates the service key carried
// in the Authorization header (Bearer scheme) or the X-Service-Key
// header against a bcrypt hash. The transport gateway in front of this
// server holds the plaintext key. If keyHash is empty, authentication
// is disabled.
func ServiceAuth(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := extractServiceKey(r)
			if key == "" {
				writeUnauthorized(w, "missing service key")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				writeUnauthorized(w, "invalid service key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractServiceKey looks for the key in the Authorization header
// (Bearer scheme) or in the X-Service-Key header.
func extractServiceKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-Service-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
