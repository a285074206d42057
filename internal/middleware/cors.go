// Package middleware provides HTTP middleware for the API surface.
package middleware

import (
	"net/http"
	"strings"

	"github.com/ashureev/hostpilot/internal/identity"
)

// CORS returns middleware that answers preflight requests and sets the
// response headers for the given origins. "*" allows any origin but never
// grants credentials; only an exact origin match does.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowedHeaders := strings.Join([]string{"Content-Type", identity.SessionHeaderName}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if wildcard, exact := matchOrigin(allowedOrigins, origin); wildcard || exact {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				if exact {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matchOrigin(allowed []string, origin string) (wildcard, exact bool) {
	for _, o := range allowed {
		switch {
		case o == "*":
			wildcard = true
		case o == origin && origin != "":
			exact = true
		}
	}
	return wildcard, exact
}
