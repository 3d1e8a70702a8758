package middleware

import (
	"net/http"
	"strings"
)

// Normalize cleans up requests that came through a proxy: it trims
// whitespace around the path and restores scheme and host from the
// X-Forwarded-* headers.
func Normalize() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := r.URL.Path; strings.TrimSpace(p) != p {
				r.URL.Path = strings.TrimSpace(p)
			}

			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				r.URL.Scheme = proto
			}
			if host := r.Header.Get("X-Forwarded-Host"); host != "" {
				r.Host = host
			}
			next.ServeHTTP(w, r)
		})
	}
}
