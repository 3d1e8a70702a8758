package middleware

import (
	"net/http"
	"strings"

	"teamboard-backend/pkg/config"

	"github.com/go-chi/cors"
)

// CORS builds the CORS middleware. Development allows every origin;
// otherwise ALLOWED_ORIGINS is used, where "https://*.example.com" style
// entries match by prefix and suffix.
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	corsOptions := cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
			http.MethodPatch,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Requested-With",
			"X-Telegram-Init-Data",
			"Cache-Control",
		},
		ExposedHeaders: []string{
			"Link",
			"X-Total-Count",
			"X-Request-Id",
		},
		MaxAge: 300,
	}

	switch {
	case cfg.IsDevelopment() || contains(cfg.AllowedOrigins, "*") || len(cfg.AllowedOrigins) == 0:
		// credentials cannot be combined with "*"
		corsOptions.AllowedOrigins = []string{"*"}
		corsOptions.AllowCredentials = false
	default:
		allowed := cfg.AllowedOrigins
		corsOptions.AllowOriginFunc = func(r *http.Request, origin string) bool {
			return isOriginAllowed(origin, allowed)
		}
		corsOptions.AllowCredentials = true
	}

	return cors.Handler(corsOptions)
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" || len(allowedOrigins) == 0 {
		return false
	}
	if contains(allowedOrigins, "*") || contains(allowedOrigins, origin) {
		return true
	}

	for _, allowed := range allowedOrigins {
		prefix, suffix, ok := strings.Cut(allowed, "*")
		if ok && strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) &&
			len(origin) >= len(prefix)+len(suffix) {
			return true
		}
	}
	return false
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
