package middleware

import (
	"net/http"
	"time"

	"teamboard-backend/pkg/logger"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one structured line per request
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// the auth middleware runs further down the chain, so the
			// identity is read from a holder it fills in
			holder := &identityHolder{}
			r = r.WithContext(withIdentityHolder(r.Context(), holder))

			next.ServeHTTP(ww, r)

			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"ip", getClientIP(r),
				"user_agent", r.UserAgent(),
			}
			if holder.userID != 0 {
				fields = append(fields, "user_id", holder.userID)
			}

			reqLog := log.WithContext(r.Context())
			switch status := ww.Status(); {
			case status >= 500:
				reqLog.Error("request completed", fields...)
			case status >= 400:
				reqLog.Warn("request completed", fields...)
			default:
				reqLog.Info("request completed", fields...)
			}
		})
	}
}

// getClientIP prefers proxy headers over RemoteAddr
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
