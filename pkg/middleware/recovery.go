package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"teamboard-backend/pkg/config"
	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/utils"
)

// Recovery turns a panic into a 500 envelope. Development responses carry
// the panic value and stack.
func Recovery(cfg *config.Config, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := debug.Stack()
				log.WithContext(r.Context()).Error("panic recovered",
					"panic", rec, "path", r.URL.Path, "stack", string(stack))

				if cfg.IsDevelopment() {
					utils.WriteErrorResponseWithCode(w, r, http.StatusInternalServerError,
						"INTERNAL_SERVER_ERROR", fmt.Sprintf("Internal server error: %v", rec), string(stack))
					return
				}
				utils.WriteInternalServerErrorResponse(w, r, "Internal server error occurred")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
