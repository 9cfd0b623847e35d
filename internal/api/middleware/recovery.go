package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/edumark/sheetscan/internal/api/response"
)

// Recovery turns a handler panic into a 500 with the standard error
// envelope. Scanned uploads are operator-supplied bytes, so a decode bug
// must not take the whole server down with it.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
