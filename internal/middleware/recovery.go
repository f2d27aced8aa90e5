package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery recovers from panics raised while rendering a chart (a
// driver call into a crashed or misbehaving page should never take the
// gateway process down) and returns 500.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"request_id", GetRequestID(r.Context()),
						"path", r.URL.Path,
						"method", r.Method,
					)

					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Request-ID", GetRequestID(r.Context()))
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"status":     "error",
						"message":    "internal server error",
						"request_id": GetRequestID(r.Context()),
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
