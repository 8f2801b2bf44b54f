package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/shotsearch/internal/api/response"
)

// Recovery turns a handler panic into a 500. The chi request id, when set, is
// logged and echoed in X-Request-Id.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// net/http uses this to abort a response silently.
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			attrs := []any{
				"error", rec,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
			}
			reqID := chimw.GetReqID(r.Context())
			if reqID != "" {
				attrs = append(attrs, "request_id", reqID)
				w.Header().Set("X-Request-Id", reqID)
			}
			if prefix, ok := getKeyPrefix(r); ok {
				attrs = append(attrs, "key_prefix", prefix)
			}
			slog.Error("panic recovered", attrs...)
			response.Error(w, http.StatusInternalServerError, "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
