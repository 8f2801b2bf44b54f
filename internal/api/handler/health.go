package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/shotsearch/internal/api/response"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /health.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"database": "ok", "cache": "ok"}
		healthy := true
		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "unavailable"
			healthy = false
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "unavailable"
			healthy = false
		}

		if !healthy {
			response.Status(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": checks})
			return
		}
		response.JSON(w, map[string]any{"status": "ok", "checks": checks})
	}
}
