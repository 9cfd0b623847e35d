package handler

import (
	"context"
	"net/http"

	"github.com/edumark/sheetscan/internal/api/response"
)

// Pinger is the liveness check the health handler runs against each backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
func NewHealthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{
			"status":   "ok",
			"database": "up",
			"cache":    "up",
		}
		healthy := true

		if err := db.Ping(r.Context()); err != nil {
			status["database"] = "down"
			healthy = false
		}
		if err := cache.Ping(r.Context()); err != nil {
			status["cache"] = "down"
			healthy = false
		}

		if !healthy {
			status["status"] = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
				"One or more backends are unreachable", status)
			return
		}
		response.JSON(w, status)
	}
}
