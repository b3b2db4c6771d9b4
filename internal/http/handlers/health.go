package handlers

import (
	"context"
	"net/http"
	"time"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/security/secretbox"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

// NewHealthHandler: liveness + ping del store. Degradado devuelve 503 con el
// detalle por dependencia.
func NewHealthHandler(repo core.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{
			"secretbox": "ok",
			"store":     "ok",
		}
		status := http.StatusOK

		if !secretbox.Ready() {
			checks["secretbox"] = "master key not loaded"
			status = http.StatusServiceUnavailable
		}
		if err := repo.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		httpx.WriteJSON(w, status, map[string]any{
			"status": overall,
			"checks": checks,
		})
	}
}
