package middlewares

import (
	"net/http"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
)

// WithRecover convierte un panic en un 500 genérico. El detalle queda sólo en
// los logs del server, nunca en la respuesta.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic recovered", logger.Any("panic", rec))
					httpx.WriteError(w, http.StatusInternalServerError, "internal", "error interno")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
