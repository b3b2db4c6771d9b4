package middlewares

import (
	"net"
	"net/http"
	"strconv"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/rate"
)

// WithRateLimit limita por IP del cliente usando el limiter inyectado.
// Ante un error del backend de rate limiting el request pasa (fail open:
// preferimos servir a bloquear por una falla de Redis).
func WithRateLimit(l rate.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			res, err := l.Allow(r.Context(), ip)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter error", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
				httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "demasiados requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
