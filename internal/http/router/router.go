package router

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/leadbridge/internal/http/middlewares"
	"github.com/dropDatabas3/leadbridge/internal/rate"
	"github.com/dropDatabas3/leadbridge/internal/security/svcauth"
)

// RouterDeps agrupa los handlers ya construidos y las piezas transversales.
type RouterDeps struct {
	OAuthStart      stdhttp.Handler
	OAuthCallback   stdhttp.Handler
	OAuthDisconnect stdhttp.Handler
	Proxy           stdhttp.Handler
	AdminList       stdhttp.Handler
	Health          stdhttp.Handler

	ServiceAuth *svcauth.Verifier
	StartLimit  rate.Limiter // opcional
	Registry    *prometheus.Registry
}

// NewRouter arma el árbol de rutas. request-id, logging y recover envuelven
// todo; el service auth sólo las rutas internas.
func NewRouter(d RouterDeps) stdhttp.Handler {
	r := chi.NewRouter()

	// Público (browser-facing)
	r.Group(func(r chi.Router) {
		if d.StartLimit != nil {
			r.With(toChi(middlewares.WithRateLimit(d.StartLimit))).Get("/oauth/start", d.OAuthStart.ServeHTTP)
		} else {
			r.Get("/oauth/start", d.OAuthStart.ServeHTTP)
		}
		r.Get("/oauth/callback", d.OAuthCallback.ServeHTTP)
	})

	// Interno (service-to-service)
	r.Group(func(r chi.Router) {
		r.Use(toChi(middlewares.WithServiceAuth(d.ServiceAuth)))
		r.Post("/proxy/hl", d.Proxy.ServeHTTP)
		r.Get("/admin/installations", d.AdminList.ServeHTTP)
		r.Post("/oauth/disconnect", d.OAuthDisconnect.ServeHTTP)
	})

	// Operacional
	r.Get("/health", d.Health.ServeHTTP)
	if d.Registry != nil {
		r.Method(stdhttp.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	return middlewares.Chain(r,
		middlewares.WithRequestID(),
		middlewares.WithLogging(),
		middlewares.WithRecover(),
	)
}

// toChi adapta nuestro Middleware al tipo que espera chi.
func toChi(m middlewares.Middleware) func(stdhttp.Handler) stdhttp.Handler {
	return func(next stdhttp.Handler) stdhttp.Handler { return m(next) }
}
