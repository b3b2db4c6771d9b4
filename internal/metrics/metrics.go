package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa los contadores operacionales del gateway. Se crea una sola
// vez al inicio del proceso y se inyecta; no hay estado global.
type Metrics struct {
	Installs       *prometheus.CounterVec
	TokenRefreshes *prometheus.CounterVec
	ProxyCalls     *prometheus.CounterVec
	ReplayRejects  *prometheus.CounterVec
	ResolverRuns   *prometheus.CounterVec
	ExchangeErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadbridge_installs_total",
			Help: "Instalaciones OAuth completadas, por resultado (created|updated).",
		}, []string{"result"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadbridge_token_refreshes_total",
			Help: "Refreshes de token, por origen (proxy|sweep) y resultado (ok|error).",
		}, []string{"source", "result"}),
		ProxyCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadbridge_proxy_calls_total",
			Help: "Llamadas al proxy, por resultado (forwarded|denied|not_found|auth_failed).",
		}, []string{"result"}),
		ReplayRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadbridge_replay_rejects_total",
			Help: "Rechazos del replay guard, por tipo (state|code).",
		}, []string{"kind"}),
		ResolverRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadbridge_tenant_resolver_total",
			Help: "Resoluciones de tenant, por resultado (hint|strategy|jwt|unresolved).",
		}, []string{"result"}),
		ExchangeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadbridge_exchange_errors_total",
			Help: "Errores del token endpoint del proveedor en el callback.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Installs, m.TokenRefreshes, m.ProxyCalls, m.ReplayRejects, m.ResolverRuns, m.ExchangeErrors,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	return m
}

// NewNop devuelve métricas sobre un registry descartable, para tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
