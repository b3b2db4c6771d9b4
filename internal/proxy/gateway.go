// Package proxy implementa el reverse proxy autenticado hacia la API del
// proveedor. El caller nunca ve el access token: el gateway lo inyecta.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/metrics"
	"github.com/dropDatabas3/leadbridge/internal/oauth"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

var (
	ErrEndpointDenied = errors.New("endpoint not allowed")
	ErrRefreshFailed  = errors.New("token refresh failed")
)

// Forwarder es la porción del cliente del proveedor que usa el gateway.
type Forwarder interface {
	Do(ctx context.Context, method, endpoint, accessToken string, body []byte, headers map[string]string) (*provider.Response, error)
}

type Gateway struct {
	repo        core.Repository
	tokens      *oauth.TokenManager
	forwarder   Forwarder
	allowList   *AllowList
	refreshSkew time.Duration
	metrics     *metrics.Metrics
}

func NewGateway(repo core.Repository, tm *oauth.TokenManager, f Forwarder, al *AllowList, skew time.Duration, m *metrics.Metrics) *Gateway {
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	return &Gateway{repo: repo, tokens: tm, forwarder: f, allowList: al, refreshSkew: skew, metrics: m}
}

// Request es una llamada proxied. El tenant viene de la credencial de
// servicio del caller, nunca del body.
type Request struct {
	Tenant   core.Tenant
	Method   string
	Endpoint string
	Body     []byte
	Headers  map[string]string
	Meta     map[string]any
}

// Forward ejecuta el contrato del gateway: allow-list primero (403 sin
// llamada saliente), carga de instalación, refresh si el token está por
// vencer, forward verbatim, y un audit entry por llamada — nunca el token.
func (g *Gateway) Forward(ctx context.Context, req Request) (*provider.Response, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("proxy.gateway"),
		logger.Tenant(req.Tenant.String()),
		logger.Endpoint(req.Endpoint),
	)

	if !g.allowList.Allowed(req.Endpoint) {
		g.count("denied")
		log.Warn("endpoint denied by allow-list")
		_ = g.repo.AppendAudit(ctx, core.AuditEntry{
			EventType:   core.AuditAPICall,
			EventData:   map[string]any{"method": req.Method, "endpoint": req.Endpoint, "status": http.StatusForbidden, "denied": true},
			RequestMeta: req.Meta,
		})
		return nil, ErrEndpointDenied
	}

	ins, err := g.repo.GetInstallation(ctx, req.Tenant)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			g.count("not_found")
		}
		return nil, err
	}

	accessToken, err := g.tokens.AccessToken(ctx, ins, g.refreshSkew)
	if err != nil {
		// Nunca se reintenta con el token viejo: el request original aborta.
		g.count("auth_failed")
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	resp, err := g.forwarder.Do(ctx, req.Method, req.Endpoint, accessToken, req.Body, req.Headers)
	if err != nil {
		_ = g.repo.AppendAudit(ctx, core.AuditEntry{
			InstallationID: ins.ID,
			EventType:      core.AuditAPICall,
			EventData:      map[string]any{"method": req.Method, "endpoint": req.Endpoint, "error": err.Error()},
			RequestMeta:    req.Meta,
		})
		return nil, err
	}

	g.count("forwarded")
	_ = g.repo.AppendAudit(ctx, core.AuditEntry{
		InstallationID: ins.ID,
		EventType:      core.AuditAPICall,
		EventData:      map[string]any{"method": req.Method, "endpoint": req.Endpoint, "status": resp.Status},
		RequestMeta:    req.Meta,
	})
	log.Info("request forwarded", logger.Status(resp.Status))
	return resp, nil
}

func (g *Gateway) count(result string) {
	if g.metrics != nil {
		g.metrics.ProxyCalls.WithLabelValues(result).Inc()
	}
}
