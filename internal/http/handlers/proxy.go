package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/http/middlewares"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/proxy"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

type proxyRequest struct {
	Method   string            `json:"method"`
	Endpoint string            `json:"endpoint"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// NewProxyHandler atiende POST /proxy/hl. La identidad del tenant viene del
// token de servicio del caller (claims en el contexto), nunca del body.
func NewProxyHandler(gw *proxy.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "validation", "solo POST")
			return
		}

		claims := middlewares.GetServiceClaims(r.Context())
		if claims == nil || claims.Tenant.IsZero() {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "el token de servicio no autoriza ningún tenant")
			return
		}

		var req proxyRequest
		if !readStrictJSON(w, r, &req) {
			return
		}
		method := strings.ToUpper(strings.TrimSpace(req.Method))
		if !allowedMethods[method] {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "method no soportado")
			return
		}
		if strings.TrimSpace(req.Endpoint) == "" {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "se requiere endpoint")
			return
		}

		resp, err := gw.Forward(r.Context(), proxy.Request{
			Tenant:   claims.Tenant,
			Method:   method,
			Endpoint: req.Endpoint,
			Body:     req.Data,
			Headers:  req.Headers,
			Meta:     requestMeta(r),
		})
		if err != nil {
			writeProxyError(w, r, err)
			return
		}

		// Respuesta del proveedor verbatim: status y body sin tocar.
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	}
}

func writeProxyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, proxy.ErrEndpointDenied):
		httpx.WriteError(w, http.StatusForbidden, "endpoint_denied", "endpoint fuera del allow-list")
	case errors.Is(err, core.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "no hay instalación activa para ese tenant")
	case errors.Is(err, proxy.ErrRefreshFailed):
		httpx.WriteError(w, http.StatusUnauthorized, "refresh_failed", "no se pudo refrescar el token del tenant")
	case errors.Is(err, provider.ErrUnavailable):
		httpx.WriteError(w, http.StatusBadGateway, "upstream", "proveedor inaccesible (transitorio)")
	default:
		logger.From(r.Context()).Error("proxy forward failed", logger.Err(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "error interno")
	}
}
