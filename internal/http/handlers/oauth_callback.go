package handlers

import (
	"errors"
	"net/http"
	"strings"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/oauth"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
	"github.com/dropDatabas3/leadbridge/internal/tenant"
)

// confirmPage: el callback suele completarse en un popup, una página mínima
// alcanza. Los clientes máquina sólo dependen del status code.
const confirmPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Conexión completada</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4em">
<h2>✓ Cuenta conectada</h2>
<p>Ya podés cerrar esta ventana.</p>
</body></html>`

// NewOAuthCallbackHandler es la entrada HTTP de la máquina de estados del
// callback. Mapea los errores tipados del service a la taxonomía estable.
func NewOAuthCallbackHandler(svc *oauth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "validation", "solo GET")
			return
		}
		q := r.URL.Query()

		req := oauth.CallbackRequest{
			Code:  strings.TrimSpace(q.Get("code")),
			State: strings.TrimSpace(q.Get("state")),
			Hints: tenant.Hints{
				LocationID: strings.TrimSpace(q.Get("locationId")),
				CompanyID:  firstNonEmpty(q.Get("companyId"), q.Get("agencyId")),
			},
			RequestMeta: requestMeta(r),
		}
		if c, err := r.Cookie(oauth.StateCookieName); err == nil {
			req.StateCookie = c.Value
		}

		res, err := svc.HandleCallback(r.Context(), req)
		if err != nil {
			writeCallbackError(w, r, err)
			return
		}

		logger.From(r.Context()).Info("callback completed",
			logger.InstallationID(res.Installation.ID),
			logger.Tenant(res.Installation.Tenant.String()),
		)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(confirmPage))
	}
}

func writeCallbackError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.From(r.Context())

	switch {
	case errors.Is(err, oauth.ErrMissingCode):
		httpx.WriteError(w, http.StatusBadRequest, "missing_code", "falta el parámetro code")

	case errors.Is(err, oauth.ErrInvalidState):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_state", "state inválido o expirado")

	case errors.Is(err, core.ErrCodeReplayed):
		httpx.WriteError(w, http.StatusConflict, "code_already_used", "el code ya fue canjeado")

	case errors.Is(err, oauth.ErrTenantUnresolved):
		// 202: accionable — reinstalar eligiendo tenant explícito.
		httpx.WriteError(w, http.StatusAccepted, "tenant_unresolved", "no se pudo determinar el tenant; reintente con locationId o companyId explícito")

	case errors.Is(err, oauth.ErrExchangeFailed):
		// El status/detalle del proveedor se pasa tal cual: la diferencia
		// entre bad grant y server error importa operacionalmente.
		var pErr *provider.Error
		if errors.As(err, &pErr) {
			httpx.WriteErrorDetail(w, pErr.Status, "exchange_failed", "el proveedor rechazó el exchange", string(pErr.Body))
			return
		}
		if errors.Is(err, provider.ErrUnavailable) {
			httpx.WriteError(w, http.StatusBadGateway, "exchange_failed", "proveedor inaccesible (transitorio)")
			return
		}
		httpx.WriteError(w, http.StatusBadGateway, "exchange_failed", "fallo el exchange")

	default:
		log.Error("callback failed", logger.Err(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "error interno")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
