package handlers

import (
	"net/http"
	"strings"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/oauth"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
)

// NewOAuthStartHandler emite el state y redirige al authorize del proveedor.
// Con Accept: application/json o ?format=json devuelve la URL en el body en
// lugar de redirigir (para clientes que abren el popup ellos mismos).
func NewOAuthStartHandler(svc *oauth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "validation", "solo GET")
			return
		}

		res, err := svc.StartAuthorization(r.Context())
		if err != nil {
			logger.From(r.Context()).Error("start authorization failed", logger.Err(err))
			httpx.WriteError(w, http.StatusInternalServerError, "persistence", "no se pudo emitir el state")
			return
		}

		if res.CookieValue != "" {
			http.SetCookie(w, &http.Cookie{
				Name:     oauth.StateCookieName,
				Value:    res.CookieValue,
				Path:     "/oauth",
				MaxAge:   res.CookieMaxAge,
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}

		wantsJSON := r.URL.Query().Get("format") == "json" ||
			strings.Contains(r.Header.Get("Accept"), "application/json")
		if wantsJSON {
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"authorize_url": res.AuthorizeURL})
			return
		}
		http.Redirect(w, r, res.AuthorizeURL, http.StatusFound)
	}
}
