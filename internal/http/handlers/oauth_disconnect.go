package handlers

import (
	"errors"
	"net/http"
	"strings"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/oauth"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

type disconnectRequest struct {
	LocationID string `json:"locationId"`
	AgencyID   string `json:"agencyId"`
}

// NewOAuthDisconnectHandler marca la instalación como revocada (soft delete).
func NewOAuthDisconnectHandler(svc *oauth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "validation", "solo POST")
			return
		}

		var req disconnectRequest
		if !readStrictJSON(w, r, &req) {
			return
		}

		var tn core.Tenant
		switch {
		case strings.TrimSpace(req.LocationID) != "" && strings.TrimSpace(req.AgencyID) != "":
			httpx.WriteError(w, http.StatusBadRequest, "validation", "locationId y agencyId son excluyentes")
			return
		case strings.TrimSpace(req.LocationID) != "":
			tn = core.LocationTenant(strings.TrimSpace(req.LocationID))
		case strings.TrimSpace(req.AgencyID) != "":
			tn = core.AgencyTenant(strings.TrimSpace(req.AgencyID))
		default:
			httpx.WriteError(w, http.StatusBadRequest, "validation", "se requiere locationId o agencyId")
			return
		}

		if err := svc.Disconnect(r.Context(), tn, requestMeta(r)); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				httpx.WriteError(w, http.StatusNotFound, "not_found", "no hay instalación activa para ese tenant")
				return
			}
			logger.From(r.Context()).Error("disconnect failed", logger.Tenant(tn.String()), logger.Err(err))
			httpx.WriteError(w, http.StatusInternalServerError, "persistence", "no se pudo revocar")
			return
		}

		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": core.StatusRevoked})
	}
}
