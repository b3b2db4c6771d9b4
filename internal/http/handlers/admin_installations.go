package handlers

import (
	"net/http"
	"time"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

// installationView es la proyección pública de una instalación: los tokens
// cifrados jamás salen por la API, ni siquiera para admins.
type installationView struct {
	ID               string     `json:"id"`
	LocationID       string     `json:"locationId,omitempty"`
	AgencyID         string     `json:"agencyId,omitempty"`
	Scopes           []string   `json:"scopes"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Status           string     `json:"status"`
	LastTokenRefresh *time.Time `json:"last_token_refresh,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toView(ins *core.Installation) installationView {
	v := installationView{
		ID:               ins.ID,
		Scopes:           ins.Scopes,
		ExpiresAt:        ins.ExpiresAt,
		Status:           ins.Status,
		LastTokenRefresh: ins.LastTokenRefresh,
		CreatedAt:        ins.CreatedAt,
		UpdatedAt:        ins.UpdatedAt,
	}
	switch ins.Tenant.Kind {
	case core.TenantLocation:
		v.LocationID = ins.Tenant.ID
	case core.TenantAgency:
		v.AgencyID = ins.Tenant.ID
	}
	return v
}

// NewAdminInstallationsHandler lista instalaciones con tokens redactados.
func NewAdminInstallationsHandler(repo core.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "validation", "solo GET")
			return
		}

		list, err := repo.ListInstallations(r.Context())
		if err != nil {
			logger.From(r.Context()).Error("list installations failed", logger.Err(err))
			httpx.WriteError(w, http.StatusInternalServerError, "persistence", "no se pudo listar")
			return
		}

		out := make([]installationView, 0, len(list))
		for _, ins := range list {
			out = append(out, toView(ins))
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"installations": out,
			"count":         len(out),
		})
	}
}
