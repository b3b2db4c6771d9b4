// Package tenant resuelve a qué tenant (location o agency) pertenece un grant
// cuando el callback del proveedor no lo dice explícitamente.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/leadbridge/internal/metrics"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// ErrUnresolved: se agotaron todas las estrategias sin un identificador usable.
var ErrUnresolved = errors.New("tenant unresolved")

// Hints son los identificadores explícitos disponibles antes de introspectar:
// query params del callback y campos de la token response.
type Hints struct {
	LocationID string
	CompanyID  string
}

// Strategy es una consulta de introspección independiente. Un fallo de una
// estrategia nunca aborta la cadena; sólo el agotamiento es error duro.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, accessToken string) (core.Tenant, error)
}

type Resolver struct {
	strategies []Strategy
	metrics    *metrics.Metrics
}

// New arma el resolver con la cadena de estrategias por defecto contra el
// cliente del proveedor, en orden de confiabilidad.
func New(pc *provider.Client, m *metrics.Metrics) *Resolver {
	return &Resolver{
		metrics: m,
		strategies: []Strategy{
			{Name: "current_user", Run: currentUserStrategy(pc)},
			{Name: "locations", Run: locationsStrategy(pc)},
			{Name: "companies", Run: companiesStrategy(pc)},
			{Name: "userinfo", Run: userinfoStrategy(pc)},
			{Name: "introspect", Run: introspectStrategy(pc)},
		},
	}
}

// NewWithStrategies permite inyectar estrategias arbitrarias (tests).
func NewWithStrategies(m *metrics.Metrics, ss ...Strategy) *Resolver {
	return &Resolver{strategies: ss, metrics: m}
}

// Resolve determina el tenant del grant. Precedencia:
//  1. hints explícitos (location gana sobre company cuando vienen ambos)
//  2. cadena de estrategias de introspección, en orden, primera que resuelva
//  3. payload del access token si es un JWT (discovery, no autorización)
//
// Nunca lanza más allá del caller: agotado todo devuelve ErrUnresolved.
func (r *Resolver) Resolve(ctx context.Context, accessToken string, h Hints) (core.Tenant, error) {
	log := logger.From(ctx).With(logger.Component("tenant.resolver"))

	if h.LocationID != "" {
		r.count("hint")
		return core.LocationTenant(h.LocationID), nil
	}
	if h.CompanyID != "" {
		r.count("hint")
		return core.AgencyTenant(h.CompanyID), nil
	}

	for _, s := range r.strategies {
		t, err := s.Run(ctx, accessToken)
		if err != nil {
			log.Debug("strategy failed", logger.Strategy(s.Name), logger.Err(err))
			continue
		}
		if !t.IsZero() {
			log.Info("tenant resolved", logger.Strategy(s.Name), logger.Tenant(t.String()))
			r.count("strategy")
			return t, nil
		}
	}

	if t, ok := decodeTokenPayload(accessToken); ok {
		log.Info("tenant resolved from token payload", logger.Tenant(t.String()))
		r.count("jwt")
		return t, nil
	}

	r.count("unresolved")
	return core.Tenant{}, ErrUnresolved
}

func (r *Resolver) count(result string) {
	if r.metrics != nil {
		r.metrics.ResolverRuns.WithLabelValues(result).Inc()
	}
}

// tenantFrom arma el tenant a partir de un par (locationId, companyId),
// prefiriendo location.
func tenantFrom(locationID, companyID string) (core.Tenant, error) {
	if locationID != "" {
		return core.LocationTenant(locationID), nil
	}
	if companyID != "" {
		return core.AgencyTenant(companyID), nil
	}
	return core.Tenant{}, fmt.Errorf("respuesta sin identificadores")
}

// ---- estrategias contra la API del proveedor ----

func currentUserStrategy(pc *provider.Client) func(context.Context, string) (core.Tenant, error) {
	return func(ctx context.Context, token string) (core.Tenant, error) {
		var out struct {
			LocationID string `json:"locationId"`
			CompanyID  string `json:"companyId"`
			Roles      struct {
				LocationIDs []string `json:"locationIds"`
			} `json:"roles"`
		}
		if err := pc.GetJSON(ctx, "/users/me", token, &out); err != nil {
			return core.Tenant{}, err
		}
		if out.LocationID == "" && len(out.Roles.LocationIDs) == 1 {
			out.LocationID = out.Roles.LocationIDs[0]
		}
		return tenantFrom(out.LocationID, out.CompanyID)
	}
}

func locationsStrategy(pc *provider.Client) func(context.Context, string) (core.Tenant, error) {
	return func(ctx context.Context, token string) (core.Tenant, error) {
		var out struct {
			Locations []struct {
				ID string `json:"id"`
			} `json:"locations"`
		}
		if err := pc.GetJSON(ctx, "/locations/", token, &out); err != nil {
			return core.Tenant{}, err
		}
		// Sólo es concluyente cuando el token ve exactamente una location.
		if len(out.Locations) != 1 || out.Locations[0].ID == "" {
			return core.Tenant{}, fmt.Errorf("%d locations accesibles", len(out.Locations))
		}
		return core.LocationTenant(out.Locations[0].ID), nil
	}
}

func companiesStrategy(pc *provider.Client) func(context.Context, string) (core.Tenant, error) {
	return func(ctx context.Context, token string) (core.Tenant, error) {
		var out struct {
			Companies []struct {
				ID string `json:"id"`
			} `json:"companies"`
		}
		if err := pc.GetJSON(ctx, "/companies/", token, &out); err != nil {
			return core.Tenant{}, err
		}
		if len(out.Companies) != 1 || out.Companies[0].ID == "" {
			return core.Tenant{}, fmt.Errorf("%d companies accesibles", len(out.Companies))
		}
		return core.AgencyTenant(out.Companies[0].ID), nil
	}
}

func userinfoStrategy(pc *provider.Client) func(context.Context, string) (core.Tenant, error) {
	return func(ctx context.Context, token string) (core.Tenant, error) {
		var out struct {
			LocationID string `json:"locationId"`
			CompanyID  string `json:"companyId"`
		}
		if err := pc.GetJSON(ctx, "/oauth/userinfo", token, &out); err != nil {
			return core.Tenant{}, err
		}
		return tenantFrom(out.LocationID, out.CompanyID)
	}
}

func introspectStrategy(pc *provider.Client) func(context.Context, string) (core.Tenant, error) {
	return func(ctx context.Context, token string) (core.Tenant, error) {
		var out struct {
			Active     bool   `json:"active"`
			LocationID string `json:"locationId"`
			CompanyID  string `json:"companyId"`
		}
		if err := pc.PostJSON(ctx, "/oauth/introspect", token, map[string]string{"token": token}, &out); err != nil {
			return core.Tenant{}, err
		}
		return tenantFrom(out.LocationID, out.CompanyID)
	}
}

// decodeTokenPayload intenta extraer un identificador del payload del access
// token si es un JWT. Sin verificación de firma: este camino sólo descubre un
// identificador, nunca autoriza nada.
func decodeTokenPayload(accessToken string) (core.Tenant, bool) {
	parser := jwtv5.NewParser()
	claims := jwtv5.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return core.Tenant{}, false
	}

	str := func(k string) string {
		if v, ok := claims[k].(string); ok {
			return v
		}
		return ""
	}

	if v := str("locationId"); v != "" {
		return core.LocationTenant(v), true
	}
	if v := str("companyId"); v != "" {
		return core.AgencyTenant(v), true
	}
	// authClass/authClassId: variante del proveedor para tokens de agency/location
	if cls := str("authClass"); cls != "" {
		if id := str("authClassId"); id != "" {
			switch cls {
			case "Location":
				return core.LocationTenant(id), true
			case "Company", "Agency":
				return core.AgencyTenant(id), true
			}
		}
	}
	return core.Tenant{}, false
}
