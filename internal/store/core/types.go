package core

import (
	"fmt"
	"time"
)

// TenantKind discrimina el tipo de tenant del proveedor.
type TenantKind string

const (
	TenantLocation TenantKind = "location"
	TenantAgency   TenantKind = "agency"
)

// Tenant identifica exactamente un tenant del proveedor: una Location o una
// Agency, nunca ambas. Usar los constructores para garantizar el invariante.
type Tenant struct {
	Kind TenantKind
	ID   string
}

func LocationTenant(id string) Tenant { return Tenant{Kind: TenantLocation, ID: id} }
func AgencyTenant(id string) Tenant   { return Tenant{Kind: TenantAgency, ID: id} }

// IsZero reporta si el tenant no fue resuelto.
func (t Tenant) IsZero() bool { return t.ID == "" }

// Validate chequea que el tenant sea utilizable como clave de persistencia.
func (t Tenant) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: tenant id vacío", ErrInvalid)
	}
	switch t.Kind {
	case TenantLocation, TenantAgency:
		return nil
	default:
		return fmt.Errorf("%w: tenant kind %q", ErrInvalid, t.Kind)
	}
}

func (t Tenant) String() string { return string(t.Kind) + ":" + t.ID }

// Installation status values.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
	StatusExpired = "expired"
	StatusError   = "error"
)

// Installation es el grant OAuth persistido de un tenant. Los tokens viajan
// aquí ya cifrados (secretbox); el core nunca ve texto plano fuera de los
// services que los usan.
type Installation struct {
	ID               string     `json:"id"`
	Tenant           Tenant     `json:"-"`
	AccessTokenEnc   string     `json:"-"`
	RefreshTokenEnc  string     `json:"-"`
	Scopes           []string   `json:"scopes"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Status           string     `json:"status"`
	LastTokenRefresh *time.Time `json:"last_token_refresh,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AuthState es el registro de un state anti-CSRF emitido y aún no consumido.
type AuthState struct {
	ClientID    string
	RedirectURI string
	ExpiresAt   time.Time
}

// AuditEvent types escritos por el core. Append-only.
const (
	AuditInstall       = "install"
	AuditReinstall     = "reinstall"
	AuditRefresh       = "refresh"
	AuditRefreshError  = "refresh_error"
	AuditAPICall       = "api_call"
	AuditDisconnect    = "disconnect"
	AuditReplayReject  = "replay_reject"
	AuditExchangeError = "exchange_error"
)

type AuditEntry struct {
	InstallationID string         `json:"installation_id,omitempty"`
	EventType      string         `json:"event_type"`
	EventData      map[string]any `json:"event_data,omitempty"`
	RequestMeta    map[string]any `json:"request_meta,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
