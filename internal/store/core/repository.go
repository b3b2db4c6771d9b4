package core

import (
	"context"
	"time"
)

// TokenRefresh es el resultado de un refresh aplicado a una instalación.
type TokenRefresh struct {
	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       time.Time
}

// Repository agrupa las tres tablas del core (installations, auth_state,
// used_code) más el audit log. Todas las mutaciones son transacciones de una
// fila; no hay locks globales.
type Repository interface {
	Ping(ctx context.Context) error
	Close()

	// Installations
	// UpsertInstallation serializa escrituras concurrentes del mismo tenant
	// (existence check bajo FOR UPDATE dentro de la transacción). Devuelve la
	// fila resultante y si fue creada (true) o actualizada (false).
	UpsertInstallation(ctx context.Context, ins *Installation) (*Installation, bool, error)
	GetInstallation(ctx context.Context, t Tenant) (*Installation, error)
	ListInstallations(ctx context.Context) ([]*Installation, error)
	// ListExpiring devuelve instalaciones activas con expires_at dentro de la
	// ventana y last_token_refresh más viejo que el cooldown.
	ListExpiring(ctx context.Context, within time.Duration, cooldown time.Duration) ([]*Installation, error)
	UpdateTokens(ctx context.Context, id string, tr TokenRefresh) error
	SetStatus(ctx context.Context, t Tenant, status string) error

	// Replay guard (state)
	PutState(ctx context.Context, stateHash string, st AuthState) error
	// ConsumeState borra y devuelve en una sola sentencia; sólo un caller
	// concurrente puede obtener el registro. Expirado == ausente.
	ConsumeState(ctx context.Context, stateHash string) (*AuthState, error)

	// Replay guard (code)
	// MarkCodeUsed devuelve ErrCodeReplayed si el code ya estaba registrado.
	MarkCodeUsed(ctx context.Context, codeHash string, ttl time.Duration) error
	IsCodeUsed(ctx context.Context, codeHash string) (bool, error)

	// Audit (append-only, nunca se borra desde el core)
	AppendAudit(ctx context.Context, e AuditEntry) error
}
