package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/metrics"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/security/secretbox"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

// RefreshClient es la porción del cliente del proveedor que usa el manager.
type RefreshClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenResponse, error)
}

// TokenManager centraliza descifrado y refresh de tokens de instalaciones.
// Lo comparten el proxy (refresh just-in-time) y el background refresher
// (sweep proactivo).
type TokenManager struct {
	repo    core.Repository
	client  RefreshClient
	metrics *metrics.Metrics
}

func NewTokenManager(repo core.Repository, client RefreshClient, m *metrics.Metrics) *TokenManager {
	return &TokenManager{repo: repo, client: client, metrics: m}
}

// AccessToken devuelve el access token en claro de la instalación,
// refrescándolo sincrónicamente si expira dentro de skew. Si el refresh
// falla, el error se propaga: nunca se devuelve un token por vencer.
func (m *TokenManager) AccessToken(ctx context.Context, ins *core.Installation, skew time.Duration) (string, error) {
	if time.Until(ins.ExpiresAt) < skew {
		refreshed, err := m.Refresh(ctx, ins, "proxy")
		if err != nil {
			return "", err
		}
		ins = refreshed
	}
	token, err := secretbox.Decrypt(ins.AccessTokenEnc)
	if err != nil {
		// Clave rotada sin re-cifrar o dato corrupto: siempre interno, jamás
		// se intenta adivinar otra clave.
		return "", fmt.Errorf("decrypt access token: %w", err)
	}
	return token, nil
}

// Refresh canjea el refresh token y persiste el nuevo par cifrado. source
// ("proxy" | "sweep") sólo etiqueta métricas y audit.
func (m *TokenManager) Refresh(ctx context.Context, ins *core.Installation, source string) (*core.Installation, error) {
	log := logger.From(ctx).With(
		logger.Component("oauth.tokens"),
		logger.InstallationID(ins.ID),
		logger.Tenant(ins.Tenant.String()),
	)

	refreshToken, err := secretbox.Decrypt(ins.RefreshTokenEnc)
	if err != nil {
		m.count(source, "error")
		_ = m.repo.AppendAudit(ctx, core.AuditEntry{
			InstallationID: ins.ID,
			EventType:      core.AuditRefreshError,
			EventData:      map[string]any{"source": source, "error": "refresh token undecryptable"},
		})
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	tr, err := m.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		m.count(source, "error")
		_ = m.repo.AppendAudit(ctx, core.AuditEntry{
			InstallationID: ins.ID,
			EventType:      core.AuditRefreshError,
			EventData:      map[string]any{"source": source, "error": err.Error()},
		})
		return nil, fmt.Errorf("provider refresh: %w", err)
	}

	accessEnc, err := secretbox.Encrypt(tr.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	newRefresh := tr.RefreshToken
	refreshEnc := ins.RefreshTokenEnc
	if newRefresh != "" {
		// El proveedor puede rotar el refresh token; si no manda uno, se
		// conserva el vigente.
		if refreshEnc, err = secretbox.Encrypt(newRefresh); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	upd := core.TokenRefresh{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       time.Now().UTC().Add(tr.ExpiresIn),
	}
	if err := m.repo.UpdateTokens(ctx, ins.ID, upd); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	m.count(source, "ok")
	_ = m.repo.AppendAudit(ctx, core.AuditEntry{
		InstallationID: ins.ID,
		EventType:      core.AuditRefresh,
		EventData:      map[string]any{"source": source},
	})
	log.Info("token refreshed", logger.String("source", source))

	now := time.Now().UTC()
	out := *ins
	out.AccessTokenEnc = accessEnc
	out.RefreshTokenEnc = refreshEnc
	out.ExpiresAt = upd.ExpiresAt
	out.LastTokenRefresh = &now
	return &out, nil
}

func (m *TokenManager) count(source, result string) {
	if m.metrics != nil {
		m.metrics.TokenRefreshes.WithLabelValues(source, result).Inc()
	}
}
