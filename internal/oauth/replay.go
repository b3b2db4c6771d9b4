package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/cache"
	"github.com/dropDatabas3/leadbridge/internal/metrics"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	tokens "github.com/dropDatabas3/leadbridge/internal/security/token"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

const stateTokenBytes = 32

// Guard implementa la protección anti-replay de states y codes. Postgres es
// la fuente de verdad; el cache sólo acelera el camino caliente de IsCodeUsed
// y nunca sustituye al store.
type Guard struct {
	repo     core.Repository
	cache    cache.Cache
	stateTTL time.Duration
	codeTTL  time.Duration
	metrics  *metrics.Metrics
}

func NewGuard(repo core.Repository, c cache.Cache, stateTTL, codeTTL time.Duration, m *metrics.Metrics) *Guard {
	if stateTTL <= 0 {
		stateTTL = 15 * time.Minute
	}
	if codeTTL <= 0 {
		codeTTL = 10 * time.Minute
	}
	return &Guard{repo: repo, cache: c, stateTTL: stateTTL, codeTTL: codeTTL, metrics: m}
}

// IssueState genera un state aleatorio, lo persiste hasheado con TTL y lo
// devuelve para embeber en la authorization URL.
func (g *Guard) IssueState(ctx context.Context, clientID, redirectURI string) (string, error) {
	state, err := tokens.GenerateOpaqueToken(stateTokenBytes)
	if err != nil {
		return "", err
	}
	st := core.AuthState{
		ClientID:    clientID,
		RedirectURI: redirectURI,
		ExpiresAt:   time.Now().UTC().Add(g.stateTTL),
	}
	if err := g.repo.PutState(ctx, tokens.SHA256Base64URL(state), st); err != nil {
		return "", err
	}
	return state, nil
}

// ConsumeState borra-y-devuelve el registro en una sola operación: ante dos
// callbacks concurrentes con el mismo state, sólo uno obtiene el registro.
// Expirado o ausente devuelven core.ErrNotFound, indistinguibles.
func (g *Guard) ConsumeState(ctx context.Context, state string) (*core.AuthState, error) {
	st, err := g.repo.ConsumeState(ctx, tokens.SHA256Base64URL(state))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) && g.metrics != nil {
			g.metrics.ReplayRejects.WithLabelValues("state").Inc()
		}
		return nil, err
	}
	return st, nil
}

// MarkCodeUsed registra el code como consumido ANTES del exchange, cerrando
// la carrera de dos requests concurrentes con el mismo code. Idempotente a
// nivel de fila: el segundo caller recibe core.ErrCodeReplayed.
func (g *Guard) MarkCodeUsed(ctx context.Context, code string) error {
	h := tokens.SHA256Base64URL(code)
	if err := g.repo.MarkCodeUsed(ctx, h, g.codeTTL); err != nil {
		if errors.Is(err, core.ErrCodeReplayed) && g.metrics != nil {
			g.metrics.ReplayRejects.WithLabelValues("code").Inc()
		}
		return err
	}
	if g.cache != nil {
		g.cache.Set("code:"+h, []byte("1"), g.codeTTL)
	}
	return nil
}

// IsCodeUsed consulta primero el cache y cae al store. Un miss del cache no
// es concluyente: el store decide.
func (g *Guard) IsCodeUsed(ctx context.Context, code string) (bool, error) {
	h := tokens.SHA256Base64URL(code)
	if g.cache != nil {
		if _, ok := g.cache.Get("code:" + h); ok {
			return true, nil
		}
	}
	used, err := g.repo.IsCodeUsed(ctx, h)
	if err != nil {
		logger.From(ctx).Warn("code lookup failed", logger.Err(err))
		return false, err
	}
	return used, nil
}
