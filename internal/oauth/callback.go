// Package oauth implementa el núcleo del gateway: replay guard y la máquina
// de estados del callback de autorización.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/metrics"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/security/secretbox"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
	"github.com/dropDatabas3/leadbridge/internal/tenant"
)

var (
	ErrMissingCode      = errors.New("missing code")
	ErrInvalidState     = errors.New("invalid or expired state")
	ErrExchangeFailed   = errors.New("exchange failed")
	ErrTenantUnresolved = errors.New("tenant unresolved")
)

// Exchanger es la porción del cliente del proveedor que usa el callback.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code, userType string) (*provider.TokenResponse, error)
}

// Resolver determina el tenant dueño del grant.
type Resolver interface {
	Resolve(ctx context.Context, accessToken string, h tenant.Hints) (core.Tenant, error)
}

// ServiceDeps contains dependencies for the callback service.
type ServiceDeps struct {
	Repo         core.Repository
	Guard        *Guard
	Exchanger    Exchanger
	Resolver     Resolver
	CookieSigner *StateCookieSigner // opcional
	Metrics      *metrics.Metrics

	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scopes       []string
	StateTTL     time.Duration
}

type Service struct {
	repo         core.Repository
	guard        *Guard
	exchanger    Exchanger
	resolver     Resolver
	cookieSigner *StateCookieSigner
	metrics      *metrics.Metrics

	authorizeURL string
	clientID     string
	redirectURI  string
	scopes       []string
	stateTTL     time.Duration
}

func NewService(d ServiceDeps) *Service {
	ttl := d.StateTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		repo:         d.Repo,
		guard:        d.Guard,
		exchanger:    d.Exchanger,
		resolver:     d.Resolver,
		cookieSigner: d.CookieSigner,
		metrics:      d.Metrics,
		authorizeURL: d.AuthorizeURL,
		clientID:     d.ClientID,
		redirectURI:  d.RedirectURI,
		scopes:       d.Scopes,
		stateTTL:     ttl,
	}
}

// StartResult es lo que necesita el handler de /oauth/start.
type StartResult struct {
	AuthorizeURL string
	CookieValue  string // vacío si no hay signer configurado
	CookieMaxAge int
}

// StartAuthorization emite un state nuevo y arma la URL de autorización del
// proveedor. La cookie de fallback se firma con el mismo binding.
func (s *Service) StartAuthorization(ctx context.Context) (*StartResult, error) {
	state, err := s.guard.IssueState(ctx, s.clientID, s.redirectURI)
	if err != nil {
		return nil, fmt.Errorf("issue state: %w", err)
	}

	q := url.Values{
		"response_type": {"code"},
		"client_id":     {s.clientID},
		"redirect_uri":  {s.redirectURI},
		"state":         {state},
	}
	if len(s.scopes) > 0 {
		q.Set("scope", strings.Join(s.scopes, " "))
	}

	res := &StartResult{
		AuthorizeURL: s.authorizeURL + "?" + q.Encode(),
		CookieMaxAge: int(s.stateTTL.Seconds()),
	}
	if s.cookieSigner != nil {
		if v, err := s.cookieSigner.Encode(state, s.clientID, s.redirectURI, s.stateTTL); err == nil {
			res.CookieValue = v
		}
	}
	return res, nil
}

// CallbackRequest es la entrada de la máquina de estados.
type CallbackRequest struct {
	Code        string
	State       string
	StateCookie string // valor de la cookie de fallback, si vino
	Hints       tenant.Hints
	RequestMeta map[string]any
}

type CallbackResult struct {
	Installation *core.Installation
	Created      bool
}

// userTypeCandidates ordena los discriminadores user_type a intentar en el
// exchange según el hint disponible. Función pura: testeable aislada.
func userTypeCandidates(h tenant.Hints) []string {
	if h.CompanyID != "" && h.LocationID == "" {
		return []string{"Company", "Location"}
	}
	return []string{"Location", "Company"}
}

// HandleCallback ejecuta la máquina Received → StateVerified → CodeFresh →
// TokenExchanged → TenantResolved → Persisted. Cada gate corta con su error
// tipado; el handler HTTP mapea a la taxonomía.
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("oauth.callback"))

	// Received
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrMissingCode
	}
	if strings.TrimSpace(req.State) == "" {
		return nil, ErrInvalidState
	}

	// StateVerified
	st, err := s.guard.ConsumeState(ctx, req.State)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) && s.cookieSigner != nil && req.StateCookie != "" {
			// Store indisponible: la cookie firmada reproduce el mismo binding.
			// Un state ausente o expirado NO pasa por acá: eso es rechazo firme.
			if cst, cErr := s.cookieSigner.Decode(req.StateCookie, req.State); cErr == nil {
				log.Warn("state store unavailable, using signed cookie fallback", logger.Err(err))
				st = cst
				err = nil
			}
		}
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return nil, ErrInvalidState
			}
			return nil, fmt.Errorf("state lookup: %w", err)
		}
	}
	// El binding resuelto debe coincidir con la configuración del server:
	// nunca se corrige en silencio.
	if st.ClientID != s.clientID || st.RedirectURI != s.redirectURI {
		log.Warn("state binding mismatch", logger.ClientID(st.ClientID))
		return nil, fmt.Errorf("%w: client/redirect mismatch", ErrInvalidState)
	}

	// CodeFresh: marcar ANTES del exchange cierra la carrera del doble submit.
	if err := s.guard.MarkCodeUsed(ctx, req.Code); err != nil {
		if errors.Is(err, core.ErrCodeReplayed) {
			_ = s.repo.AppendAudit(ctx, core.AuditEntry{
				EventType:   core.AuditReplayReject,
				EventData:   map[string]any{"kind": "code"},
				RequestMeta: req.RequestMeta,
			})
			return nil, core.ErrCodeReplayed
		}
		return nil, fmt.Errorf("mark code: %w", err)
	}

	// TokenExchanged: iterar user_type sólo ante un 4xx del proveedor.
	tr, err := s.exchangeWithCandidates(ctx, req.Code, req.Hints)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ExchangeErrors.Inc()
		}
		_ = s.repo.AppendAudit(ctx, core.AuditEntry{
			EventType:   core.AuditExchangeError,
			EventData:   map[string]any{"error": err.Error()},
			RequestMeta: req.RequestMeta,
		})
		return nil, err
	}

	// TenantResolved: hints explícitos del callback ganan sobre los ids
	// introspectados de la token response.
	hints := req.Hints
	if hints.LocationID == "" {
		hints.LocationID = tr.LocationID
	}
	if hints.CompanyID == "" {
		hints.CompanyID = tr.CompanyID
	}
	tn, err := s.resolver.Resolve(ctx, tr.AccessToken, hints)
	if err != nil {
		// No persistimos una instalación rota: el caller reintenta con un
		// tenant explícito.
		log.Warn("tenant resolution exhausted", logger.Err(err))
		return nil, ErrTenantUnresolved
	}

	// Persisted: tokens cifrados, upsert serializado por tenant.
	accessEnc, err := secretbox.Encrypt(tr.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := secretbox.Encrypt(tr.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	ins := &core.Installation{
		Tenant:          tn,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		Scopes:          splitScopes(tr.Scope),
		ExpiresAt:       time.Now().UTC().Add(tr.ExpiresIn),
		Status:          core.StatusActive,
	}
	saved, created, err := s.repo.UpsertInstallation(ctx, ins)
	if err != nil {
		return nil, fmt.Errorf("persist installation: %w", err)
	}

	event := core.AuditReinstall
	result := "updated"
	if created {
		event = core.AuditInstall
		result = "created"
	}
	_ = s.repo.AppendAudit(ctx, core.AuditEntry{
		InstallationID: saved.ID,
		EventType:      event,
		EventData:      map[string]any{"tenant": tn.String(), "scopes": saved.Scopes},
		RequestMeta:    req.RequestMeta,
	})
	if s.metrics != nil {
		s.metrics.Installs.WithLabelValues(result).Inc()
	}
	log.Info("installation persisted",
		logger.InstallationID(saved.ID),
		logger.Tenant(tn.String()),
		logger.String("result", result),
	)

	return &CallbackResult{Installation: saved, Created: created}, nil
}

// exchangeWithCandidates recorre los user_type en orden. Sólo un error de
// clase 4xx (type mismatch del proveedor) pasa al siguiente candidato; red o
// 5xx abortan y se propagan tal cual.
func (s *Service) exchangeWithCandidates(ctx context.Context, code string, h tenant.Hints) (*provider.TokenResponse, error) {
	log := logger.From(ctx).With(logger.Component("oauth.exchange"))

	var lastClientErr error
	for _, ut := range userTypeCandidates(h) {
		tr, err := s.exchanger.ExchangeCode(ctx, code, ut)
		if err == nil {
			return tr, nil
		}
		var pErr *provider.Error
		if errors.As(err, &pErr) && pErr.IsClientError() {
			log.Debug("exchange rejected for user_type", logger.String("user_type", ut), logger.Err(err))
			lastClientErr = err
			continue
		}
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, lastClientErr)
}

func splitScopes(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return strings.Fields(s)
}

// Disconnect marca la instalación como revocada (soft delete) y audita.
func (s *Service) Disconnect(ctx context.Context, tn core.Tenant, meta map[string]any) error {
	ins, err := s.repo.GetInstallation(ctx, tn)
	if err != nil {
		return err
	}
	if err := s.repo.SetStatus(ctx, tn, core.StatusRevoked); err != nil {
		return err
	}
	_ = s.repo.AppendAudit(ctx, core.AuditEntry{
		InstallationID: ins.ID,
		EventType:      core.AuditDisconnect,
		EventData:      map[string]any{"tenant": tn.String()},
		RequestMeta:    meta,
	})
	return nil
}
