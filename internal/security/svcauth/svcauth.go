// Package svcauth valida los tokens firmados servicio-a-servicio con los que
// el business server llama al proxy. Tokens cortos (≤5m), HS256, con issuer y
// audience explícitos y opcionalmente el tenant que el caller puede actuar.
package svcauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/store/core"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid service token")
	ErrBadAudience  = errors.New("token audience mismatch")
	ErrBadIssuer    = errors.New("token issuer not allowed")
	ErrTTLTooLong   = errors.New("token ttl exceeds maximum")
)

type Claims struct {
	Issuer string
	// Tenant restringe las llamadas al proxy a ese tenant. Vacío = sin
	// restricción (p.ej. tokens de admin).
	Tenant core.Tenant
}

type Config struct {
	Secret   string
	Audience string
	Issuers  []string
	MaxTTL   time.Duration
}

type Verifier struct {
	secret   []byte
	audience string
	issuers  map[string]bool
	maxTTL   time.Duration
}

func NewVerifier(cfg Config) *Verifier {
	iss := make(map[string]bool, len(cfg.Issuers))
	for _, s := range cfg.Issuers {
		iss[s] = true
	}
	maxTTL := cfg.MaxTTL
	if maxTTL <= 0 {
		maxTTL = 5 * time.Minute
	}
	return &Verifier{
		secret:   []byte(cfg.Secret),
		audience: cfg.Audience,
		issuers:  iss,
		maxTTL:   maxTTL,
	}
}

// Verify valida firma, expiración, audience e issuer. Un token con vida útil
// mayor al máximo se rechaza aunque la firma sea válida.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := jwtv5.MapClaims{}
	tok, err := jwtv5.ParseWithClaims(tokenString, claims, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("alg inesperado: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwtv5.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	aud, _ := claims.GetAudience()
	if !containsAud(aud, v.audience) {
		return nil, ErrBadAudience
	}

	issuer, _ := claims.GetIssuer()
	if len(v.issuers) > 0 && !v.issuers[issuer] {
		return nil, ErrBadIssuer
	}

	// Sin iat no hay forma de acotar la vida útil: se rechaza.
	exp, _ := claims.GetExpirationTime()
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, fmt.Errorf("%w: iat ausente", ErrInvalidToken)
	}
	if exp != nil && exp.Sub(iat.Time) > v.maxTTL {
		return nil, ErrTTLTooLong
	}

	out := &Claims{Issuer: issuer}
	if raw, ok := claims["tenant"].(string); ok && raw != "" {
		t, err := parseTenant(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		out.Tenant = t
	}
	return out, nil
}

func containsAud(aud jwtv5.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// parseTenant interpreta el claim "tenant" con formato kind:id.
func parseTenant(s string) (core.Tenant, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return core.Tenant{}, fmt.Errorf("tenant claim malformado: %q", s)
	}
	switch core.TenantKind(kind) {
	case core.TenantLocation:
		return core.LocationTenant(id), nil
	case core.TenantAgency:
		return core.AgencyTenant(id), nil
	default:
		return core.Tenant{}, fmt.Errorf("tenant kind desconocido: %q", kind)
	}
}

// Mint emite un token de servicio. Lo usan los tests y la CLI de diagnóstico;
// en producción los callers firman con su propia copia del secret.
func Mint(secret, issuer, audience string, tenant core.Tenant, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss": issuer,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if !tenant.IsZero() {
		claims["tenant"] = tenant.String()
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}
