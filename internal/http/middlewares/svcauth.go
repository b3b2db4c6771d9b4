package middlewares

import (
	"context"
	"net/http"
	"strings"

	httpx "github.com/dropDatabas3/leadbridge/internal/http"
	"github.com/dropDatabas3/leadbridge/internal/observability/logger"
	"github.com/dropDatabas3/leadbridge/internal/security/svcauth"
)

type svcClaimsKey struct{}

// GetServiceClaims extrae los claims del token de servicio validado.
func GetServiceClaims(ctx context.Context) *svcauth.Claims {
	if v, ok := ctx.Value(svcClaimsKey{}).(*svcauth.Claims); ok {
		return v
	}
	return nil
}

// WithServiceAuth exige un Bearer de servicio válido (firma, audience,
// issuer, exp). Expirado o mal dirigido es 401, sin distinción en el body.
func WithServiceAuth(v *svcauth.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(raw, "Bearer ") {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "falta bearer de servicio")
				return
			}
			claims, err := v.Verify(strings.TrimPrefix(raw, "Bearer "))
			if err != nil {
				logger.From(r.Context()).Warn("service token rejected", logger.Err(err))
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "token de servicio inválido")
				return
			}
			ctx := context.WithValue(r.Context(), svcClaimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
