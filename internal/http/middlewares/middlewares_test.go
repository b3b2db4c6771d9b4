package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/rate"
	"github.com/dropDatabas3/leadbridge/internal/security/svcauth"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

func TestWithRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := WithRequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("no request id in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatal("header and context request id differ")
	}
}

func TestWithRequestID_KeepsClientProvided(t *testing.T) {
	var seen string
	h := WithRequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "rid-from-caller")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "rid-from-caller" {
		t.Fatalf("request id = %q", seen)
	}
}

func TestWithServiceAuth(t *testing.T) {
	const secret = "mw-secret"
	v := svcauth.NewVerifier(svcauth.Config{
		Secret:   secret,
		Audience: "leadbridge",
		Issuers:  []string{"business-server"},
		MaxTTL:   5 * time.Minute,
	})

	var gotClaims *svcauth.Claims
	h := WithServiceAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = GetServiceClaims(r.Context())
	}))

	// sin Authorization: 401
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/proxy/hl", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("sin header: status = %d", rec.Code)
	}

	// token inválido: 401
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/proxy/hl", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token inválido: status = %d", rec.Code)
	}

	// token válido: claims en contexto
	tok, err := svcauth.Mint(secret, "business-server", "leadbridge", core.LocationTenant("loc-1"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/proxy/hl", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token válido: status = %d", rec.Code)
	}
	if gotClaims == nil || gotClaims.Tenant != core.LocationTenant("loc-1") {
		t.Fatalf("claims = %+v", gotClaims)
	}
}

func TestWithRateLimit_BlocksOverLimit(t *testing.T) {
	l := rate.NewMemoryLimiter(2, time.Minute)
	calls := 0
	h := WithRateLimit(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/oauth/start", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("req %d: status = %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/start", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("falta Retry-After")
	}
	if calls != 2 {
		t.Fatalf("handler calls = %d", calls)
	}

	// otra IP no comparte la ventana
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/oauth/start", nil)
	req.RemoteAddr = "10.0.0.10:1234"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("otra IP: status = %d", rec.Code)
	}
}
