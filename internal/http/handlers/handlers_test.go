package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dropDatabas3/leadbridge/internal/oauth"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/proxy"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body no es JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestWriteCallbackError_Taxonomy(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{oauth.ErrMissingCode, http.StatusBadRequest, "missing_code"},
		{oauth.ErrInvalidState, http.StatusBadRequest, "invalid_state"},
		{core.ErrCodeReplayed, http.StatusConflict, "code_already_used"},
		{oauth.ErrTenantUnresolved, http.StatusAccepted, "tenant_unresolved"},
		{errors.New("something else"), http.StatusInternalServerError, "internal"},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
		writeCallbackError(rec, req, c.err)

		if rec.Code != c.wantStatus {
			t.Fatalf("%v: status = %d, want %d", c.err, rec.Code, c.wantStatus)
		}
		body := decodeErrorBody(t, rec)
		if body["error"] != c.wantCode {
			t.Fatalf("%v: error = %v, want %q", c.err, body["error"], c.wantCode)
		}
	}
}

func TestWriteCallbackError_ExchangePassesProviderStatusThrough(t *testing.T) {
	pErr := &provider.Error{Status: 422, Body: []byte(`{"error":"invalid user type"}`)}
	wrapped := errorsJoin(oauth.ErrExchangeFailed, pErr)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
	writeCallbackError(rec, req, wrapped)

	if rec.Code != 422 {
		t.Fatalf("status = %d, want provider status verbatim", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body["error"] != "exchange_failed" {
		t.Fatalf("error = %v", body["error"])
	}
	if !strings.Contains(rec.Body.String(), "invalid user type") {
		t.Fatal("provider body missing from the response detail")
	}
}

func TestWriteCallbackError_ExchangeUnavailableIs502(t *testing.T) {
	wrapped := errorsJoin(oauth.ErrExchangeFailed, provider.ErrUnavailable)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
	writeCallbackError(rec, req, wrapped)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["error"] != "exchange_failed" {
		t.Fatalf("error = %v", body["error"])
	}
}

// errorsJoin mimics the service wrapping style: sentinel first, cause second.
func errorsJoin(sentinel, cause error) error {
	return errors.Join(sentinel, cause)
}

func TestWriteProxyError_Taxonomy(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{proxy.ErrEndpointDenied, http.StatusForbidden, "endpoint_denied"},
		{core.ErrNotFound, http.StatusNotFound, "not_found"},
		{proxy.ErrRefreshFailed, http.StatusUnauthorized, "refresh_failed"},
		{provider.ErrUnavailable, http.StatusBadGateway, "upstream"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/proxy/hl", nil)
		writeProxyError(rec, req, c.err)

		if rec.Code != c.wantStatus {
			t.Fatalf("%v: status = %d, want %d", c.err, rec.Code, c.wantStatus)
		}
		if body := decodeErrorBody(t, rec); body["error"] != c.wantCode {
			t.Fatalf("%v: error = %v", c.err, body["error"])
		}
	}
}

func TestProxyHandler_RequiresTenantClaims(t *testing.T) {
	h := NewProxyHandler(nil) // rejected before the gateway is touched

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/proxy/hl", strings.NewReader(`{"method":"GET","endpoint":"/contacts/"}`))
	req.Header.Set("Content-Type", "application/json")
	h(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without service claims", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["error"] != "unauthorized" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestDisconnectHandler_Validation(t *testing.T) {
	h := NewOAuthDisconnectHandler(nil) // validation fires before the service

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/oauth/disconnect", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		h(rec, req)
		return rec
	}

	if rec := post(`{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body: status = %d", rec.Code)
	}
	if rec := post(`{"locationId":"a","agencyId":"b"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("both ids: status = %d", rec.Code)
	}
}

func TestCallbackHandler_MissingCode(t *testing.T) {
	svc := oauth.NewService(oauth.ServiceDeps{}) // missing-code gate fires first
	h := NewOAuthCallbackHandler(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?state=abc", nil)
	h(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["error"] != "missing_code" {
		t.Fatalf("error = %v", body["error"])
	}
}
