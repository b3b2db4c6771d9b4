// Package provider implementa el cliente HTTP hacia la plataforma CRM:
// token endpoint (authorization_code / refresh_token), los endpoints de
// introspección que usa el tenant resolver, y el forward crudo del proxy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultExpiresIn se usa cuando el proveedor no informa un expires_in
// numérico: mejor un valor conservador que propagar basura a la persistencia.
const DefaultExpiresIn = 3600 * time.Second

// ErrUnavailable marca fallas a nivel de red/timeout: transitorias y
// reintentables, a diferencia de un grant rechazado por el proveedor.
var ErrUnavailable = errors.New("provider unavailable")

// Error es una respuesta no-2xx del token endpoint. Se propaga con el status
// y body originales: la distinción entre bad grant y server error importa.
type Error struct {
	Status int
	Body   []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Status, truncate(string(e.Body), 200))
}

// IsClientError reporta si el proveedor respondió 4xx (p.ej. user_type
// equivocado en el exchange).
func (e *Error) IsClientError() bool { return e.Status >= 400 && e.Status < 500 }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

type Config struct {
	TokenURL     string
	APIBaseURL   string
	ClientID     string
	ClientSecret string

	ExchangeTimeout time.Duration
	APITimeout      time.Duration
}

type Client struct {
	cfg      Config
	exchange *http.Client
	api      *http.Client
}

func New(cfg Config) *Client {
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = 30 * time.Second
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		exchange: &http.Client{Timeout: cfg.ExchangeTimeout},
		api:      &http.Client{Timeout: cfg.APITimeout},
	}
}

// TokenResponse es la respuesta del token endpoint. El proveedor a veces
// incluye identificadores de tenant directamente en la respuesta.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Scope        string
	LocationID   string
	CompanyID    string
	UserType     string
}

// rawToken tolera expires_in numérico, string o ausente.
type rawToken struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    json.RawMessage `json:"expires_in"`
	Scope        string          `json:"scope"`
	LocationID   string          `json:"locationId"`
	CompanyID    string          `json:"companyId"`
	UserType     string          `json:"userType"`
}

func parseExpiresIn(raw json.RawMessage) time.Duration {
	if len(raw) == 0 {
		return DefaultExpiresIn
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && f > 0 {
			return time.Duration(f) * time.Second
		}
	}
	return DefaultExpiresIn
}

func decodeToken(body []byte) (*TokenResponse, error) {
	var rt rawToken
	if err := json.Unmarshal(body, &rt); err != nil {
		return nil, fmt.Errorf("token response inválida: %w", err)
	}
	if rt.AccessToken == "" {
		return nil, errors.New("token response sin access_token")
	}
	return &TokenResponse{
		AccessToken:  rt.AccessToken,
		RefreshToken: rt.RefreshToken,
		ExpiresIn:    parseExpiresIn(rt.ExpiresIn),
		Scope:        rt.Scope,
		LocationID:   rt.LocationID,
		CompanyID:    rt.CompanyID,
		UserType:     rt.UserType,
	}, nil
}

func (c *Client) postToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.exchange.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Status: resp.StatusCode, Body: body}
	}
	return decodeToken(body)
}

// ExchangeCode canjea un authorization code. userType es el discriminador que
// el proveedor exige ("Location" | "Company"); el caller itera candidatos.
func (c *Client) ExchangeCode(ctx context.Context, code, userType string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"code":          {code},
	}
	if userType != "" {
		form.Set("user_type", userType)
	}
	return c.postToken(ctx, form)
}

// RefreshToken canjea un refresh token por un nuevo par de tokens.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {refreshToken},
	}
	return c.postToken(ctx, form)
}

// GetJSON hace un GET autenticado con el access token y decodifica JSON.
// Lo usa el tenant resolver para las estrategias de introspección.
func (c *Client) GetJSON(ctx context.Context, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Body: body}
	}
	return json.Unmarshal(body, out)
}

// PostJSON: como GetJSON pero POST (introspection endpoint).
func (c *Client) PostJSON(ctx context.Context, path, accessToken string, payload, out any) error {
	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Body: body}
	}
	return json.Unmarshal(body, out)
}

// Response es el resultado crudo de un forward del proxy.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Do reenvía un request arbitrario bajo el allow-list del proxy. El status y
// body del proveedor se devuelven tal cual al caller.
func (c *Client) Do(ctx context.Context, method, endpoint, accessToken string, body []byte, headers map[string]string) (*Response, error) {
	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+endpoint, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		// El caller nunca pisa la credencial inyectada.
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        b,
	}, nil
}
