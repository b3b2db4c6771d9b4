package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	// Provider es la plataforma CRM upstream.
	Provider struct {
		AuthorizeURL string   `yaml:"authorize_url"`
		TokenURL     string   `yaml:"token_url"`
		APIBaseURL   string   `yaml:"api_base_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		RedirectURI  string   `yaml:"redirect_uri"`
		Scopes       []string `yaml:"scopes"`

		// Timeouts de llamadas salientes.
		ExchangeTimeout string `yaml:"exchange_timeout"` // default 30s
		APITimeout      string `yaml:"api_timeout"`      // default 10s
	} `yaml:"provider"`

	OAuth struct {
		StateTTL string `yaml:"state_ttl"` // default 15m
		CodeTTL  string `yaml:"code_ttl"`  // default 10m
		// Secret HMAC para la cookie de fallback de state.
		StateCookieSecret string `yaml:"state_cookie_secret"`
	} `yaml:"oauth"`

	Proxy struct {
		// Patrones glob de endpoints permitidos (deny by default).
		AllowedEndpoints []string `yaml:"allowed_endpoints"`
		RefreshSkew      string   `yaml:"refresh_skew"` // default 5m
	} `yaml:"proxy"`

	Refresher struct {
		Enabled   bool   `yaml:"enabled"`
		Interval  string `yaml:"interval"`  // default 1h
		Lookahead string `yaml:"lookahead"` // default 2h
		Cooldown  string `yaml:"cooldown"`  // default 30m
	} `yaml:"refresher"`

	Storage struct {
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	// ServiceAuth: tokens firmados servicio-a-servicio (business server -> proxy).
	ServiceAuth struct {
		Secret   string   `yaml:"secret"`
		Audience string   `yaml:"audience"`
		Issuers  []string `yaml:"issuers"`
		MaxTTL   string   `yaml:"max_ttl"` // default 5m
	} `yaml:"service_auth"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Start   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"start"`
	} `yaml:"rate"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Provider.ExchangeTimeout == "" {
		c.Provider.ExchangeTimeout = "30s"
	}
	if c.Provider.APITimeout == "" {
		c.Provider.APITimeout = "10s"
	}
	if c.OAuth.StateTTL == "" {
		c.OAuth.StateTTL = "15m"
	}
	if c.OAuth.CodeTTL == "" {
		c.OAuth.CodeTTL = "10m"
	}
	if c.Proxy.RefreshSkew == "" {
		c.Proxy.RefreshSkew = "5m"
	}
	if c.Refresher.Interval == "" {
		c.Refresher.Interval = "1h"
	}
	if c.Refresher.Lookahead == "" {
		c.Refresher.Lookahead = "2h"
	}
	if c.Refresher.Cooldown == "" {
		c.Refresher.Cooldown = "30m"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.ServiceAuth.Audience == "" {
		c.ServiceAuth.Audience = "leadbridge"
	}
	if c.ServiceAuth.MaxTTL == "" {
		c.ServiceAuth.MaxTTL = "5m"
	}
	if c.Rate.Start.Limit == 0 {
		c.Rate.Start.Limit = 30
	}
	if c.Rate.Start.Window == "" {
		c.Rate.Start.Window = "1m"
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// PROVIDER
	if v, ok := getEnvStr("PROVIDER_AUTHORIZE_URL"); ok {
		c.Provider.AuthorizeURL = v
	}
	if v, ok := getEnvStr("PROVIDER_TOKEN_URL"); ok {
		c.Provider.TokenURL = v
	}
	if v, ok := getEnvStr("PROVIDER_API_BASE_URL"); ok {
		c.Provider.APIBaseURL = v
	}
	if v, ok := getEnvStr("PROVIDER_CLIENT_ID"); ok {
		c.Provider.ClientID = v
	}
	if v, ok := getEnvStr("PROVIDER_CLIENT_SECRET"); ok {
		c.Provider.ClientSecret = v
	}
	if v, ok := getEnvStr("PROVIDER_REDIRECT_URI"); ok {
		c.Provider.RedirectURI = v
	}
	if v, ok := getEnvCSV("PROVIDER_SCOPES"); ok {
		c.Provider.Scopes = v
	}

	// OAUTH
	if v, ok := getEnvStr("OAUTH_STATE_TTL"); ok {
		c.OAuth.StateTTL = v
	}
	if v, ok := getEnvStr("OAUTH_CODE_TTL"); ok {
		c.OAuth.CodeTTL = v
	}
	if v, ok := getEnvStr("OAUTH_STATE_COOKIE_SECRET"); ok {
		c.OAuth.StateCookieSecret = v
	}

	// PROXY
	if v, ok := getEnvCSV("PROXY_ALLOWED_ENDPOINTS"); ok {
		c.Proxy.AllowedEndpoints = v
	}
	if v, ok := getEnvStr("PROXY_REFRESH_SKEW"); ok {
		c.Proxy.RefreshSkew = v
	}

	// REFRESHER
	if v, ok := getEnvBool("REFRESHER_ENABLED"); ok {
		c.Refresher.Enabled = v
	}
	if v, ok := getEnvStr("REFRESHER_INTERVAL"); ok {
		c.Refresher.Interval = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// SERVICE AUTH
	if v, ok := getEnvStr("SERVICE_AUTH_SECRET"); ok {
		c.ServiceAuth.Secret = v
	}
	if v, ok := getEnvStr("SERVICE_AUTH_AUDIENCE"); ok {
		c.ServiceAuth.Audience = v
	}
	if v, ok := getEnvCSV("SERVICE_AUTH_ISSUERS"); ok {
		c.ServiceAuth.Issuers = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
}

func (c *Config) Validate() error {
	if c.Provider.ClientID == "" {
		return fmt.Errorf("config: provider.client_id requerido")
	}
	if c.Provider.ClientSecret == "" {
		return fmt.Errorf("config: provider.client_secret requerido")
	}
	if c.Provider.RedirectURI == "" {
		return fmt.Errorf("config: provider.redirect_uri requerido")
	}
	return nil
}

// Duration parsea un string de duración con fallback.
func Duration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return def
}
