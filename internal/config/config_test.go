package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PROVIDER_CLIENT_ID", "cid")
	t.Setenv("PROVIDER_CLIENT_SECRET", "cs")
	t.Setenv("PROVIDER_REDIRECT_URI", "https://gw/oauth/callback")
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	setRequiredEnv(t)
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", c.Server.Addr)
	}
	if c.OAuth.StateTTL != "15m" || c.OAuth.CodeTTL != "10m" {
		t.Fatalf("oauth ttls = %q / %q", c.OAuth.StateTTL, c.OAuth.CodeTTL)
	}
	if c.Cache.Kind != "memory" {
		t.Fatalf("cache kind = %q", c.Cache.Kind)
	}
	if c.ServiceAuth.MaxTTL != "5m" {
		t.Fatalf("service auth max ttl = %q", c.ServiceAuth.MaxTTL)
	}
}

func TestLoad_MissingCredentialsFails(t *testing.T) {
	t.Setenv("PROVIDER_CLIENT_ID", "")
	t.Setenv("PROVIDER_CLIENT_SECRET", "")
	t.Setenv("PROVIDER_REDIRECT_URI", "")
	if _, err := Load(""); err == nil {
		t.Fatal("config sin credenciales debe fallar")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	setRequiredEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  addr: ":9999"
proxy:
  allowed_endpoints:
    - /contacts/*
oauth:
  state_ttl: 20m
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SERVER_ADDR", ":7777")
	t.Setenv("PROXY_ALLOWED_ENDPOINTS", "/contacts/*, /calendars/*")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":7777" {
		t.Fatalf("env debe pisar yaml: addr = %q", c.Server.Addr)
	}
	if c.OAuth.StateTTL != "20m" {
		t.Fatalf("yaml sin override: state_ttl = %q", c.OAuth.StateTTL)
	}
	if len(c.Proxy.AllowedEndpoints) != 2 || c.Proxy.AllowedEndpoints[1] != "/calendars/*" {
		t.Fatalf("allowed = %v", c.Proxy.AllowedEndpoints)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("Duration = %v", got)
	}
	if got := Duration("garbage", time.Minute); got != time.Minute {
		t.Fatalf("fallback = %v", got)
	}
	if got := Duration("", 2*time.Hour); got != 2*time.Hour {
		t.Fatalf("empty = %v", got)
	}
	if got := Duration("-5m", time.Minute); got != time.Minute {
		t.Fatalf("negative = %v", got)
	}
}
