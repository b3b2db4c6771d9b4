package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/metrics"
	"github.com/dropDatabas3/leadbridge/internal/provider"
	"github.com/dropDatabas3/leadbridge/internal/security/secretbox"
	"github.com/dropDatabas3/leadbridge/internal/store/core"
)

type fakeRefreshClient struct {
	calls int
	resp  *provider.TokenResponse
	err   error
}

func (f *fakeRefreshClient) RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func seedInstallation(t *testing.T, repo *fakeRepo, tn core.Tenant, access, refresh string, expiresIn time.Duration) *core.Installation {
	t.Helper()
	accessEnc, err := secretbox.Encrypt(access)
	if err != nil {
		t.Fatal(err)
	}
	refreshEnc, err := secretbox.Encrypt(refresh)
	if err != nil {
		t.Fatal(err)
	}
	ins, _, err := repo.UpsertInstallation(context.Background(), &core.Installation{
		Tenant:          tn,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       time.Now().UTC().Add(expiresIn),
		Status:          core.StatusActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ins
}

func TestAccessToken_FreshTokenSkipsRefresh(t *testing.T) {
	setTestMasterKey(t)
	repo := newFakeRepo()
	rc := &fakeRefreshClient{}
	tm := NewTokenManager(repo, rc, metrics.NewNop())

	ins := seedInstallation(t, repo, core.LocationTenant("loc-1"), "fresh-at", "rt", time.Hour)
	got, err := tm.AccessToken(context.Background(), ins, 5*time.Minute)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "fresh-at" {
		t.Fatalf("token = %q", got)
	}
	if rc.calls != 0 {
		t.Fatal("fresh token must not trigger a refresh")
	}
}

func TestAccessToken_RefreshesWithinSkew(t *testing.T) {
	setTestMasterKey(t)
	repo := newFakeRepo()
	rc := &fakeRefreshClient{resp: &provider.TokenResponse{
		AccessToken: "new-at", RefreshToken: "new-rt", ExpiresIn: time.Hour,
	}}
	tm := NewTokenManager(repo, rc, metrics.NewNop())

	// expires in 2m, skew is 5m: must refresh before answering
	ins := seedInstallation(t, repo, core.LocationTenant("loc-2"), "old-at", "old-rt", 2*time.Minute)
	got, err := tm.AccessToken(context.Background(), ins, 5*time.Minute)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "new-at" {
		t.Fatalf("token = %q, want refreshed", got)
	}
	if rc.calls != 1 {
		t.Fatalf("refresh calls = %d", rc.calls)
	}

	// persisted row carries the new pair
	stored := repo.installations[core.LocationTenant("loc-2").String()]
	if at, _ := secretbox.Decrypt(stored.AccessTokenEnc); at != "new-at" {
		t.Fatalf("stored access = %q", at)
	}
	if rt, _ := secretbox.Decrypt(stored.RefreshTokenEnc); rt != "new-rt" {
		t.Fatalf("stored refresh = %q", rt)
	}
}

func TestAccessToken_RefreshFailurePropagates(t *testing.T) {
	setTestMasterKey(t)
	repo := newFakeRepo()
	rc := &fakeRefreshClient{err: &provider.Error{Status: 401, Body: []byte("invalid_grant")}}
	tm := NewTokenManager(repo, rc, metrics.NewNop())

	ins := seedInstallation(t, repo, core.LocationTenant("loc-3"), "old-at", "dead-rt", time.Minute)
	_, err := tm.AccessToken(context.Background(), ins, 5*time.Minute)
	if err == nil {
		t.Fatal("expected error, a dying token must never be served")
	}

	types := repo.auditTypes()
	if types[len(types)-1] != core.AuditRefreshError {
		t.Fatalf("audit trail = %v", types)
	}
}

func TestRefresh_KeepsOldRefreshTokenWhenProviderOmitsIt(t *testing.T) {
	setTestMasterKey(t)
	repo := newFakeRepo()
	rc := &fakeRefreshClient{resp: &provider.TokenResponse{
		AccessToken: "rotated-at", ExpiresIn: time.Hour, // no refresh_token in response
	}}
	tm := NewTokenManager(repo, rc, metrics.NewNop())

	ins := seedInstallation(t, repo, core.LocationTenant("loc-4"), "at", "keep-me", time.Minute)
	out, err := tm.Refresh(context.Background(), ins, "sweep")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rt, _ := secretbox.Decrypt(out.RefreshTokenEnc); rt != "keep-me" {
		t.Fatalf("refresh token = %q, want the previous one kept", rt)
	}
	if at, _ := secretbox.Decrypt(out.AccessTokenEnc); at != "rotated-at" {
		t.Fatalf("access token = %q", at)
	}
	if out.LastTokenRefresh == nil {
		t.Fatal("LastTokenRefresh not set")
	}

	types := repo.auditTypes()
	if types[len(types)-1] != core.AuditRefresh {
		t.Fatalf("audit trail = %v", types)
	}
}

func TestAccessToken_CorruptCiphertextIsInternal(t *testing.T) {
	setTestMasterKey(t)
	repo := newFakeRepo()
	tm := NewTokenManager(repo, &fakeRefreshClient{}, metrics.NewNop())

	ins := seedInstallation(t, repo, core.LocationTenant("loc-5"), "at", "rt", time.Hour)
	ins.AccessTokenEnc = "Z2FyYmFnZQ|Z2FyYmFnZQ"
	_, err := tm.AccessToken(context.Background(), ins, 5*time.Minute)
	if err == nil {
		t.Fatal("expected decrypt failure")
	}
	// must not be mistaken for a provider/refresh problem
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		t.Fatalf("decrypt failure leaked as provider error: %v", err)
	}
}

func TestRefresh_UndecryptableRefreshTokenIsAudited(t *testing.T) {
	setTestMasterKey(t)
	repo := newFakeRepo()
	rc := &fakeRefreshClient{}
	tm := NewTokenManager(repo, rc, metrics.NewNop())

	ins := seedInstallation(t, repo, core.LocationTenant("loc-6"), "at", "rt", time.Minute)
	ins.RefreshTokenEnc = "Z2FyYmFnZQ|Z2FyYmFnZQ"
	_, err := tm.Refresh(context.Background(), ins, "proxy")
	if err == nil {
		t.Fatal("expected decrypt failure")
	}
	if rc.calls != 0 {
		t.Fatal("provider must not be called with an undecryptable refresh token")
	}
	types := repo.auditTypes()
	if len(types) == 0 || types[len(types)-1] != core.AuditRefreshError {
		t.Fatalf("audit trail = %v, want a refresh_error entry", types)
	}
}
