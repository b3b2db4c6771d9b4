package oauth

import (
	"strings"
	"testing"
	"time"
)

func TestStateCookie_RoundTrip(t *testing.T) {
	s := NewStateCookieSigner("secret-1")
	v, err := s.Encode("state-abc", "client-1", "https://x/cb", time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	st, err := s.Decode(v, "state-abc")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if st.ClientID != "client-1" || st.RedirectURI != "https://x/cb" {
		t.Fatalf("binding = %+v", st)
	}
}

func TestStateCookie_TamperedPayloadRejected(t *testing.T) {
	s := NewStateCookieSigner("secret-1")
	v, err := s.Encode("state-abc", "client-1", "https://x/cb", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	i := strings.LastIndexByte(v, '.')
	tampered := "A" + v[1:i] + v[i:]
	if _, err := s.Decode(tampered, "state-abc"); err == nil {
		t.Fatal("tampered cookie accepted")
	}
}

func TestStateCookie_WrongSecretRejected(t *testing.T) {
	a := NewStateCookieSigner("secret-a")
	b := NewStateCookieSigner("secret-b")
	v, err := a.Encode("state-abc", "client-1", "https://x/cb", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decode(v, "state-abc"); err == nil {
		t.Fatal("cookie signed with another secret accepted")
	}
}

func TestStateCookie_StateMismatchRejected(t *testing.T) {
	s := NewStateCookieSigner("secret-1")
	v, err := s.Encode("state-abc", "client-1", "https://x/cb", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Decode(v, "state-OTHER"); err == nil {
		t.Fatal("cookie must be bound to the presented state")
	}
}

func TestStateCookie_ExpiredRejected(t *testing.T) {
	s := NewStateCookieSigner("secret-1")
	v, err := s.Encode("state-abc", "client-1", "https://x/cb", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Decode(v, "state-abc"); err == nil {
		t.Fatal("expired cookie accepted")
	}
}

func TestStateCookie_EmptySecretDisablesSigner(t *testing.T) {
	if NewStateCookieSigner("") != nil {
		t.Fatal("empty secret must disable the fallback entirely")
	}
}
