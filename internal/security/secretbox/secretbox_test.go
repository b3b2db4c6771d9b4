package secretbox

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	UnsafeResetForTests()

	raw := make([]byte, 32)
	for i := 0; i < 32; i++ {
		raw[i] = byte(i + 1)
	}
	os.Setenv("LEADBRIDGE_MASTER_KEY", base64.StdEncoding.EncodeToString(raw))

	msg := "ghl-access-token-✓-secreto"
	ct, err := Encrypt(msg)
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	pt, err := Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt err: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	UnsafeResetForTests()

	raw := make([]byte, 32)
	for i := 0; i < 32; i++ {
		raw[i] = byte(i * 3)
	}
	os.Setenv("LEADBRIDGE_MASTER_KEY", base64.StdEncoding.EncodeToString(raw))

	a, err := Encrypt("same token")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt("same token")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("dos cifrados del mismo texto no deben coincidir")
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	UnsafeResetForTests()

	raw := make([]byte, 32)
	for i := 0; i < 32; i++ {
		raw[i] = byte(255 - i)
	}
	os.Setenv("LEADBRIDGE_MASTER_KEY", base64.StdEncoding.EncodeToString(raw))

	ct, err := Encrypt("top secret")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	parts := strings.Split(ct, "|")
	if len(parts) != 2 {
		t.Fatalf("unexpected ct format")
	}
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	bs[0] ^= 0x01 // flip
	corrupted := parts[0] + "|" + base64.StdEncoding.EncodeToString(bs)

	if _, err := Decrypt(corrupted); err == nil {
		t.Fatalf("expected auth error, got nil")
	}
}

func TestEncrypt_ErrorWhenNoKey(t *testing.T) {
	UnsafeResetForTests()
	os.Unsetenv("LEADBRIDGE_MASTER_KEY")

	if _, err := Encrypt("x"); err == nil {
		t.Fatalf("expected error when key missing")
	}
}
