package security

import (
	"testing"
	"time"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	tok, exp, err := Generate(opts, "u1", []string{"chat"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past")
	}
	claims, err := Verify(opts, tok, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject() != "u1" {
		t.Fatalf("sub = %q", claims.Subject())
	}
	if _, err := Verify(opts, tok, HashToken(tok)); err != nil {
		t.Fatalf("verify with hash: %v", err)
	}
	if _, err := Verify(opts, tok, "sha256:deadbeef"); err == nil {
		t.Fatalf("expected hash mismatch")
	}
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("a"))
	tok, _, err := Generate(opts, "u1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(DefaultOptions([]byte("b")), tok, ""); err == nil {
		t.Fatalf("expected signature error")
	}
	if _, err := Verify(opts, "", ""); err == nil {
		t.Fatalf("expected empty token error")
	}
	rs := opts
	rs.Alg = "RS256"
	if _, err := Verify(rs, tok, ""); err == nil {
		t.Fatalf("expected unsupported alg error")
	}
	if !opts.Enabled() || (Options{}).Enabled() {
		t.Fatalf("Enabled mismatch")
	}
}
