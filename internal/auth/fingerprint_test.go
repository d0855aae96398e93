package auth

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("some-token")
	b := Fingerprint("some-token")
	if a != b {
		t.Fatalf("same input produced different fingerprints: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprintDistinguishesInputs(t *testing.T) {
	if Fingerprint("token-a") == Fingerprint("token-b") {
		t.Fatal("distinct inputs produced the same fingerprint")
	}
}

func TestFingerprintNeverEchoesToken(t *testing.T) {
	const token = "raw-bearer-value"
	fp := Fingerprint(token)
	if fp == token {
		t.Fatal("fingerprint must not equal the raw token")
	}
}
