package auth

import (
	"bytes"
	"errors"
	"testing"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	keys, err := DeriveKeys("test-session-secret-at-least-32-chars!!")
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	s, err := NewSealer(keys.Seal)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

// =========================================================================
// KEY DERIVATION TESTS
// =========================================================================

func TestDeriveKeys_ShortSecret(t *testing.T) {
	if _, err := DeriveKeys("too-short"); err == nil {
		t.Fatal("DeriveKeys() should reject secrets shorter than 32 chars")
	}
}

func TestDeriveKeys_SeparatePurposes(t *testing.T) {
	keys, err := DeriveKeys("test-session-secret-at-least-32-chars!!")
	if err != nil {
		t.Fatalf("DeriveKeys() error = %v", err)
	}
	if bytes.Equal(keys.Identity, keys.Seal) {
		t.Error("identity and seal keys must differ")
	}

	again, _ := DeriveKeys("test-session-secret-at-least-32-chars!!")
	if !bytes.Equal(keys.Seal, again.Seal) {
		t.Error("derivation must be deterministic for the same secret")
	}
}

// =========================================================================
// SEAL / OPEN TESTS
// =========================================================================

func TestSealer_RoundTrip(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.Seal("ghu_plaintext_token")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if sealed == "ghu_plaintext_token" || bytes.Contains([]byte(sealed), []byte("ghu_")) {
		t.Errorf("Seal() output contains the plaintext: %q", sealed)
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != "ghu_plaintext_token" {
		t.Errorf("Open() = %q, want original", opened)
	}
}

func TestSealer_NonceIsRandom(t *testing.T) {
	s := newTestSealer(t)
	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Error("sealing the same value twice produced identical output")
	}
}

func TestSealer_EmptyStaysEmpty(t *testing.T) {
	s := newTestSealer(t)
	sealed, err := s.Seal("")
	if err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = %q, %v; want \"\", nil", sealed, err)
	}
	opened, err := s.Open("")
	if err != nil || opened != "" {
		t.Errorf("Open(\"\") = %q, %v; want \"\", nil", opened, err)
	}
}

func TestSealer_Tampered(t *testing.T) {
	s := newTestSealer(t)
	sealed, _ := s.Seal("ghu_plaintext_token")

	b := []byte(sealed)
	mid := len(b) / 2
	if b[mid] == 'A' {
		b[mid] = 'B'
	} else {
		b[mid] = 'A'
	}

	tests := map[string]string{
		"flipped byte": string(b),
		"truncated":    sealed[:10],
		"not base64":   "!!!",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Open(in); !errors.Is(err, ErrUnsealable) {
				t.Errorf("Open() error = %v, want ErrUnsealable", err)
			}
		})
	}
}

func TestSealer_WrongKey(t *testing.T) {
	s1 := newTestSealer(t)
	keys, _ := DeriveKeys("another-session-secret-of-32-chars!!!!")
	s2, _ := NewSealer(keys.Seal)

	sealed, _ := s1.Seal("ghu_token")
	if _, err := s2.Open(sealed); !errors.Is(err, ErrUnsealable) {
		t.Errorf("Open() with another key error = %v, want ErrUnsealable", err)
	}
}
