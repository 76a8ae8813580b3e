package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// HKDF info labels. Each purpose gets its own key so a leak of one derived
// key says nothing about the other.
const (
	identityKeyLabel = "repoguard identity-cookie v1"
	sealKeyLabel     = "repoguard token-seal v1"
)

// MinSecretLength is the shortest SESSION_SECRET we accept.
const MinSecretLength = 32

// Keys are the purpose-specific keys derived from the session secret.
type Keys struct {
	Identity []byte // HS256 key for identity cookies
	Seal     []byte // XChaCha20-Poly1305 key for tokens at rest
}

// DeriveKeys expands the session secret into per-purpose keys with
// HKDF-SHA256.
func DeriveKeys(secret string) (Keys, error) {
	if len(secret) < MinSecretLength {
		return Keys{}, fmt.Errorf("auth: session secret must be at least %d characters", MinSecretLength)
	}

	identity, err := deriveKey([]byte(secret), identityKeyLabel, 32)
	if err != nil {
		return Keys{}, err
	}
	seal, err := deriveKey([]byte(secret), sealKeyLabel, chacha20poly1305.KeySize)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Identity: identity, Seal: seal}, nil
}

func deriveKey(secret []byte, label string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("auth: deriving %q key: %w", label, err)
	}
	return key, nil
}

// ErrUnsealable means a sealed value was truncated, tampered with, or sealed
// under a different key.
var ErrUnsealable = errors.New("auth: sealed value cannot be opened")

// Sealer encrypts GitHub tokens before they are written to SQLite or the
// session store.
//
// FORMAT:
//
//	base64url( nonce[24] || XChaCha20-Poly1305(token) )
//
// The 24-byte XChaCha nonce is random per value, so sealing the same token
// twice gives different output.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from a 32-byte key (Keys.Seal).
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("auth: creating sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string so an
// absent token stays absent.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth: generating nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsealable, err)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", ErrUnsealable
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrUnsealable
	}
	return string(plain), nil
}
