// Package githubapp authenticates this process to GitHub as a GitHub App and
// exchanges that identity for installation access tokens.
//
// THE THREE STEPS:
//
//	Issuer      → signs a short-lived RS256 JWT ("this process is App X")
//	Resolver    → finds the installation for an account or repository
//	TokenBroker → trades installation id + JWT for an installation token
//
// App mode is optional. When no App id or key is configured every entry
// point returns ErrAppNotConfigured and callers fall back to the user's own
// OAuth credential.
package githubapp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrAppNotConfigured means App mode is disabled (pure OAuth mode).
	ErrAppNotConfigured = errors.New("githubapp: app not configured")

	// ErrAssertionUnavailable means App mode is configured but a JWT could not
	// be signed, typically because the private key is malformed.
	ErrAssertionUnavailable = errors.New("githubapp: app assertion unavailable")

	// ErrNotInstalled means GitHub answered 404 for every lookup scope.
	ErrNotInstalled = errors.New("githubapp: app not installed")

	// ErrUnavailable covers auth failures, rate limits, 5xx and network errors.
	ErrUnavailable = errors.New("githubapp: github unavailable")
)

// Identity is the App's static configuration. It is built once at startup
// and never mutated.
type Identity struct {
	AppID         int64
	PrivateKeyPEM []byte
}

// Configured reports whether both halves of the identity are present.
func (id Identity) Configured() bool {
	return id.AppID != 0 && len(bytes.TrimSpace(id.PrivateKeyPEM)) > 0
}

// NormalizePrivateKey turns key material as it usually arrives from the
// environment into PEM bytes:
//
//   - literal "\n" sequences (single-line env vars) become real newlines
//   - a base64-wrapped PEM document is decoded
//
// Anything else is returned trimmed and unchanged; the parser decides.
func NormalizePrivateKey(raw string) []byte {
	key := strings.TrimSpace(raw)
	if key == "" {
		return nil
	}

	key = strings.ReplaceAll(key, `\r\n`, "\n")
	key = strings.ReplaceAll(key, `\n`, "\n")

	if !strings.HasPrefix(key, "-----BEGIN") {
		if decoded, err := base64.StdEncoding.DecodeString(key); err == nil {
			if d := strings.TrimSpace(string(decoded)); strings.HasPrefix(d, "-----BEGIN") {
				return []byte(d + "\n")
			}
		}
	}

	return []byte(key + "\n")
}
