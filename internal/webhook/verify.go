// Package webhook authenticates and dispatches GitHub webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
)

const (
	// SignatureHeader carries "sha256=<hex hmac>".
	SignatureHeader = "X-Hub-Signature-256"
	// EventHeader names the event type ("ping", "installation", ...).
	EventHeader = "X-GitHub-Event"
	// DeliveryHeader is GitHub's unique id for one delivery.
	DeliveryHeader = "X-GitHub-Delivery"

	signaturePrefix = "sha256="
)

var (
	// ErrMissingSignature means a secret is configured but the delivery
	// carried no signature header.
	ErrMissingSignature = errors.New("webhook: missing signature")
	// ErrInvalidSignature means the signature did not match the body.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
)

// Verifier checks X-Hub-Signature-256 against the raw request body.
//
// With no secret configured every delivery is accepted and a WARN is logged
// each time. This is an explicit insecure-by-configuration mode for local
// development, not a fallback.
type Verifier struct {
	secret []byte
	logger *slog.Logger
}

// NewVerifier creates a Verifier. An empty secret disables verification and
// is logged once here.
func NewVerifier(secret string, logger *slog.Logger) *Verifier {
	v := &Verifier{logger: logger}
	if secret != "" {
		v.secret = []byte(secret)
	} else {
		logger.Warn("GITHUB_WEBHOOK_SECRET is not set: webhook signatures will NOT be verified")
	}
	return v
}

// Enabled reports whether signatures are checked.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify returns nil when body is authentic for header.
//
// The comparison is hmac.Equal over the decoded digest, so its duration
// does not depend on where the first differing byte is.
func (v *Verifier) Verify(body []byte, header string) error {
	if !v.Enabled() {
		v.logger.Warn("webhook signature verification bypassed (no secret configured)")
		return nil
	}

	if header == "" {
		return ErrMissingSignature
	}

	hexSig, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil || len(got) != sha256.Size {
		return ErrInvalidSignature
	}

	if !hmac.Equal(got, Sign(v.secret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeaderValue formats body's signature as GitHub sends it.
func SignatureHeaderValue(secret, body []byte) string {
	return signaturePrefix + hex.EncodeToString(Sign(secret, body))
}
