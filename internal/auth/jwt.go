// Package auth decides which GitHub credential a request acts with.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. User visits /auth/github/login → redirected to GitHub
//  2. GitHub calls back /auth/github/callback with a code
//  3. Server exchanges the code for a user credential, stores it sealed
//  4. Server creates a server-side session ("sid" cookie) AND signs a
//     long-lived identity cookie ("identity")
//  5. On later requests the CredentialResolver tries the session first, then
//     the identity cookie, and the Authorizer picks the Authorization header
//     for the outbound GitHub call (installation token, else user credential)
//
// WHY TWO COOKIES?
// The session lives in the KV store and can disappear (restart of the
// in-memory store, Redis eviction). The identity cookie is a signed JWT that
// survives that: it names the user, and the stored credential is looked up
// from SQLite.
//
// The identity cookie never carries the GitHub token itself, only the
// internal user id and email.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// IdentityCookieName is the cookie holding the signed identity JWT.
	IdentityCookieName = "identity"

	// IdentityCookieTTL is the identity cookie lifetime.
	IdentityCookieTTL = 30 * 24 * time.Hour

	identityIssuer = "repoguard"
)

// IdentityClaims is the identity JWT payload.
// "sub" carries the internal user id.
type IdentityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c IdentityClaims) UserID() string { return c.Subject }

// IdentityCookies signs and verifies the identity cookie.
//
// Signing algorithm: HS256 with a key derived from SESSION_SECRET
// (Keys.Identity), never the raw secret.
type IdentityCookies struct {
	key    []byte
	secure bool
	now    func() time.Time
}

// NewIdentityCookies creates an IdentityCookies.
//
// secure=true marks the cookie Secure and SameSite=None so it is sent on
// cross-site requests from the frontend; secure=false (local HTTP dev) falls
// back to SameSite=Lax.
func NewIdentityCookies(key []byte, secure bool) (*IdentityCookies, error) {
	if len(key) < 16 {
		return nil, errors.New("auth: identity key must be at least 16 bytes")
	}
	return &IdentityCookies{key: key, secure: secure, now: time.Now}, nil
}

// Sign creates the identity JWT for userID.
func (c *IdentityCookies) Sign(userID, email string) (string, error) {
	if userID == "" {
		return "", errors.New("auth: identity needs a user id")
	}
	now := c.now()

	claims := IdentityClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(IdentityCookieTTL)),
			Issuer:    identityIssuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("auth: signing identity: %w", err)
	}
	return signed, nil
}

// Verify parses and checks an identity JWT.
//
// VALIDATION CHECKS:
//   - signature (HS256 only, which rules out "none" and alg confusion)
//   - expiry present and in the future
//   - issuer is ours
//   - subject non-empty
func (c *IdentityCookies) Verify(tokenStr string) (IdentityClaims, error) {
	var claims IdentityClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims,
		func(token *jwt.Token) (any, error) {
			return c.key, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(identityIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return IdentityClaims{}, fmt.Errorf("auth: identity expired")
		}
		return IdentityClaims{}, fmt.Errorf("auth: invalid identity: %w", err)
	}
	if !token.Valid {
		return IdentityClaims{}, fmt.Errorf("auth: invalid identity claims")
	}
	if claims.Subject == "" {
		return IdentityClaims{}, fmt.Errorf("auth: identity has no subject")
	}

	return claims, nil
}

// Cookie wraps a signed identity into the HttpOnly cookie.
func (c *IdentityCookies) Cookie(signed string) *http.Cookie {
	return &http.Cookie{
		Name:     IdentityCookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(IdentityCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite(),
	}
}

// ClearCookie deletes the identity cookie.
func (c *IdentityCookies) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     IdentityCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite(),
	}
}

func (c *IdentityCookies) sameSite() http.SameSite {
	if c.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
