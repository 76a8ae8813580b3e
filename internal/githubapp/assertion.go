package githubapp

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// assertionLifetime is how long the JWT is valid after "now".
	// GitHub rejects App JWTs with exp more than 10 minutes in the future.
	assertionLifetime = 10 * time.Minute

	// assertionBackdate moves iat into the past so a signer clock that runs
	// slightly ahead of GitHub's does not produce a token "from the future".
	assertionBackdate = 60 * time.Second
)

// Assertion is a signed App JWT plus the claims it carries.
// It is never persisted.
type Assertion struct {
	Token     string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// LogValue implements slog.LogValuer so an Assertion can be logged
// without leaking the token.
func (a Assertion) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("iss", a.Issuer),
		slog.Time("iat", a.IssuedAt),
		slog.Time("exp", a.ExpiresAt),
		slog.String("token", "REDACTED"),
	)
}

// Issuer mints App assertions.
//
// CONSTRUCTION NEVER FAILS:
// A missing identity puts the issuer in OAuth-only mode (ErrAppNotConfigured).
// A key that does not parse is logged once here and then reported as
// ErrAssertionUnavailable on every call, so a bad key degrades App mode
// instead of taking the server down.
type Issuer struct {
	issuer string
	key    *rsa.PrivateKey
	keyErr error
	now    func() time.Time
	logger *slog.Logger
}

// NewIssuer creates an Issuer from the static identity.
func NewIssuer(id Identity, logger *slog.Logger) *Issuer {
	iss := &Issuer{now: time.Now, logger: logger}

	if !id.Configured() {
		return iss
	}

	iss.issuer = strconv.FormatInt(id.AppID, 10)

	key, err := jwt.ParseRSAPrivateKeyFromPEM(id.PrivateKeyPEM)
	if err != nil {
		iss.keyErr = fmt.Errorf("githubapp: parsing app private key: %w", err)
		logger.Error("GitHub App private key is malformed, App mode disabled",
			slog.Int64("appID", id.AppID),
			slog.String("error", err.Error()),
		)
		return iss
	}
	iss.key = key

	return iss
}

// Configured reports whether App mode is enabled, regardless of whether the
// key is usable.
func (i *Issuer) Configured() bool {
	return i.issuer != ""
}

// AppID returns the issuer claim ("" in OAuth-only mode).
func (i *Issuer) AppID() string {
	return i.issuer
}

// Assertion signs a fresh App JWT.
//
// Claims: {iat: now-60s, exp: now+600s, iss: appID}. Timestamps are truncated
// to whole seconds because GitHub rejects fractional NumericDates, which
// keeps exp-iat at exactly 660 seconds.
func (i *Issuer) Assertion(_ context.Context) (Assertion, error) {
	if !i.Configured() {
		return Assertion{}, ErrAppNotConfigured
	}
	if i.keyErr != nil {
		return Assertion{}, fmt.Errorf("%w: %w", ErrAssertionUnavailable, i.keyErr)
	}

	now := i.now().Truncate(time.Second)
	iat := now.Add(-assertionBackdate)
	exp := now.Add(assertionLifetime)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	signed, err := token.SignedString(i.key)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: signing: %w", ErrAssertionUnavailable, err)
	}

	return Assertion{
		Token:     signed,
		Issuer:    i.issuer,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
