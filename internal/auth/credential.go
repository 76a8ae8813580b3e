package auth

import (
	"errors"
	"log/slog"
	"strings"
)

// appUserTokenPrefix marks user-to-server tokens minted by a GitHub App's
// OAuth flow. Everything else (OAuth App tokens, PATs) is a classic token.
const appUserTokenPrefix = "ghu_"

// ErrEmptyCredential is returned by ParseUserCredential for a blank token.
var ErrEmptyCredential = errors.New("auth: empty credential")

// UserCredential is a GitHub credential that acts as a specific user.
//
// It is a closed set: AppUserToken or ClassicToken. The variant is decided
// once, in ParseUserCredential, and carries its own Authorization scheme so
// no caller ever inspects the token prefix again.
type UserCredential interface {
	// Token returns the raw token. Only the sealer and the outbound
	// Authorization header should ever see it.
	Token() string
	// AuthorizationHeader returns the full header value, scheme included.
	AuthorizationHeader() string
	// Kind names the variant for logs and status responses.
	Kind() string

	credential()
}

// AppUserToken is a user-to-server token issued to a GitHub App ("ghu_").
// Sent with the Bearer scheme.
type AppUserToken struct{ token string }

func (c AppUserToken) Token() string               { return c.token }
func (c AppUserToken) AuthorizationHeader() string { return "Bearer " + c.token }
func (c AppUserToken) Kind() string                { return "app_user" }
func (c AppUserToken) String() string              { return "AppUserToken(REDACTED)" }
func (c AppUserToken) LogValue() slog.Value        { return slog.StringValue("app_user:REDACTED") }
func (AppUserToken) credential()                   {}

// ClassicToken is an OAuth App token or personal access token.
// Sent with the legacy "token" scheme.
type ClassicToken struct{ token string }

func (c ClassicToken) Token() string               { return c.token }
func (c ClassicToken) AuthorizationHeader() string { return "token " + c.token }
func (c ClassicToken) Kind() string                { return "classic" }
func (c ClassicToken) String() string              { return "ClassicToken(REDACTED)" }
func (c ClassicToken) LogValue() slog.Value        { return slog.StringValue("classic:REDACTED") }
func (ClassicToken) credential()                   {}

// ParseUserCredential classifies a raw token string.
func ParseUserCredential(raw string) (UserCredential, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return nil, ErrEmptyCredential
	}
	if strings.HasPrefix(token, appUserTokenPrefix) {
		return AppUserToken{token: token}, nil
	}
	return ClassicToken{token: token}, nil
}
