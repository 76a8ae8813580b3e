package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/repoguard/internal/model"
)

// Source names where a request's identity came from.
type Source string

const (
	SourceNone    Source = "none"
	SourceSession Source = "session"
	SourceCookie  Source = "cookie"
)

// Resolution is the outcome of credential resolution for one request.
//
// UserID may be set without a Credential (a session that names a user but
// holds no token); such a request is still unauthenticated.
type Resolution struct {
	UserID     string
	Email      string
	Credential UserCredential
	Source     Source
}

// Authenticated reports whether the request carries a usable user credential.
func (r Resolution) Authenticated() bool {
	return r.Credential != nil
}

// LogValue implements slog.LogValuer.
func (r Resolution) LogValue() slog.Value {
	kind := "none"
	if r.Credential != nil {
		kind = r.Credential.Kind()
	}
	return slog.GroupValue(
		slog.String("userID", r.UserID),
		slog.String("source", string(r.Source)),
		slog.String("credential", kind),
	)
}

// Outcome is what a Strategy decided.
type Outcome int

const (
	// Miss: this strategy has nothing to say; try the next one.
	Miss Outcome = iota
	// Match: use the returned Resolution.
	Match
	// Stop: no credential, and later strategies must not be consulted.
	Stop
)

// Strategy is one way of finding a request's user credential.
type Strategy interface {
	Name() string
	Resolve(r *http.Request) (Resolution, Outcome)
}

// CredentialResolver runs strategies in order; the first Match or Stop wins.
//
// It never returns an error: every failure inside a strategy (bad cookie,
// store unreachable, unsealable token) is logged and treated as "absent".
type CredentialResolver struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewCredentialResolver creates a resolver trying strategies in the given order.
func NewCredentialResolver(logger *slog.Logger, strategies ...Strategy) *CredentialResolver {
	return &CredentialResolver{strategies: strategies, logger: logger}
}

// Resolve returns the resolution for r, or an unauthenticated Resolution.
func (c *CredentialResolver) Resolve(r *http.Request) Resolution {
	for _, s := range c.strategies {
		res, outcome := s.Resolve(r)
		switch outcome {
		case Match:
			c.logger.Debug("credential resolved", slog.String("strategy", s.Name()), slog.Any("resolution", res))
			return res
		case Stop:
			c.logger.Debug("credential resolution stopped", slog.String("strategy", s.Name()), slog.Any("resolution", res))
			return res
		}
	}
	return Resolution{Source: SourceNone}
}

// =========================================================================
// SESSION STRATEGY
// =========================================================================

// SessionSource exposes the server-side session bound to a request.
// Implemented by session.Manager.
type SessionSource interface {
	// Lookup returns the session's user id and credential. ok is false when
	// the request has no live session.
	Lookup(r *http.Request) (userID string, cred UserCredential, ok bool)
}

// SessionStrategy resolves from the server-side session.
//
// A session that names a user but holds no credential is a Stop, not a Miss:
// the cookie fallback only applies when the session has no user at all.
type SessionStrategy struct {
	sessions SessionSource
}

// NewSessionStrategy creates a SessionStrategy.
func NewSessionStrategy(sessions SessionSource) *SessionStrategy {
	return &SessionStrategy{sessions: sessions}
}

func (s *SessionStrategy) Name() string { return "session" }

func (s *SessionStrategy) Resolve(r *http.Request) (Resolution, Outcome) {
	userID, cred, ok := s.sessions.Lookup(r)
	if !ok || userID == "" {
		return Resolution{}, Miss
	}
	res := Resolution{UserID: userID, Credential: cred, Source: SourceSession}
	if cred == nil {
		return res, Stop
	}
	return res, Match
}

// =========================================================================
// COOKIE STRATEGY
// =========================================================================

// UserLookup fetches a stored user by internal id. The user's GitHubToken
// is expected to be already unsealed.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// CookieStrategy resolves from the signed identity cookie plus the stored
// credential for the user it names.
type CookieStrategy struct {
	cookies *IdentityCookies
	users   UserLookup
	logger  *slog.Logger
}

// NewCookieStrategy creates a CookieStrategy.
func NewCookieStrategy(cookies *IdentityCookies, users UserLookup, logger *slog.Logger) *CookieStrategy {
	return &CookieStrategy{cookies: cookies, users: users, logger: logger}
}

func (s *CookieStrategy) Name() string { return "cookie" }

func (s *CookieStrategy) Resolve(r *http.Request) (Resolution, Outcome) {
	cookie, err := r.Cookie(IdentityCookieName)
	if err != nil || cookie.Value == "" {
		return Resolution{}, Miss
	}

	claims, err := s.cookies.Verify(cookie.Value)
	if err != nil {
		s.logger.Warn("identity cookie rejected", slog.String("error", err.Error()))
		return Resolution{}, Miss
	}

	user, err := s.users.GetUserByID(r.Context(), claims.UserID())
	if err != nil {
		s.logger.Warn("identity cookie user lookup failed",
			slog.String("userID", claims.UserID()),
			slog.String("error", err.Error()),
		)
		return Resolution{}, Miss
	}

	cred, err := ParseUserCredential(user.GitHubToken)
	if err != nil {
		s.logger.Debug("identity cookie user has no stored credential", slog.String("userID", user.ID))
		return Resolution{}, Miss
	}

	return Resolution{
		UserID:     user.ID,
		Email:      claims.Email,
		Credential: cred,
		Source:     SourceCookie,
	}, Match
}
