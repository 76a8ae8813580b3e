package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/githubapp"
)

// Target is the GitHub resource an outbound call is about.
// Owner may be empty for user-scoped calls (GET /user); then only the user
// credential can authorize.
type Target struct {
	Owner string
	Repo  string
}

// AuthSource names which tier produced an Authorization.
type AuthSource string

const (
	AuthInstallation AuthSource = "installation"
	AuthUser         AuthSource = "user"
)

// Authorization is the header value for one outbound GitHub call.
type Authorization struct {
	Source         AuthSource
	Header         string
	InstallationID int64 // set when Source is AuthInstallation
}

// LogValue implements slog.LogValuer; the header is never logged.
func (a Authorization) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source", string(a.Source)),
		slog.Int64("installationID", a.InstallationID),
	)
}

// InstallationFinder is satisfied by *githubapp.Resolver.
type InstallationFinder interface {
	Resolve(ctx context.Context, account, repo string) (githubapp.Installation, error)
}

// InstallationTokens is satisfied by *githubapp.TokenBroker.
type InstallationTokens interface {
	Token(ctx context.Context, installationID int64) (githubapp.InstallationToken, error)
}

// Authorizer picks the Authorization header for a call to GitHub.
//
// ORDER:
//  1. App mode on and Owner known → installation token ("Bearer ghs_...")
//  2. any failure in step 1 → the request's user credential, with its scheme
//  3. nothing → apperror.ErrUnauthorized
//
// Step 1 failing is never an error by itself. Only when both tiers come up
// empty does the caller get 401.
type Authorizer struct {
	appEnabled bool
	finder     InstallationFinder
	tokens     InstallationTokens
	logger     *slog.Logger
}

// NewAuthorizer creates an Authorizer. appEnabled is typically
// Issuer.Configured(); with it false the installation tier is skipped.
func NewAuthorizer(appEnabled bool, finder InstallationFinder, tokens InstallationTokens, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		appEnabled: appEnabled,
		finder:     finder,
		tokens:     tokens,
		logger:     logger,
	}
}

// AppEnabled reports whether the installation tier is consulted at all.
func (a *Authorizer) AppEnabled() bool { return a.appEnabled }

// Authorize returns the Authorization for target on behalf of res.
func (a *Authorizer) Authorize(ctx context.Context, target Target, res Resolution) (Authorization, error) {
	if a.appEnabled && target.Owner != "" {
		authz, err := a.installation(ctx, target)
		if err == nil {
			return authz, nil
		}
		a.logInstallationFallback(target, err)
	}

	if res.Credential != nil {
		return Authorization{
			Source: AuthUser,
			Header: res.Credential.AuthorizationHeader(),
		}, nil
	}

	return Authorization{}, apperror.Unauthorized("sign in with GitHub or install the GitHub App")
}

func (a *Authorizer) installation(ctx context.Context, target Target) (Authorization, error) {
	inst, err := a.finder.Resolve(ctx, target.Owner, target.Repo)
	if err != nil {
		return Authorization{}, err
	}

	tok, err := a.tokens.Token(ctx, inst.ID)
	if err != nil {
		return Authorization{}, err
	}

	return Authorization{
		Source:         AuthInstallation,
		Header:         "Bearer " + tok.Token,
		InstallationID: inst.ID,
	}, nil
}

func (a *Authorizer) logInstallationFallback(target Target, err error) {
	attrs := []any{
		slog.String("owner", target.Owner),
		slog.String("repo", target.Repo),
		slog.String("error", err.Error()),
	}
	switch {
	case errors.Is(err, githubapp.ErrNotInstalled), errors.Is(err, githubapp.ErrAppNotConfigured):
		a.logger.Debug("no installation, using user credential", attrs...)
	default:
		a.logger.Warn("installation token unavailable, using user credential", attrs...)
	}
}
