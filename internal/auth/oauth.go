package auth

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/repoguard/internal/githubapp"
)

// GitHubLogin is what a completed authorization code exchange yields.
type GitHubLogin struct {
	User       githubapp.User
	Credential UserCredential
}

// OAuthConfig holds the OAuth client registration.
// Endpoint defaults to github.com; tests point it at an httptest server.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Endpoint     oauth2.Endpoint
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. Redirect the user to GitHub's authorize endpoint with our ClientID.
//  2. The user approves on GitHub.
//  3. GitHub redirects back to CallbackURL with a short-lived code + state.
//  4. We exchange the code for an access token, server to server.
//  5. We call /user (and /user/emails when needed) with that token.
//
// The access token never reaches the browser. It is classified once into a
// UserCredential and from then on only travels sealed.
type GitHubProvider struct {
	config *oauth2.Config
	api    *githubapp.Client
	logger *slog.Logger
}

// NewGitHubProvider creates a GitHubProvider.
//
// Scopes we request:
//   - "read:user"  public profile (id, login, avatar)
//   - "user:email" email addresses, for users who hide theirs on /user
func NewGitHubProvider(cfg OAuthConfig, api *githubapp.Client, logger *slog.Logger) *GitHubProvider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = github.Endpoint
	}
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoint,
		},
		api:    api,
		logger: logger,
	}
}

// AuthURL returns the GitHub authorize URL carrying state.
// state comes from the OAuthStateLedger and is single-use.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the OAuth flow: code → credential → GitHub profile.
//
// Email fallback: /user only shows a public email. When it is empty we ask
// /user/emails for the primary verified address. A failure there is logged
// and the login proceeds without an email.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubLogin, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	cred, err := ParseUserCredential(oauthToken.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("auth: GitHub returned no access token: %w", err)
	}

	user, err := p.api.GetUser(ctx, cred.AuthorizationHeader())
	if err != nil {
		return nil, fmt.Errorf("auth: fetching GitHub user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	if user.Email == "" {
		emails, err := p.api.ListEmails(ctx, cred.AuthorizationHeader())
		if err != nil {
			p.logger.Warn("could not list GitHub emails",
				slog.String("login", user.Login),
				slog.String("error", err.Error()),
			)
		} else {
			user.Email = githubapp.PrimaryEmail(emails)
		}
	}

	return &GitHubLogin{User: user, Credential: cred}, nil
}
