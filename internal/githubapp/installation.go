package githubapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v76/github"
)

// Installation is one account's grant of the App's permissions.
type Installation struct {
	ID          int64
	Account     string // login the installation belongs to
	AccountID   int64
	AccountType string // "User" or "Organization"
	Repository  string // set when the repository-scoped lookup matched
}

func installationFrom(in *github.Installation, repo string) Installation {
	account := in.GetAccount()
	return Installation{
		ID:          in.GetID(),
		Account:     account.GetLogin(),
		AccountID:   account.GetID(),
		AccountType: account.GetType(),
		Repository:  repo,
	}
}

// Resolver maps an account (and optionally a repository) to an installation.
//
// LOOKUP ORDER:
//
//	repo given:  GET /repos/{owner}/{repo}/installation
//	             404 → GET /users/{owner}/installation
//	repo empty:  GET /users/{owner}/installation
//
// A 404 at the last stage is ErrNotInstalled. Anything else (401, 403, 429,
// 5xx, network, decode) is ErrUnavailable so the caller can still fall back
// to a user credential.
type Resolver struct {
	issuer *Issuer
	client *Client
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(issuer *Issuer, client *Client, logger *slog.Logger) *Resolver {
	return &Resolver{issuer: issuer, client: client, logger: logger}
}

// Resolve finds the installation for account, preferring the repository-scoped
// lookup when repo is non-empty.
func (r *Resolver) Resolve(ctx context.Context, account, repo string) (Installation, error) {
	if account == "" {
		return Installation{}, fmt.Errorf("githubapp: resolving installation: account must not be empty")
	}

	assertion, err := r.issuer.Assertion(ctx)
	if err != nil {
		return Installation{}, err
	}
	bearer := "Bearer " + assertion.Token

	if repo != "" {
		inst, err := checked(r.client.RepositoryInstallation(ctx, bearer, account, repo))
		switch {
		case err == nil:
			return installationFrom(inst, repo), nil
		case !IsNotFound(err):
			return Installation{}, unavailable(err)
		}
		r.logger.Debug("no repository installation, trying account",
			slog.String("account", account),
			slog.String("repo", repo),
		)
	}

	inst, err := checked(r.client.UserInstallation(ctx, bearer, account))
	if err != nil {
		if IsNotFound(err) {
			return Installation{}, ErrNotInstalled
		}
		return Installation{}, unavailable(err)
	}

	return installationFrom(inst, ""), nil
}

// Get fetches one installation by id. Used by the installation callback to
// learn which account an installation_id belongs to.
func (r *Resolver) Get(ctx context.Context, installationID int64) (Installation, error) {
	assertion, err := r.issuer.Assertion(ctx)
	if err != nil {
		return Installation{}, err
	}

	inst, err := checked(r.client.Installation(ctx, "Bearer "+assertion.Token, installationID))
	if err != nil {
		if IsNotFound(err) {
			return Installation{}, ErrNotInstalled
		}
		return Installation{}, unavailable(err)
	}
	return installationFrom(inst, ""), nil
}

// checked rejects an installation without an id, which GitHub never sends
// for a real match.
func checked(inst *github.Installation, err error) (*github.Installation, error) {
	if err != nil {
		return nil, err
	}
	if inst.GetID() == 0 {
		return nil, fmt.Errorf("githubapp: GitHub returned an installation without id")
	}
	return inst, nil
}

// unavailable tags err with ErrUnavailable unless it already carries one of
// the package sentinels.
func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrAppNotConfigured) ||
		errors.Is(err, ErrAssertionUnavailable) || errors.Is(err, ErrNotInstalled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
