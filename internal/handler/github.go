package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/auth"
	"github.com/sakif/repoguard/internal/githubapp"
)

// RequestAuthorizer is satisfied by *auth.Authorizer.
type RequestAuthorizer interface {
	Authorize(ctx context.Context, target auth.Target, res auth.Resolution) (auth.Authorization, error)
}

// RepositoryFetcher is satisfied by *githubapp.Client.
type RepositoryFetcher interface {
	GetRepository(ctx context.Context, authorization, owner, repo string) (githubapp.Repository, error)
}

// TokenInvalidator is satisfied by *githubapp.TokenBroker.
type TokenInvalidator interface {
	Invalidate(installationID int64)
}

// GitHubHandler proxies read-only GitHub calls using whichever credential
// the authorizer picks for the request.
type GitHubHandler struct {
	authorizer RequestAuthorizer
	api        RepositoryFetcher
	tokens     TokenInvalidator
	logger     *slog.Logger
}

// NewGitHubHandler creates a GitHubHandler.
func NewGitHubHandler(authorizer RequestAuthorizer, api RepositoryFetcher, tokens TokenInvalidator, logger *slog.Logger) *GitHubHandler {
	return &GitHubHandler{authorizer: authorizer, api: api, tokens: tokens, logger: logger}
}

// RepositoryResponse is the repository metadata plus how it was fetched.
type RepositoryResponse struct {
	githubapp.Repository
	AuthorizedBy string `json:"authorizedBy"` // "installation" or "user"
}

// HandleGetRepository fetches repository metadata.
//
// HTTP: GET /api/github/repos/{owner}/{repo}
func (h *GitHubHandler) HandleGetRepository(w http.ResponseWriter, r *http.Request) {
	target := auth.Target{
		Owner: chi.URLParam(r, "owner"),
		Repo:  chi.URLParam(r, "repo"),
	}
	if target.Owner == "" || target.Repo == "" {
		writeError(w, apperror.ValidationFailed("repo", "owner and repo are required"))
		return
	}

	authz, err := h.authorizer.Authorize(r.Context(), target, auth.ResolutionFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	repo, err := h.api.GetRepository(r.Context(), authz.Header, target.Owner, target.Repo)
	if err != nil {
		h.logger.Warn("repository fetch failed",
			slog.String("owner", target.Owner),
			slog.String("repo", target.Repo),
			slog.Any("authorization", authz),
			slog.String("error", err.Error()),
		)
		h.dropRejectedToken(authz, err)
		writeError(w, upstreamError(err, target))
		return
	}

	writeJSON(w, http.StatusOK, RepositoryResponse{
		Repository:   repo,
		AuthorizedBy: string(authz.Source),
	})
}

// dropRejectedToken invalidates a cached installation token GitHub answered
// 401 for, so the next request exchanges a fresh one.
func (h *GitHubHandler) dropRejectedToken(authz auth.Authorization, err error) {
	var apiErr *githubapp.APIError
	if authz.Source != auth.AuthInstallation || !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		return
	}
	h.tokens.Invalidate(authz.InstallationID)
	h.logger.Info("dropped rejected installation token",
		slog.Int64("installationID", authz.InstallationID),
	)
}

// upstreamError turns a GitHub API failure into the status the client
// should see. GitHub answers 404 for private repositories the credential
// cannot read, so 404 stays 404.
func upstreamError(err error, target auth.Target) error {
	var apiErr *githubapp.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return apperror.NotFound("repository", target.Owner+"/"+target.Repo)
		case http.StatusUnauthorized:
			return apperror.Unauthorized("GitHub rejected the credential; sign in again")
		case http.StatusForbidden:
			return apperror.Forbidden("GitHub denied access to " + target.Owner + "/" + target.Repo)
		}
	}
	return apperror.Unavailable("GitHub is unavailable", err)
}
