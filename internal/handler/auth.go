package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/auth"
	"github.com/sakif/repoguard/internal/model"
	"github.com/sakif/repoguard/internal/session"
)

// OAuthProvider is satisfied by *auth.GitHubProvider.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubLogin, error)
}

// StateLedger is satisfied by *service.StateLedger.
type StateLedger interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, state string) (model.StateOutcome, error)
}

// AccountService is satisfied by *service.AuthService.
type AccountService interface {
	CompleteLogin(ctx context.Context, login *auth.GitHubLogin) (*model.User, error)
	CompleteInstallation(ctx context.Context, userID string, installationID int64) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// AuthDeps collects AuthHandler's collaborators. OAuth is nil when no OAuth
// client is registered; AppSlug is empty when App mode is off.
type AuthDeps struct {
	OAuth             OAuthProvider
	Ledger            StateLedger
	Accounts          AccountService
	Sessions          *session.Manager
	Identity          *auth.IdentityCookies
	AppEnabled        bool
	AppSlug           string
	PostLoginRedirect string
	Logger            *slog.Logger
}

// AuthHandler runs the browser side of sign-in and App installation.
//
// ROUTES:
//
//	GET  /auth/github/login             → state issued, redirect to GitHub
//	GET  /auth/github/callback          → state consumed, code exchanged, cookies set
//	GET  /auth/github/install           → state issued, redirect to the App install page
//	GET  /auth/github/install/callback  → state consumed, installation recorded
//	POST /auth/logout                   → session destroyed, cookies cleared
//	GET  /api/me                        → current user
//	GET  /api/auth/status               → which tiers could authorize this request
type AuthHandler struct {
	AuthDeps
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(deps AuthDeps) *AuthHandler {
	if deps.PostLoginRedirect == "" {
		deps.PostLoginRedirect = "/"
	}
	return &AuthHandler{AuthDeps: deps}
}

// HandleGitHubLogin redirects the browser to GitHub's authorize page.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		writeError(w, apperror.Unavailable("GitHub sign-in is not configured", nil))
		return
	}

	state, err := h.Ledger.Issue(r.Context())
	if err != nil {
		h.Logger.Error("login: issuing state failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	http.Redirect(w, r, h.OAuth.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes sign-in.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Consume the state. A duplicate delivery goes straight to the app; any
//     other rejection is 400.
//  2. Exchange the code for a profile and credential.
//  3. Store the user (installation inference happens in the service).
//  4. Create the server-side session and the signed identity cookie.
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		writeError(w, apperror.Unavailable("GitHub sign-in is not configured", nil))
		return
	}

	query := r.URL.Query()
	if !h.consumeState(w, r, query.Get("state")) {
		return
	}

	if errParam := query.Get("error"); errParam != "" {
		h.Logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		h.redirect(w, r, "auth", "denied")
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	login, err := h.OAuth.Exchange(r.Context(), code)
	if err != nil {
		h.Logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unavailable("GitHub sign-in failed", err))
		return
	}

	user, err := h.Accounts.CompleteLogin(r.Context(), login)
	if err != nil {
		h.Logger.Error("auth callback: storing user failed",
			slog.Int64("githubID", login.User.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	sess, err := h.Sessions.Create(r.Context(), user.ID, login.Credential)
	if err != nil {
		h.Logger.Error("auth callback: creating session failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	signed, err := h.Identity.Sign(user.ID, user.Email)
	if err != nil {
		h.Logger.Error("auth callback: signing identity cookie failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	http.SetCookie(w, h.Sessions.Cookie(sess))
	http.SetCookie(w, h.Identity.Cookie(signed))
	http.Redirect(w, r, h.PostLoginRedirect, http.StatusSeeOther)
}

// HandleInstall redirects to the App's installation page.
//
// HTTP: GET /auth/github/install
func (h *AuthHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	if !h.AppEnabled || h.AppSlug == "" {
		writeError(w, apperror.Unavailable("the GitHub App is not configured", nil))
		return
	}

	state, err := h.Ledger.Issue(r.Context())
	if err != nil {
		h.Logger.Error("install: issuing state failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	target := "https://github.com/apps/" + url.PathEscape(h.AppSlug) +
		"/installations/new?state=" + url.QueryEscape(state)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleInstallCallback records an installation for the signed-in user.
//
// HTTP: GET /auth/github/install/callback?installation_id=1&setup_action=install&state=yyy
//
// setup_action "request" means an organisation owner still has to approve;
// nothing is recorded yet.
func (h *AuthHandler) HandleInstallCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !h.consumeState(w, r, query.Get("state")) {
		return
	}

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("sign in before installing the GitHub App"))
		return
	}

	if query.Get("setup_action") == "request" {
		h.Logger.Info("install callback: installation awaiting approval", slog.String("userID", userID))
		h.redirect(w, r, "install", "requested")
		return
	}

	installationID, err := strconv.ParseInt(query.Get("installation_id"), 10, 64)
	if err != nil {
		writeError(w, apperror.ValidationFailed("installation_id", "installation_id must be an integer"))
		return
	}

	if _, err := h.Accounts.CompleteInstallation(r.Context(), userID, installationID); err != nil {
		h.Logger.Error("install callback: recording installation failed",
			slog.String("userID", userID),
			slog.Int64("installationID", installationID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.redirect(w, r, "install", "ok")
}

// HandleLogout destroys the session and clears both cookies.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Delete(r.Context(), session.IDFromRequest(r)); err != nil {
		// The cookies still go; a leftover record expires on its own.
		h.Logger.Warn("logout: deleting session failed", slog.String("error", err.Error()))
	}

	http.SetCookie(w, h.Sessions.ClearCookie())
	http.SetCookie(w, h.Identity.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return
	}

	user, err := h.Accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		h.Logger.Error("HandleMe: user lookup failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// StatusResponse describes the request's auth position without exposing
// any credential.
type StatusResponse struct {
	Authenticated  bool   `json:"authenticated"`
	UserID         string `json:"userId,omitempty"`
	Source         string `json:"source"`
	CredentialKind string `json:"credentialKind,omitempty"`
	OAuthEnabled   bool   `json:"oauthEnabled"`
	AppEnabled     bool   `json:"appEnabled"`
}

// HandleStatus reports which tiers could authorize this request.
//
// HTTP: GET /api/auth/status
func (h *AuthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	res := auth.ResolutionFromContext(r.Context())

	resp := StatusResponse{
		Authenticated: res.Authenticated(),
		UserID:        res.UserID,
		Source:        string(res.Source),
		OAuthEnabled:  h.OAuth != nil,
		AppEnabled:    h.AppEnabled,
	}
	if res.Credential != nil {
		resp.CredentialKind = res.Credential.Kind()
	}
	writeJSON(w, http.StatusOK, resp)
}

// consumeState spends state and writes the response itself unless the
// caller should continue.
func (h *AuthHandler) consumeState(w http.ResponseWriter, r *http.Request, state string) bool {
	outcome, err := h.Ledger.Consume(r.Context(), state)
	if err != nil {
		h.Logger.Error("consuming oauth state failed", slog.String("error", err.Error()))
		writeError(w, err)
		return false
	}

	switch outcome {
	case model.StateConsumed:
		return true
	case model.StateDuplicate:
		// The same redirect arrived twice; the first one did the work.
		http.Redirect(w, r, h.PostLoginRedirect, http.StatusSeeOther)
		return false
	default:
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state: "+outcome.String()))
		return false
	}
}

func (h *AuthHandler) redirect(w http.ResponseWriter, r *http.Request, key, value string) {
	target, err := url.Parse(h.PostLoginRedirect)
	if err != nil {
		target = &url.URL{Path: "/"}
	}
	q := target.Query()
	q.Set(key, value)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}
