package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/auth"
	"github.com/sakif/repoguard/internal/githubapp"
	"github.com/sakif/repoguard/internal/model"
	"github.com/sakif/repoguard/internal/repository"
)

// inferenceTimeout bounds the installation lookup done during login.
const inferenceTimeout = 3 * time.Second

// InstallationLookup is the part of githubapp.Resolver the auth flow uses.
type InstallationLookup interface {
	Resolve(ctx context.Context, account, repo string) (githubapp.Installation, error)
	Get(ctx context.Context, installationID int64) (githubapp.Installation, error)
}

// AuthService completes the OAuth and App installation callbacks.
//
//	AuthHandler → AuthService → UserRepository
//	                          ↘ InstallationLookup (App mode only)
//
// It never touches cookies or requests; the handler owns HTTP.
type AuthService struct {
	users    repository.UserRepository
	installs InstallationLookup
	logger   *slog.Logger
}

// NewAuthService creates an AuthService. installs is nil in OAuth-only mode.
func NewAuthService(users repository.UserRepository, installs InstallationLookup, logger *slog.Logger) *AuthService {
	return &AuthService{users: users, installs: installs, logger: logger}
}

// CompleteLogin stores the GitHub profile and credential from a finished
// code exchange and returns the canonical user.
//
// In App mode it then tries to learn whether the App is installed on the
// user's account. That lookup is best-effort: it has its own short timeout,
// and any failure is logged and leaves the stored status alone.
func (s *AuthService) CompleteLogin(ctx context.Context, login *auth.GitHubLogin) (*model.User, error) {
	if login == nil || login.Credential == nil {
		return nil, apperror.ValidationFailed("login", "missing GitHub profile or credential")
	}

	user := &model.User{
		GitHubID:    login.User.ID,
		Login:       login.User.Login,
		Email:       login.User.Email,
		AvatarURL:   login.User.AvatarURL,
		GitHubToken: login.Credential.Token(),
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", user.GitHubID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", user.Login),
		slog.String("credential", login.Credential.Kind()),
	)

	s.inferInstallation(ctx, user)
	return user, nil
}

func (s *AuthService) inferInstallation(ctx context.Context, user *model.User) {
	if s.installs == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, inferenceTimeout)
	defer cancel()

	log := s.logger.With(slog.String("login", user.Login))

	inst, err := s.installs.Resolve(ctx, user.Login, "")
	switch {
	case err == nil:
		if user.AppInstalled && user.InstallationID == inst.ID {
			return
		}
		s.record(ctx, log, user, inst.ID, true)
	case errors.Is(err, githubapp.ErrNotInstalled):
		if user.AppInstalled {
			s.record(ctx, log, user, 0, false)
		}
	case errors.Is(err, githubapp.ErrAppNotConfigured):
	default:
		log.Warn("installation lookup during login failed", slog.String("error", err.Error()))
	}
}

func (s *AuthService) record(ctx context.Context, log *slog.Logger, user *model.User, installationID int64, installed bool) {
	if err := s.users.SetInstallation(ctx, user.GitHubID, installationID, installed); err != nil {
		log.Warn("recording inferred installation failed", slog.String("error", err.Error()))
		return
	}
	user.AppInstalled = installed
	user.InstallationID = installationID
	log.Info("installation status inferred at login",
		slog.Bool("installed", installed),
		slog.Int64("installationID", installationID),
	)
}

// CompleteInstallation records an installation reported by the App's setup
// callback for the signed-in user.
//
// GitHub is asked for the installation rather than trusting the query
// string. The signed-in user is marked installed; when the installation
// belongs to a different account that also has a user row (an organisation
// the user administers, say) that row is updated too.
func (s *AuthService) CompleteInstallation(ctx context.Context, userID string, installationID int64) (*model.User, error) {
	if s.installs == nil {
		return nil, fmt.Errorf("service/auth: %w", githubapp.ErrAppNotConfigured)
	}
	if installationID <= 0 {
		return nil, apperror.ValidationFailed("installation_id", "must be a positive integer")
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	inst, err := s.installs.Get(ctx, installationID)
	if err != nil {
		if errors.Is(err, githubapp.ErrNotInstalled) {
			return nil, apperror.NotFound("installation", fmt.Sprint(installationID))
		}
		return nil, fmt.Errorf("service/auth: looking up installation %d: %w", installationID, err)
	}

	if err := s.users.SetInstallation(ctx, user.GitHubID, inst.ID, true); err != nil {
		return nil, fmt.Errorf("service/auth: recording installation %d: %w", inst.ID, err)
	}
	user.AppInstalled = true
	user.InstallationID = inst.ID

	if inst.AccountID != 0 && inst.AccountID != user.GitHubID {
		err := s.users.SetInstallation(ctx, inst.AccountID, inst.ID, true)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("recording installation for account failed",
				slog.String("account", inst.Account),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("app installation recorded",
		slog.String("userID", user.ID),
		slog.String("account", inst.Account),
		slog.Int64("installationID", inst.ID),
	)
	return user, nil
}

// GetUserByID returns the user for an internal id.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user id must not be empty")
	}

	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}
