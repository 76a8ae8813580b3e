// Package repository declares the persistence interfaces the services
// depend on. Implementations live in subpackages (sqlite).
package repository

import (
	"context"
	"time"

	"github.com/sakif/repoguard/internal/model"
)

// UserRepository stores users who connected GitHub.
type UserRepository interface {
	// Upsert inserts or updates by GitHubID and fills in ID and timestamps.
	// Installation fields are left untouched on update; use SetInstallation.
	Upsert(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	// SetInstallation records the App installation status for the account
	// with the given GitHub id. Returns apperror.ErrNotFound when no user
	// has that GitHub id.
	SetInstallation(ctx context.Context, githubID, installationID int64, installed bool) error
}

// OAuthStateRepository is the single-use ledger behind the OAuth state
// parameter.
type OAuthStateRepository interface {
	Insert(ctx context.Context, state string, createdAt time.Time) error
	// Consume marks state as used and classifies the attempt. The
	// transition from unconsumed to consumed happens at most once per
	// state even under concurrent callers.
	Consume(ctx context.Context, state string, now time.Time, ttl, replayWindow time.Duration) (model.StateOutcome, error)
	// Purge deletes states created before cutoff and returns how many
	// rows went.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenSealer encrypts credentials before they reach the database.
// auth.Sealer satisfies it.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
