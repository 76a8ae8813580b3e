package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/model"
	"github.com/sakif/repoguard/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, github_id, login, email, avatar_url, github_token,
	app_installed, installation_id, created_at, updated_at`

// Upsert inserts or updates a user keyed on github_id and reloads the
// canonical row into user.
//
// The sealed token is replaced only when user.GitHubToken is non-empty, so a
// profile refresh without a credential keeps the stored one. Installation
// columns are written on insert only.
func (db *DB) Upsert(ctx context.Context, user *model.User) error {
	sealed, err := db.sealer.Seal(user.GitHubToken)
	if err != nil {
		return fmt.Errorf("sqlite: sealing token for githubID %d: %w", user.GitHubID, err)
	}

	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, github_id, login, email, avatar_url, github_token,
		                    app_installed, installation_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(github_id) DO UPDATE SET
		     login        = excluded.login,
		     email        = excluded.email,
		     avatar_url   = excluded.avatar_url,
		     github_token = CASE WHEN excluded.github_token = '' THEN users.github_token
		                         ELSE excluded.github_token END,
		     updated_at   = excluded.updated_at`,
		xid.New().String(),
		user.GitHubID,
		user.Login,
		user.Email,
		user.AvatarURL,
		sealed,
		user.AppInstalled,
		user.InstallationID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting user (githubID=%d): %w", user.GitHubID, err)
	}

	stored, err := db.GetByGitHubID(ctx, user.GitHubID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

// GetUserByID returns apperror.ErrNotFound if no user has that id.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return db.scanUser(row, id)
}

// GetByGitHubID returns apperror.ErrNotFound if no user has that GitHub id.
func (db *DB) GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID)
	return db.scanUser(row, "github:"+strconv.FormatInt(githubID, 10))
}

// SetInstallation updates the installation columns for the account. An
// uninstall clears installation_id.
func (db *DB) SetInstallation(ctx context.Context, githubID, installationID int64, installed bool) error {
	if !installed {
		installationID = 0
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET app_installed = ?, installation_id = ?, updated_at = ?
		 WHERE github_id = ?`,
		installed, installationID, time.Now().UTC(), githubID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting installation for githubID %d: %w", githubID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: setting installation for githubID %d: %w", githubID, err)
	}
	if n == 0 {
		return apperror.NotFound("user", "github:"+strconv.FormatInt(githubID, 10))
	}
	return nil
}

func (db *DB) scanUser(row *sql.Row, key string) (*model.User, error) {
	var (
		u      model.User
		sealed string
	)
	err := row.Scan(
		&u.ID,
		&u.GitHubID,
		&u.Login,
		&u.Email,
		&u.AvatarURL,
		&sealed,
		&u.AppInstalled,
		&u.InstallationID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", key, err)
	}

	u.GitHubToken, err = db.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening stored token for user %s: %w", u.ID, err)
	}
	return &u, nil
}
