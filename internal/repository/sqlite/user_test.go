package sqlite

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/auth"
	"github.com/sakif/repoguard/internal/model"
)

// newTestDB returns an in-memory database whose tokens are sealed with a
// fixed test key.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	sealer, err := auth.NewSealer(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}
	db, err := New(":memory:", sealer)
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, githubID int64, login, token string) *model.User {
	t.Helper()
	user := &model.User{
		GitHubID:    githubID,
		Login:       login,
		Email:       login + "@example.com",
		AvatarURL:   "https://avatars.githubusercontent.com/u/123",
		GitHubToken: token,
	}
	if err := db.Upsert(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// UPSERT TESTS
// =========================================================================

func TestUpsert_Insert(t *testing.T) {
	db := newTestDB(t)

	user := createTestUser(t, db, 12345, "octocat", "ghu_secret")

	if user.ID == "" {
		t.Error("Upsert() did not set user.ID")
	}
	if user.CreatedAt.IsZero() || user.UpdatedAt.IsZero() {
		t.Error("Upsert() did not set timestamps")
	}
	if user.GitHubToken != "ghu_secret" {
		t.Errorf("GitHubToken = %q, want round-tripped token", user.GitHubToken)
	}
}

func TestUpsert_UpdateKeepsID(t *testing.T) {
	db := newTestDB(t)
	first := createTestUser(t, db, 12345, "octocat", "ghu_one")

	second := &model.User{GitHubID: 12345, Login: "octocat-renamed", GitHubToken: "ghu_two"}
	if err := db.Upsert(context.Background(), second); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("ID changed on update: %q -> %q", first.ID, second.ID)
	}
	if second.Login != "octocat-renamed" {
		t.Errorf("Login = %q, want updated", second.Login)
	}
	if second.GitHubToken != "ghu_two" {
		t.Errorf("GitHubToken = %q, want replaced token", second.GitHubToken)
	}
}

func TestUpsert_EmptyTokenKeepsStored(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, 1, "octocat", "ghu_keep")

	refresh := &model.User{GitHubID: 1, Login: "octocat"}
	if err := db.Upsert(context.Background(), refresh); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if refresh.GitHubToken != "ghu_keep" {
		t.Errorf("GitHubToken = %q, want stored token kept", refresh.GitHubToken)
	}
}

func TestUpsert_DoesNotTouchInstallation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, 1, "octocat", "ghu_x")
	if err := db.SetInstallation(ctx, 1, 77, true); err != nil {
		t.Fatalf("SetInstallation() error = %v", err)
	}

	again := &model.User{GitHubID: 1, Login: "octocat"}
	if err := db.Upsert(ctx, again); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !again.AppInstalled || again.InstallationID != 77 {
		t.Errorf("installation = (%v, %d), want (true, 77)", again.AppInstalled, again.InstallationID)
	}
}

// The column must never hold a usable token.
func TestUpsert_TokenSealedAtRest(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, 1, "octocat", "ghu_plaintext_marker")

	var stored string
	err := db.conn.QueryRow(`SELECT github_token FROM users WHERE id = ?`, user.ID).Scan(&stored)
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	if stored == "" || bytes.Contains([]byte(stored), []byte("plaintext_marker")) {
		t.Errorf("github_token column = %q, want sealed value", stored)
	}
}

// =========================================================================
// GET TESTS
// =========================================================================

func TestGetUserByID(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, 42, "hubot", "tok_classic")

	got, err := db.GetUserByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.GitHubID != 42 || got.Login != "hubot" || got.GitHubToken != "tok_classic" {
		t.Errorf("GetUserByID() = %+v", got)
	}
}

func TestGetUserByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByID(context.Background(), "nope")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetByGitHubID(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, 42, "hubot", "")

	got, err := db.GetByGitHubID(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetByGitHubID() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}

	if _, err := db.GetByGitHubID(context.Background(), 43); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

// A row sealed under a different key is an error, not a silent empty token.
func TestGetUserByID_WrongSealKey(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, 1, "octocat", "ghu_x")

	other, err := auth.NewSealer(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}
	db.sealer = other

	_, err = db.GetUserByID(context.Background(), user.ID)
	if !errors.Is(err, auth.ErrUnsealable) {
		t.Errorf("error = %v, want ErrUnsealable", err)
	}
}

// =========================================================================
// INSTALLATION TESTS
// =========================================================================

func TestSetInstallation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, 500, "octo-org", "")

	if err := db.SetInstallation(ctx, 500, 77, true); err != nil {
		t.Fatalf("SetInstallation(true) error = %v", err)
	}
	got, _ := db.GetUserByID(ctx, user.ID)
	if !got.AppInstalled || got.InstallationID != 77 {
		t.Errorf("after install = (%v, %d), want (true, 77)", got.AppInstalled, got.InstallationID)
	}

	if err := db.SetInstallation(ctx, 500, 77, false); err != nil {
		t.Fatalf("SetInstallation(false) error = %v", err)
	}
	got, _ = db.GetUserByID(ctx, user.ID)
	if got.AppInstalled || got.InstallationID != 0 {
		t.Errorf("after uninstall = (%v, %d), want (false, 0)", got.AppInstalled, got.InstallationID)
	}
}

func TestSetInstallation_UnknownAccount(t *testing.T) {
	db := newTestDB(t)

	err := db.SetInstallation(context.Background(), 999, 1, true)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestNew_RequiresSealer(t *testing.T) {
	if _, err := New(":memory:", nil); err == nil {
		t.Error("New() with nil sealer succeeded")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.migrate(); err != nil {
		t.Errorf("second migrate() error = %v", err)
	}
}
