// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents an account that connected GitHub through the OAuth flow.
//
// GitHubID is GitHub's numeric user id and is UNIQUE in the store; ID is our
// own xid so primary keys are not tied to GitHub's numbering.
//
// GitHubToken holds the raw OAuth credential in memory only. The repository
// seals it before writing and unseals it on read, so the column never holds
// a usable token. It is never serialised to JSON.
type User struct {
	ID             string    `json:"id"             db:"id"`
	GitHubID       int64     `json:"githubId"       db:"github_id"`
	Login          string    `json:"login"          db:"login"`
	Email          string    `json:"email"          db:"email"`
	AvatarURL      string    `json:"avatarUrl"      db:"avatar_url"`
	GitHubToken    string    `json:"-"              db:"github_token"`
	AppInstalled   bool      `json:"appInstalled"   db:"app_installed"`
	InstallationID int64     `json:"installationId" db:"installation_id"` // 0 when not installed
	CreatedAt      time.Time `json:"createdAt"      db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt"      db:"updated_at"`
}
