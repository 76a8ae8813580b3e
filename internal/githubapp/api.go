package githubapp

import (
	"context"
	"fmt"

	"github.com/google/go-github/v76/github"
)

// User is the subset of GET /user this service stores.
type User struct {
	ID        int64
	Login     string
	Email     string
	AvatarURL string
}

// Email is one entry from GET /user/emails.
type Email struct {
	Email    string
	Primary  bool
	Verified bool
}

// Repository is the subset of GET /repos/{owner}/{repo} returned to clients.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Owner         string `json:"owner"`
	Private       bool   `json:"private"`
	Description   string `json:"description,omitempty"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

// GetUser returns the user the authorization header belongs to.
func (c *Client) GetUser(ctx context.Context, authorization string) (User, error) {
	u, _, err := c.gh.Users.Get(withAuthorization(ctx, authorization), "")
	if err != nil {
		return User{}, fail("get user", err)
	}
	return User{
		ID:        u.GetID(),
		Login:     u.GetLogin(),
		Email:     u.GetEmail(),
		AvatarURL: u.GetAvatarURL(),
	}, nil
}

// ListEmails returns the authenticated user's email addresses. Needs the
// user:email scope; private emails are not on GET /user.
func (c *Client) ListEmails(ctx context.Context, authorization string) ([]Email, error) {
	list, _, err := c.gh.Users.ListEmails(withAuthorization(ctx, authorization), &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fail("list emails", err)
	}
	emails := make([]Email, 0, len(list))
	for _, e := range list {
		emails = append(emails, Email{
			Email:    e.GetEmail(),
			Primary:  e.GetPrimary(),
			Verified: e.GetVerified(),
		})
	}
	return emails, nil
}

// PrimaryEmail picks the primary verified address, or "" if there is none.
func PrimaryEmail(emails []Email) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

// GetRepository fetches owner/repo using whatever credential authorization carries.
func (c *Client) GetRepository(ctx context.Context, authorization, owner, repo string) (Repository, error) {
	if owner == "" || repo == "" {
		return Repository{}, fmt.Errorf("githubapp: owner and repo are required")
	}
	r, _, err := c.gh.Repositories.Get(withAuthorization(ctx, authorization), owner, repo)
	if err != nil {
		return Repository{}, fail("get repository", err)
	}
	return Repository{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Owner:         r.GetOwner().GetLogin(),
		Private:       r.GetPrivate(),
		Description:   r.GetDescription(),
		DefaultBranch: r.GetDefaultBranch(),
		HTMLURL:       r.GetHTMLURL(),
	}, nil
}
