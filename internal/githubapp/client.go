package githubapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v76/github"
)

const (
	// DefaultBaseURL is the public GitHub REST API.
	DefaultBaseURL = "https://api.github.com"

	// APIVersion is pinned as X-GitHub-Api-Version on every request.
	APIVersion = "2022-11-28"
)

// APIError is a non-success response from GitHub.
type APIError struct {
	Op         string
	StatusCode int
	Message    string // GitHub's "message" field, if any
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("githubapp: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("githubapp: %s: status %d", e.Op, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a GitHub 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client wraps go-github for the handful of calls the broker makes.
//
// Every call takes the Authorization header value explicitly. The client
// never decides which credential to use; that is RequestAuthorizer's job.
// The header travels on the request context to authorizationTransport, so
// one go-github client serves App assertions, installation tokens and both
// user token schemes.
//
// TIMEOUTS:
// The underlying http.Client has a Timeout, and every request also carries
// the caller's context, so a request whose deadline passes abandons the call.
type Client struct {
	gh *github.Client
}

// NewClient creates a Client for baseURL (DefaultBaseURL when empty) with
// its own http.Client bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	// go-github resolves relative paths, so the base must end in a slash.
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("githubapp: parsing API URL %q: %w", baseURL, err)
	}

	gh := github.NewClient(&http.Client{
		Timeout:   timeout,
		Transport: &authorizationTransport{base: http.DefaultTransport},
	})
	gh.BaseURL = base
	return &Client{gh: gh}, nil
}

type authorizationKey struct{}

// withAuthorization attaches the Authorization header value for the calls
// made with ctx.
func withAuthorization(ctx context.Context, authorization string) context.Context {
	return context.WithValue(ctx, authorizationKey{}, authorization)
}

// authorizationTransport sets the Authorization header carried by the
// request context, scheme included, and pins the API version.
type authorizationTransport struct {
	base http.RoundTripper
}

func (t *authorizationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("X-GitHub-Api-Version", APIVersion)
	if authorization, _ := req.Context().Value(authorizationKey{}).(string); authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return t.base.RoundTrip(req)
}

// fail turns a go-github error into an *APIError when GitHub answered, and
// a wrapped error otherwise (network, timeout, decode).
func fail(op string, err error) error {
	var (
		errResp  *github.ErrorResponse
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
		resp     *http.Response
		message  string
	)
	switch {
	case errors.As(err, &errResp):
		resp, message = errResp.Response, errResp.Message
	case errors.As(err, &rateErr):
		resp, message = rateErr.Response, rateErr.Message
	case errors.As(err, &abuseErr):
		resp, message = abuseErr.Response, abuseErr.Message
	}
	if resp == nil {
		return fmt.Errorf("githubapp: %s: %w", op, err)
	}
	return &APIError{Op: op, StatusCode: resp.StatusCode, Message: message, Err: err}
}

// =========================================================================
// APP ENDPOINTS (authorization is "Bearer <assertion>")
// =========================================================================

// RepositoryInstallation is GET /repos/{owner}/{repo}/installation.
func (c *Client) RepositoryInstallation(ctx context.Context, authorization, owner, repo string) (*github.Installation, error) {
	inst, _, err := c.gh.Apps.FindRepositoryInstallation(withAuthorization(ctx, authorization), owner, repo)
	if err != nil {
		return nil, fail("find repository installation", err)
	}
	return inst, nil
}

// UserInstallation is GET /users/{account}/installation.
func (c *Client) UserInstallation(ctx context.Context, authorization, account string) (*github.Installation, error) {
	inst, _, err := c.gh.Apps.FindUserInstallation(withAuthorization(ctx, authorization), account)
	if err != nil {
		return nil, fail("find user installation", err)
	}
	return inst, nil
}

// Installation is GET /app/installations/{id}.
func (c *Client) Installation(ctx context.Context, authorization string, installationID int64) (*github.Installation, error) {
	inst, _, err := c.gh.Apps.GetInstallation(withAuthorization(ctx, authorization), installationID)
	if err != nil {
		return nil, fail("get installation", err)
	}
	return inst, nil
}

// CreateInstallationToken is POST /app/installations/{id}/access_tokens.
func (c *Client) CreateInstallationToken(ctx context.Context, authorization string, installationID int64) (*github.InstallationToken, error) {
	tok, _, err := c.gh.Apps.CreateInstallationToken(withAuthorization(ctx, authorization), installationID, nil)
	if err != nil {
		return nil, fail("create installation token", err)
	}
	return tok, nil
}
