package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/githubapp"
	"github.com/sakif/repoguard/internal/model"
)

// fakeFinder records Resolve calls and returns a canned answer.
type fakeFinder struct {
	inst  githubapp.Installation
	err   error
	calls []Target
}

func (f *fakeFinder) Resolve(_ context.Context, account, repo string) (githubapp.Installation, error) {
	f.calls = append(f.calls, Target{Owner: account, Repo: repo})
	return f.inst, f.err
}

type fakeTokens struct {
	tok githubapp.InstallationToken
	err error
}

func (f *fakeTokens) Token(_ context.Context, id int64) (githubapp.InstallationToken, error) {
	if f.err != nil {
		return githubapp.InstallationToken{}, f.err
	}
	tok := f.tok
	tok.InstallationID = id
	return tok, nil
}

// =========================================================================
// AUTHORIZER TESTS
// =========================================================================

func TestAuthorize_InstallationToken(t *testing.T) {
	finder := &fakeFinder{inst: githubapp.Installation{ID: 9}}
	a := NewAuthorizer(true, finder, &fakeTokens{tok: githubapp.InstallationToken{Token: "ghs_inst"}}, discardLogger())

	authz, err := a.Authorize(t.Context(), Target{Owner: "octo", Repo: "hello"}, Resolution{})

	require.NoError(t, err)
	assert.Equal(t, AuthInstallation, authz.Source)
	assert.Equal(t, "Bearer ghs_inst", authz.Header)
	assert.Equal(t, int64(9), authz.InstallationID)
	assert.Equal(t, []Target{{Owner: "octo", Repo: "hello"}}, finder.calls)
}

func TestAuthorize_AppDisabledNeverLooksUpInstallation(t *testing.T) {
	finder := &fakeFinder{inst: githubapp.Installation{ID: 9}}
	a := NewAuthorizer(false, finder, &fakeTokens{}, discardLogger())

	for _, raw := range []string{"ghu_user", "gho_user"} {
		res := Resolution{UserID: "u1", Credential: mustCredential(t, raw), Source: SourceSession}
		authz, err := a.Authorize(t.Context(), Target{Owner: "octo", Repo: "hello"}, res)

		require.NoError(t, err)
		assert.Equal(t, AuthUser, authz.Source)
	}
	assert.Empty(t, finder.calls)
}

func TestAuthorize_FallsBackToUserCredential(t *testing.T) {
	tests := []struct {
		name       string
		finderErr  error
		tokensErr  error
		raw        string
		wantHeader string
	}{
		{"not installed, app user token", githubapp.ErrNotInstalled, nil, "ghu_abc", "Bearer ghu_abc"},
		{"not installed, classic token", githubapp.ErrNotInstalled, nil, "gho_abc", "token gho_abc"},
		{"lookup unavailable", githubapp.ErrUnavailable, nil, "gho_abc", "token gho_abc"},
		{"token exchange unavailable", nil, githubapp.ErrUnavailable, "ghu_abc", "Bearer ghu_abc"},
		{"malformed key", githubapp.ErrAssertionUnavailable, nil, "gho_abc", "token gho_abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthorizer(true,
				&fakeFinder{inst: githubapp.Installation{ID: 1}, err: tt.finderErr},
				&fakeTokens{tok: githubapp.InstallationToken{Token: "ghs_x"}, err: tt.tokensErr},
				discardLogger(),
			)
			res := Resolution{UserID: "u1", Credential: mustCredential(t, tt.raw)}

			authz, err := a.Authorize(t.Context(), Target{Owner: "octo", Repo: "hello"}, res)

			require.NoError(t, err)
			assert.Equal(t, AuthUser, authz.Source)
			assert.Equal(t, tt.wantHeader, authz.Header)
		})
	}
}

func TestAuthorize_UserScopedCallSkipsInstallation(t *testing.T) {
	finder := &fakeFinder{}
	a := NewAuthorizer(true, finder, &fakeTokens{}, discardLogger())

	authz, err := a.Authorize(t.Context(), Target{}, Resolution{Credential: mustCredential(t, "ghu_me")})

	require.NoError(t, err)
	assert.Equal(t, "Bearer ghu_me", authz.Header)
	assert.Empty(t, finder.calls)
}

func TestAuthorize_NothingAvailable(t *testing.T) {
	a := NewAuthorizer(true, &fakeFinder{err: githubapp.ErrNotInstalled}, &fakeTokens{}, discardLogger())

	_, err := a.Authorize(t.Context(), Target{Owner: "octo"}, Resolution{UserID: "u1"})

	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "err = %v", err)
}

// =========================================================================
// END-TO-END SCENARIOS (real githubapp against a fake GitHub)
// =========================================================================

// fakeGitHub serves installation lookups and token exchanges. installed
// holds the paths that answer with an installation; everything else is 404.
type fakeGitHub struct {
	mu        sync.Mutex
	installed map[string]int64
	paths     []string
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	id, ok := f.installed[r.URL.Path]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/app/installations/321/access_tokens":
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token": "ghs_e2e", "expires_at": %q}`, time.Now().Add(time.Hour).Format(time.RFC3339))
	case ok:
		fmt.Fprintf(w, `{"id": %d, "account": {"login": "octo"}}`, id)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}
}

func (f *fakeGitHub) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func newE2EAuthorizer(t *testing.T, gh *fakeGitHub) *Authorizer {
	t.Helper()
	srv := httptest.NewServer(gh)
	t.Cleanup(srv.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	issuer := githubapp.NewIssuer(githubapp.Identity{AppID: 1, PrivateKeyPEM: pemBytes}, discardLogger())
	client, err := githubapp.NewClient(srv.URL, 5*time.Second)
	require.NoError(t, err)
	return NewAuthorizer(
		issuer.Configured(),
		githubapp.NewResolver(issuer, client, discardLogger()),
		githubapp.NewTokenBroker(issuer, client, 0, discardLogger()),
		discardLogger(),
	)
}

func TestE2E_RepositoryInstallation(t *testing.T) {
	gh := &fakeGitHub{installed: map[string]int64{"/repos/octo/hello/installation": 321}}
	a := newE2EAuthorizer(t, gh)

	authz, err := a.Authorize(t.Context(), Target{Owner: "octo", Repo: "hello"},
		Resolution{Credential: mustCredential(t, "gho_user")})

	require.NoError(t, err)
	assert.Equal(t, "Bearer ghs_e2e", authz.Header)
	assert.Equal(t, []string{
		"GET /repos/octo/hello/installation",
		"POST /app/installations/321/access_tokens",
	}, gh.requested())
}

func TestE2E_NoInstallationFallsBack(t *testing.T) {
	gh := &fakeGitHub{}
	a := newE2EAuthorizer(t, gh)

	authz, err := a.Authorize(t.Context(), Target{Owner: "octo", Repo: "hello"},
		Resolution{Credential: mustCredential(t, "ghu_user")})

	require.NoError(t, err)
	assert.Equal(t, AuthUser, authz.Source)
	assert.Equal(t, "Bearer ghu_user", authz.Header)
	assert.Equal(t, []string{
		"GET /repos/octo/hello/installation",
		"GET /users/octo/installation",
	}, gh.requested())
}

func TestE2E_CookieResolutionThenAuthorize(t *testing.T) {
	cookies := newTestIdentityCookies(t)
	users := &fakeUsers{users: map[string]*model.User{"u7": {ID: "u7", GitHubToken: "gho_stored"}}}
	resolver := NewCredentialResolver(discardLogger(),
		NewSessionStrategy(fakeSessions{}),
		NewCookieStrategy(cookies, users, discardLogger()),
	)
	a := newE2EAuthorizer(t, &fakeGitHub{})

	res := resolver.Resolve(requestWithIdentity(t, cookies, "u7"))
	require.True(t, res.Authenticated(), "valid cookie must resolve the stored credential")
	assert.Equal(t, "u7", res.UserID)

	authz, err := a.Authorize(t.Context(), Target{Owner: "octo", Repo: "hello"}, res)
	require.NoError(t, err)
	assert.Equal(t, "token gho_stored", authz.Header)
}
