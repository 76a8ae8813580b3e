package githubapp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheMargin is how long before expiry a cached installation token
// stops being handed out.
const DefaultCacheMargin = 5 * time.Minute

// InstallationToken is a scoped, short-lived (~1h) credential for one
// installation. It is App-level access and is never attributed to a user.
type InstallationToken struct {
	Token          string
	ExpiresAt      time.Time
	InstallationID int64
}

// LogValue implements slog.LogValuer.
func (t InstallationToken) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("installationID", t.InstallationID),
		slog.Time("expiresAt", t.ExpiresAt),
		slog.String("token", "REDACTED"),
	)
}

// TokenBroker exchanges installation ids for installation access tokens.
//
// CACHING:
// Tokens are cached per installation id and served until margin before
// their expiry. Concurrent misses for the same id share one exchange
// (singleflight), so a burst of requests costs GitHub one POST.
//
// Only a completed exchange is cached. The shared exchange runs on a context
// detached from the first caller's cancellation (it is still bounded by the
// client timeout); each caller stops waiting when its own context ends.
//
// No retries: a failed exchange returns ErrUnavailable and the caller falls
// back to the user credential.
type TokenBroker struct {
	issuer *Issuer
	client *Client
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[int64]InstallationToken
	group singleflight.Group
}

// NewTokenBroker creates a TokenBroker. A zero margin uses DefaultCacheMargin.
func NewTokenBroker(issuer *Issuer, client *Client, margin time.Duration, logger *slog.Logger) *TokenBroker {
	if margin <= 0 {
		margin = DefaultCacheMargin
	}
	return &TokenBroker{
		issuer: issuer,
		client: client,
		margin: margin,
		now:    time.Now,
		logger: logger,
		cache:  make(map[int64]InstallationToken),
	}
}

// Token returns a usable installation token for installationID.
func (b *TokenBroker) Token(ctx context.Context, installationID int64) (InstallationToken, error) {
	if !b.issuer.Configured() {
		return InstallationToken{}, ErrAppNotConfigured
	}

	if tok, ok := b.cached(installationID); ok {
		return tok, nil
	}

	key := strconv.FormatInt(installationID, 10)
	ch := b.group.DoChan(key, func() (any, error) {
		tok, err := b.exchange(context.WithoutCancel(ctx), installationID)
		if err != nil {
			return InstallationToken{}, err
		}
		b.store(tok)
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return InstallationToken{}, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return InstallationToken{}, res.Err
		}
		return res.Val.(InstallationToken), nil
	}
}

// Invalidate drops the cached token for installationID, e.g. after GitHub
// rejected it.
func (b *TokenBroker) Invalidate(installationID int64) {
	b.mu.Lock()
	delete(b.cache, installationID)
	b.mu.Unlock()
}

func (b *TokenBroker) cached(installationID int64) (InstallationToken, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, ok := b.cache[installationID]
	if !ok {
		return InstallationToken{}, false
	}
	if !b.now().Add(b.margin).Before(tok.ExpiresAt) {
		delete(b.cache, installationID)
		return InstallationToken{}, false
	}
	return tok, true
}

func (b *TokenBroker) store(tok InstallationToken) {
	// Without an expiry we cannot know when to stop serving it.
	if tok.ExpiresAt.IsZero() {
		return
	}
	b.mu.Lock()
	b.cache[tok.InstallationID] = tok
	b.mu.Unlock()
}

// exchange performs POST /app/installations/{id}/access_tokens.
func (b *TokenBroker) exchange(ctx context.Context, installationID int64) (InstallationToken, error) {
	assertion, err := b.issuer.Assertion(ctx)
	if err != nil {
		return InstallationToken{}, err
	}

	resp, err := b.client.CreateInstallationToken(ctx, "Bearer "+assertion.Token, installationID)
	if err != nil {
		b.logger.Warn("installation token exchange failed",
			slog.Int64("installationID", installationID),
			slog.String("error", err.Error()),
		)
		return InstallationToken{}, unavailable(err)
	}
	if resp.GetToken() == "" {
		return InstallationToken{}, fmt.Errorf("%w: empty token for installation %d", ErrUnavailable, installationID)
	}

	tok := InstallationToken{
		Token:          resp.GetToken(),
		ExpiresAt:      resp.GetExpiresAt().Time,
		InstallationID: installationID,
	}
	b.logger.Debug("installation token issued", slog.Any("token", tok))
	return tok, nil
}
