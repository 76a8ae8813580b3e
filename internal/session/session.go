// Package session keeps server-side login state in a kv.Store.
//
// The browser only holds an opaque id in the "sid" cookie. The stored value
// names the user and carries their GitHub credential sealed with the token
// sealer, so a dump of Redis does not yield usable tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/repoguard/internal/auth"
	"github.com/sakif/repoguard/internal/kv"
)

// CookieName is the session id cookie.
const CookieName = "sid"

const keyPrefix = "session:"

// ErrNotFound means no live session exists for the id.
var ErrNotFound = errors.New("session: not found")

// Session is one logged-in browser.
type Session struct {
	ID         string
	UserID     string
	Credential auth.UserCredential // nil when the session holds no token
	CreatedAt  time.Time
}

// record is the stored JSON form.
type record struct {
	UserID      string    `json:"user_id"`
	SealedToken string    `json:"sealed_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manager creates, loads and destroys sessions.
type Manager struct {
	store  kv.Store
	sealer *auth.Sealer
	ttl    time.Duration
	secure bool
	logger *slog.Logger
}

// NewManager creates a Manager. secure mirrors COOKIE_SECURE.
func NewManager(store kv.Store, sealer *auth.Sealer, ttl time.Duration, secure bool, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		sealer: sealer,
		ttl:    ttl,
		secure: secure,
		logger: logger,
	}
}

// Create stores a new session for userID.
func (m *Manager) Create(ctx context.Context, userID string, cred auth.UserCredential) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session: user id is required")
	}

	rec := record{UserID: userID, CreatedAt: time.Now().UTC()}
	if cred != nil {
		sealed, err := m.sealer.Seal(cred.Token())
		if err != nil {
			return nil, fmt.Errorf("session: sealing credential: %w", err)
		}
		rec.SealedToken = sealed
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("session: encoding: %w", err)
	}

	id := uuid.NewString()
	if err := m.store.Set(ctx, keyPrefix+id, raw, m.ttl); err != nil {
		return nil, fmt.Errorf("session: storing: %w", err)
	}

	return &Session{ID: id, UserID: userID, Credential: cred, CreatedAt: rec.CreatedAt}, nil
}

// Get loads a session by id.
//
// An unsealable or unparseable credential does not fail the load: the
// session is returned without a credential, which the resolver treats as
// "user known, no token".
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	raw, err := m.store.Get(ctx, keyPrefix+id)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: loading: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("session: decoding: %w", err)
	}

	s := &Session{ID: id, UserID: rec.UserID, CreatedAt: rec.CreatedAt}
	if rec.SealedToken != "" {
		token, err := m.sealer.Open(rec.SealedToken)
		if err != nil {
			m.logger.Warn("session credential cannot be opened", slog.String("userID", rec.UserID))
			return s, nil
		}
		if cred, err := auth.ParseUserCredential(token); err == nil {
			s.Credential = cred
		}
	}
	return s, nil
}

// Delete destroys a session. Missing sessions are not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Delete(ctx, keyPrefix+id); err != nil {
		return fmt.Errorf("session: deleting: %w", err)
	}
	return nil
}

// Lookup implements auth.SessionSource.
//
// Every failure (no cookie, unknown id, store down) is logged at most at
// warn and reported as "no session".
func (m *Manager) Lookup(r *http.Request) (string, auth.UserCredential, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", nil, false
	}

	s, err := m.Get(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("session lookup failed", slog.String("error", err.Error()))
		}
		return "", nil, false
	}
	return s.UserID, s.Credential, true
}

// IDFromRequest returns the session id cookie value, if any.
func IDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Cookie returns the "sid" cookie for s.
func (m *Manager) Cookie(s *Session) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite(),
	}
}

// ClearCookie deletes the "sid" cookie.
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite(),
	}
}

func (m *Manager) sameSite() http.SameSite {
	if m.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

var _ auth.SessionSource = (*Manager)(nil)
