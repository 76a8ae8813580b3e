// Package service holds the business rules that sit between the HTTP
// handlers and the repositories:
//
//	Handler (HTTP) → Service (rules, orchestration) → Repository (SQL)
//
// Services depend on repository interfaces, never on *sqlite.DB, so tests
// pass in-memory fakes.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/repoguard/internal/model"
	"github.com/sakif/repoguard/internal/repository"
)

const (
	// DefaultStateTTL is how long an issued state may wait for its callback.
	DefaultStateTTL = 10 * time.Minute
	// DefaultReplayWindow is how long after consumption a repeat is treated
	// as a duplicate browser delivery rather than a replay.
	DefaultReplayWindow = 2 * time.Minute

	stateBytes = 32
)

// StateLedger issues and consumes the OAuth state parameter.
//
// A state is good for exactly one callback. Consume classifies every other
// attempt so the handler can tell a double-submitted redirect (Duplicate)
// from a forged or stale one (Unknown, Expired, Replayed).
type StateLedger struct {
	states repository.OAuthStateRepository
	ttl    time.Duration
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewStateLedger creates a StateLedger. A non-positive ttl takes
// DefaultStateTTL and a negative window takes DefaultReplayWindow. A zero
// window is kept and turns off the duplicate grace.
func NewStateLedger(states repository.OAuthStateRepository, ttl, window time.Duration, logger *slog.Logger) *StateLedger {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if window < 0 {
		window = DefaultReplayWindow
	}
	return &StateLedger{
		states: states,
		ttl:    ttl,
		window: window,
		now:    time.Now,
		logger: logger,
	}
}

// Issue persists a new random state and returns it. Rows older than
// TTL plus the replay window are purged first; a purge failure is logged
// and does not stop the login.
func (l *StateLedger) Issue(ctx context.Context) (string, error) {
	now := l.now()

	if n, err := l.states.Purge(ctx, now.Add(-(l.ttl + l.window))); err != nil {
		l.logger.Warn("purging oauth states failed", slog.String("error", err.Error()))
	} else if n > 0 {
		l.logger.Debug("purged oauth states", slog.Int64("count", n))
	}

	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("service/state: generating state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	if err := l.states.Insert(ctx, state, now); err != nil {
		return "", fmt.Errorf("service/state: storing state: %w", err)
	}
	return state, nil
}

// Consume spends state. An empty state is Unknown without touching the
// store.
func (l *StateLedger) Consume(ctx context.Context, state string) (model.StateOutcome, error) {
	if state == "" {
		return model.StateUnknown, nil
	}

	outcome, err := l.states.Consume(ctx, state, l.now(), l.ttl, l.window)
	if err != nil {
		return model.StateUnknown, fmt.Errorf("service/state: %w", err)
	}

	if outcome != model.StateConsumed {
		level := slog.LevelWarn
		if outcome == model.StateDuplicate {
			level = slog.LevelInfo
		}
		l.logger.Log(ctx, level, "oauth state rejected", slog.String("outcome", outcome.String()))
	}
	return outcome, nil
}
