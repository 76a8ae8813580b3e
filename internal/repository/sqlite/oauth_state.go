package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/repoguard/internal/apperror"
	"github.com/sakif/repoguard/internal/model"
	"github.com/sakif/repoguard/internal/repository"
)

var _ repository.OAuthStateRepository = (*DB)(nil)

// Insert records a freshly issued state. A collision returns
// apperror.ErrConflict.
func (db *DB) Insert(ctx context.Context, state string, createdAt time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO oauth_states (state, created_at) VALUES (?, ?)
		 ON CONFLICT(state) DO NOTHING`,
		state, createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting oauth state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.Conflict("oauth state", "(redacted)")
	}
	return nil
}

// Consume performs the single conditional UPDATE that moves a state from
// unconsumed to consumed. Only the caller whose UPDATE touched the row gets
// StateConsumed; everyone else reads the row back to learn why not.
func (db *DB) Consume(ctx context.Context, state string, now time.Time, ttl, replayWindow time.Duration) (model.StateOutcome, error) {
	cutoff := now.Add(-ttl).UnixNano()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE oauth_states SET consumed_at = ?
		 WHERE state = ? AND consumed_at IS NULL AND created_at > ?`,
		now.UnixNano(), state, cutoff,
	)
	if err != nil {
		return model.StateUnknown, fmt.Errorf("sqlite: consuming oauth state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.StateUnknown, fmt.Errorf("sqlite: consuming oauth state: %w", err)
	}
	if n == 1 {
		return model.StateConsumed, nil
	}

	row, err := db.lookupState(ctx, state)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StateUnknown, nil
	}
	if err != nil {
		return model.StateUnknown, err
	}

	if row.ConsumedAt == nil {
		return model.StateExpired, nil
	}
	if now.Sub(*row.ConsumedAt) <= replayWindow {
		return model.StateDuplicate, nil
	}
	return model.StateReplayed, nil
}

// lookupState reads one row, passing sql.ErrNoRows through unwrapped.
func (db *DB) lookupState(ctx context.Context, state string) (*model.OAuthState, error) {
	var (
		createdAt  int64
		consumedAt sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT created_at, consumed_at FROM oauth_states WHERE state = ?`, state,
	).Scan(&createdAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading oauth state: %w", err)
	}

	row := &model.OAuthState{State: state, CreatedAt: time.Unix(0, createdAt)}
	if consumedAt.Valid {
		t := time.Unix(0, consumedAt.Int64)
		row.ConsumedAt = &t
	}
	return row, nil
}

// Purge deletes every state created before cutoff, consumed or not.
func (db *DB) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE created_at < ?`, cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging oauth states: %w", err)
	}
	return res.RowsAffected()
}
