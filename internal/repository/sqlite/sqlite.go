// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. ":memory:" gives each test its own throwaway database.
//
// TABLES:
//
//	users         one row per GitHub account; github_token is sealed at rest
//	oauth_states  single-use anti-CSRF values with their consumption time
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/repoguard/internal/repository"
)

// DB wraps a sql.DB pool and implements the repository interfaces.
type DB struct {
	conn   *sql.DB
	sealer repository.TokenSealer
}

// New opens the database at dbPath, applies pragmas and runs migrations.
// sealer encrypts users.github_token; it must not be nil.
func New(dbPath string, sealer repository.TokenSealer) (*DB, error) {
	if sealer == nil {
		return nil, fmt.Errorf("sqlite: a token sealer is required")
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// ":memory:" is per-connection; a single connection keeps every query
	// on the same database and serialises writers.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn, sealer: sealer}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate is idempotent: CREATE ... IF NOT EXISTS for tables and
// addColumnIfNotExists for columns added after the first release.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			github_id  INTEGER NOT NULL UNIQUE,
			login      TEXT NOT NULL,
			email      TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	columns := []struct{ name, definition string }{
		{"github_token", "TEXT NOT NULL DEFAULT ''"},
		{"app_installed", "INTEGER NOT NULL DEFAULT 0"},
		{"installation_id", "INTEGER NOT NULL DEFAULT 0"},
	}
	for _, c := range columns {
		if err := db.addColumnIfNotExists("users", c.name, c.definition); err != nil {
			return fmt.Errorf("adding %s to users: %w", c.name, err)
		}
	}

	// created_at and consumed_at are unix nanoseconds so the consume query
	// compares integers rather than driver-formatted time strings.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS oauth_states (
			state       TEXT PRIMARY KEY,
			created_at  INTEGER NOT NULL,
			consumed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_oauth_states_created_at ON oauth_states(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating oauth_states table: %w", err)
	}

	return nil
}

// addColumnIfNotExists makes ALTER TABLE ADD COLUMN safe to re-run.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
