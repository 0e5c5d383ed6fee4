package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

func NewDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers; the conditional updates below
	// rely on it rather than on SQLite's own locking retries.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS active_votes (
		vote_id TEXT PRIMARY KEY,
		requester_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		handle TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		message_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		claim_token TEXT,
		claimed_at INTEGER,
		results TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_active_votes_requester_chat ON active_votes(requester_id, chat_id);
	CREATE INDEX IF NOT EXISTS idx_active_votes_status_expires ON active_votes(status, expires_at);

	CREATE TABLE IF NOT EXISTS closed_votes (
		vote_id TEXT PRIMARY KEY,
		requester_id INTEGER NOT NULL,
		chat_id INTEGER NOT NULL,
		handle TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		message_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL,
		results TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_closed_votes_chat_closed ON closed_votes(chat_id, closed_at DESC);
	`

	// Column additions for databases created by earlier releases.
	migrations := []string{
		`ALTER TABLE active_votes ADD COLUMN display_name TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE closed_votes ADD COLUMN display_name TEXT NOT NULL DEFAULT ''`,
	}

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	for _, migration := range migrations {
		_, err := d.db.ExecContext(ctx, migration)
		if err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) DB() *sql.DB {
	return d.db
}
