// internal/store/store.go
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the sqlite-backed configuration repository: settings, mappings,
// filters, admins, health records and the manual-forward audit trail. It
// implements types.ConfigRepository.
//
// go-sqlite3 supports one writer at a time, so all writes are serialized
// behind the mutex.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channels (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	discord_id         TEXT NOT NULL UNIQUE,
	guild_id           TEXT NOT NULL DEFAULT '',
	telegram_chat_id   TEXT NOT NULL,
	telegram_thread_id INTEGER NOT NULL DEFAULT 0,
	label              TEXT NOT NULL DEFAULT '',
	active             INTEGER NOT NULL DEFAULT 1,
	added_at           TEXT NOT NULL DEFAULT '',
	monitor_mode       TEXT NOT NULL DEFAULT 'stream',
	dedup_mode         TEXT NOT NULL DEFAULT 'inherit',
	last_message_id    TEXT NOT NULL DEFAULT '',
	known_pinned_ids   TEXT NOT NULL DEFAULT '[]',
	pinned_synced      INTEGER NOT NULL DEFAULT 0,
	known_thread_ids   TEXT NOT NULL DEFAULT '[]',
	forum_synced       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS channel_filters (
	channel_id  INTEGER NOT NULL,
	filter_type TEXT NOT NULL,
	value       TEXT NOT NULL,
	UNIQUE(channel_id, filter_type, value)
);
CREATE TABLE IF NOT EXISTS admins (
	user_id  INTEGER NOT NULL DEFAULT 0,
	username TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS manual_forwards (
	id           TEXT PRIMARY KEY,
	discord_id   TEXT NOT NULL,
	label        TEXT NOT NULL DEFAULT '',
	forwarded    INTEGER NOT NULL DEFAULT 0,
	mode         TEXT NOT NULL DEFAULT '',
	note         TEXT NOT NULL DEFAULT '',
	requested_by INTEGER NOT NULL DEFAULT 0,
	requested_at TEXT NOT NULL
);
`

// Open opens (or creates) the store at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
