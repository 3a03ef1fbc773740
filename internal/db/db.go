package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

// New opens the shared SQLite database and applies pending migrations.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// IMMEDIATE transactions take the write lock up front, which serializes
	// check-then-insert sequences across connections.
	connStr := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telegram_id INTEGER NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'guest',
		region TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		is_banned INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_user_id INTEGER NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		crop TEXT NOT NULL,
		volume REAL NOT NULL DEFAULT 0,
		price REAL NOT NULL DEFAULT 0,
		region TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_lots_owner ON lots(owner_user_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		contact_user_id INTEGER NOT NULL REFERENCES users(id),
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, contact_user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_contact ON contacts(contact_user_id);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user1_id INTEGER NOT NULL REFERENCES users(id),
		user2_id INTEGER NOT NULL REFERENCES users(id),
		lot_id INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		CHECK (user1_id < user2_id)
	);

	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user1 ON chat_sessions(user1_id);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user2 ON chat_sessions(user2_id);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_chat_sessions_active
		ON chat_sessions(user1_id, user2_id, COALESCE(lot_id, 0)) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES chat_sessions(id),
		sender_user_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id);
	`,
	`
	CREATE TABLE IF NOT EXISTS counter_offers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lot_id INTEGER NOT NULL REFERENCES lots(id),
		sender_user_id INTEGER NOT NULL REFERENCES users(id),
		offered_price REAL NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		resolved_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_counter_offers_lot ON counter_offers(lot_id);
	CREATE INDEX IF NOT EXISTS idx_counter_offers_sender ON counter_offers(sender_user_id);
	CREATE INDEX IF NOT EXISTS idx_counter_offers_status ON counter_offers(status);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_counter_offers_pending
		ON counter_offers(lot_id, sender_user_id) WHERE status = 'pending';
	`,
	`
	CREATE TABLE IF NOT EXISTS bot_runtime_locks (
		lock_name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`,
}

// Migrate applies every migration newer than the stored schema version.
func (db *DB) Migrate(ctx context.Context) error {
	var version int
	if err := db.conn.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}

	return nil
}

// SchemaVersion returns the number of applied migrations.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version)
	return version, err
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
