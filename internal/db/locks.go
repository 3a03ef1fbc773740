package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireLock takes the named runtime lock for owner. A lock held by another
// owner is only taken over once it has not been refreshed for ttl.
func (db *DB) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var holder string
	var updatedAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT owner, updated_at FROM bot_runtime_locks WHERE lock_name = ?`, name,
	).Scan(&holder, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("failed to read runtime lock: %w", err)
	case holder != owner && now.Sub(updatedAt) < ttl:
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bot_runtime_locks (lock_name, owner, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(lock_name) DO UPDATE SET owner = excluded.owner, updated_at = excluded.updated_at`,
		name, owner, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to write runtime lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshLock bumps the heartbeat of a lock owned by owner. It reports false
// if the lock was taken over.
func (db *DB) RefreshLock(ctx context.Context, name, owner string) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE bot_runtime_locks SET updated_at = ? WHERE lock_name = ? AND owner = ?`,
		time.Now().UTC(), name, owner,
	)
	if err != nil {
		return false, fmt.Errorf("failed to refresh runtime lock: %w", err)
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// ReleaseLock drops the lock if owner still holds it.
func (db *DB) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM bot_runtime_locks WHERE lock_name = ? AND owner = ?`, name, owner)
	if err != nil {
		return fmt.Errorf("failed to release runtime lock: %w", err)
	}
	return nil
}
