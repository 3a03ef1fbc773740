package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/models"
)

// ContactStatus reads the from→to row only. A missing row is ContactNone.
func (db *DB) ContactStatus(ctx context.Context, fromID, toID int64) (models.ContactStatus, error) {
	var status models.ContactStatus
	err := db.conn.QueryRowContext(ctx,
		`SELECT status FROM contacts WHERE user_id = ? AND contact_user_id = ?`, fromID, toID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ContactNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read contact status: %w", err)
	}
	return status, nil
}

// CreateContactRequest inserts a pending from→to row. It reports false when
// a row for the pair already exists.
func (db *DB) CreateContactRequest(ctx context.Context, fromID, toID int64) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO contacts (user_id, contact_user_id, status, created_at) VALUES (?, ?, ?, ?)`,
		fromID, toID, models.ContactPending, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create contact request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// AcceptContact marks requester→accepter accepted and writes the reciprocal
// accepter→requester row as accepted. It reports false when both rows were
// already accepted.
func (db *DB) AcceptContact(ctx context.Context, requesterID, accepterID int64) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var forward models.ContactStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM contacts WHERE user_id = ? AND contact_user_id = ?`, requesterID, accepterID,
	).Scan(&forward)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.Wrap(apperr.NotFound, "Запит на контакт не знайдено", err)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read contact request: %w", err)
	}

	var reverse models.ContactStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM contacts WHERE user_id = ? AND contact_user_id = ?`, accepterID, requesterID,
	).Scan(&reverse)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to read reciprocal contact: %w", err)
	}

	if forward == models.ContactAccepted && reverse == models.ContactAccepted {
		return false, nil
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE contacts SET status = ? WHERE user_id = ? AND contact_user_id = ?`,
		models.ContactAccepted, requesterID, accepterID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to accept contact request: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO contacts (user_id, contact_user_id, status, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, contact_user_id) DO UPDATE SET status = excluded.status`,
		accepterID, requesterID, models.ContactAccepted, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to write reciprocal contact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteContactRequest removes a pending requester→decliner row. The
// reciprocal direction is left untouched.
func (db *DB) DeleteContactRequest(ctx context.Context, requesterID, declinerID int64) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM contacts WHERE user_id = ? AND contact_user_id = ? AND status = ?`,
		requesterID, declinerID, models.ContactPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete contact request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListContacts returns the users on the other end of userID's contact rows
// with the given status. When incoming is set, rows pointing at userID are
// used instead of rows owned by userID.
func (db *DB) ListContacts(ctx context.Context, userID int64, status models.ContactStatus, incoming bool, limit int) ([]models.User, error) {
	query := `SELECT u.id, u.telegram_id, u.role, u.region, u.phone, u.company, u.first_name, u.username, u.is_banned, u.created_at
		FROM contacts c JOIN users u ON c.contact_user_id = u.id
		WHERE c.user_id = ? AND c.status = ?
		ORDER BY c.created_at DESC, c.id DESC LIMIT ?`
	if incoming {
		query = `SELECT u.id, u.telegram_id, u.role, u.region, u.phone, u.company, u.first_name, u.username, u.is_banned, u.created_at
			FROM contacts c JOIN users u ON c.user_id = u.id
			WHERE c.contact_user_id = ? AND c.status = ?
			ORDER BY c.created_at DESC, c.id DESC LIMIT ?`
	}

	rows, err := db.conn.QueryContext(ctx, query, userID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
