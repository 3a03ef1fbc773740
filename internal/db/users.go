package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/models"
)

const userColumns = `id, telegram_id, role, region, phone, company, first_name, username, is_banned, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.ExternalID, &u.Role, &u.Region, &u.Phone, &u.Company,
		&u.FirstName, &u.Username, &u.IsBanned, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser creates the user as a guest on first contact and refreshes the
// Telegram display fields on every later one.
func (db *DB) EnsureUser(ctx context.Context, externalID int64, firstName, username string, admin bool) (*models.User, error) {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (telegram_id, role, first_name, username)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(telegram_id) DO UPDATE SET first_name = excluded.first_name, username = excluded.username`,
		externalID, models.RoleGuest, firstName, username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	if admin {
		_, err = db.conn.ExecContext(ctx, `UPDATE users SET role = ? WHERE telegram_id = ?`, models.RoleAdmin, externalID)
		if err != nil {
			return nil, fmt.Errorf("failed to promote admin: %w", err)
		}
	}

	return db.GetUserByExternalID(ctx, externalID)
}

// GetUserByExternalID looks a user up by Telegram ID.
func (db *DB) GetUserByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.NotFound, "Профіль не знайдено", err)
	}
	return u, err
}

// GetUserByID looks a user up by internal ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.NotFound, "Профіль не знайдено", err)
	}
	return u, err
}

var editableUserFields = map[string]bool{
	"role":    true,
	"region":  true,
	"phone":   true,
	"company": true,
}

// UpdateUserField sets one profile field. Only role, region, phone and
// company may be changed.
func (db *DB) UpdateUserField(ctx context.Context, externalID int64, field, value string) error {
	if !editableUserFields[field] {
		return apperr.New(apperr.InvalidInput, fmt.Sprintf("Поле %q не можна змінити", field))
	}
	if field == "role" && !models.Role(value).Valid() {
		return apperr.New(apperr.InvalidInput, fmt.Sprintf("Невідома роль %q", value))
	}

	// field is whitelisted above
	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = ? WHERE telegram_id = ?`, field), value, externalID)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", field, err)
	}
	return requireAffected(result, apperr.New(apperr.NotFound, "Профіль не знайдено"))
}

// SetBanned toggles the banned flag.
func (db *DB) SetBanned(ctx context.Context, externalID int64, banned bool) error {
	result, err := db.conn.ExecContext(ctx, `UPDATE users SET is_banned = ? WHERE telegram_id = ?`, banned, externalID)
	if err != nil {
		return fmt.Errorf("failed to update ban flag: %w", err)
	}
	return requireAffected(result, apperr.New(apperr.NotFound, "Профіль не знайдено"))
}

func requireAffected(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
