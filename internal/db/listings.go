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

// CreateListing inserts a lot. The market screens own lot creation; this is
// used by the CLI and tests.
func (db *DB) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	if l.Status == "" {
		l.Status = models.ListingActive
	}
	now := time.Now().UTC()
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO lots (owner_user_id, type, crop, volume, price, region, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.OwnerID, l.Type, l.Crop, l.Volume, l.Price, l.Region, l.Status, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	created := *l
	created.ID = id
	created.CreatedAt = now
	return &created, nil
}

// GetListing retrieves a lot by ID
func (db *DB) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	var l models.Listing
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, owner_user_id, type, crop, volume, price, region, status, created_at
		 FROM lots WHERE id = ?`, id,
	).Scan(&l.ID, &l.OwnerID, &l.Type, &l.Crop, &l.Volume, &l.Price, &l.Region, &l.Status, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.NotFound, "Лот не знайдено", err)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CloseListing marks an active lot closed.
func (db *DB) CloseListing(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE lots SET status = ? WHERE id = ? AND status = ?`,
		models.ListingClosed, id, models.ListingActive,
	)
	if err != nil {
		return fmt.Errorf("failed to close listing: %w", err)
	}
	return requireAffected(result, apperr.New(apperr.Conflict, "Лот вже закрито або не існує"))
}

// ListActiveListings returns the newest active lots not owned by excludeOwner.
func (db *DB) ListActiveListings(ctx context.Context, excludeOwner int64, limit int) ([]models.Listing, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, owner_user_id, type, crop, volume, price, region, status, created_at
		 FROM lots WHERE status = ? AND owner_user_id != ?
		 ORDER BY id DESC LIMIT ?`,
		models.ListingActive, excludeOwner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.Type, &l.Crop, &l.Volume, &l.Price, &l.Region, &l.Status, &l.CreatedAt); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
