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

const offerViewQuery = `SELECT co.id, co.lot_id, co.sender_user_id, co.offered_price, co.message, co.status,
	       co.created_at, co.resolved_at,
	       l.crop, l.price, l.owner_user_id, su.telegram_id, ou.telegram_id
	FROM counter_offers co
	JOIN lots l ON co.lot_id = l.id
	JOIN users su ON co.sender_user_id = su.id
	JOIN users ou ON l.owner_user_id = ou.id`

func scanOfferView(row rowScanner) (*models.OfferView, error) {
	var v models.OfferView
	var resolvedAt sql.NullTime
	err := row.Scan(
		&v.ID, &v.ListingID, &v.ProposerID, &v.Price, &v.Comment, &v.Status,
		&v.CreatedAt, &resolvedAt,
		&v.Crop, &v.ListingPrice, &v.ListingOwnerID, &v.ProposerExternalID, &v.OwnerExternalID,
	)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		v.ResolvedAt = &resolvedAt.Time
	}
	return &v, nil
}

func (db *DB) queryOfferViews(ctx context.Context, where string, args ...any) ([]models.OfferView, error) {
	rows, err := db.conn.QueryContext(ctx, offerViewQuery+" WHERE "+where+" ORDER BY co.id DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []models.OfferView
	for rows.Next() {
		v, err := scanOfferView(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *v)
	}
	return offers, rows.Err()
}

// HasPendingOffer reports whether proposerID already has a pending offer on
// the listing.
func (db *DB) HasPendingOffer(ctx context.Context, listingID, proposerID int64) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM counter_offers WHERE lot_id = ? AND sender_user_id = ? AND status = ?`,
		listingID, proposerID, models.OfferPending,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending offers: %w", err)
	}
	return n > 0, nil
}

// CreateOffer inserts a pending offer. The partial unique index turns a
// second pending offer for the same listing and proposer into Conflict.
func (db *DB) CreateOffer(ctx context.Context, listingID, proposerID int64, price float64, comment string) (*models.CounterOffer, error) {
	now := time.Now().UTC()
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO counter_offers (lot_id, sender_user_id, offered_price, message, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		listingID, proposerID, price, comment, models.OfferPending, now,
	)
	if isUniqueViolation(err) {
		return nil, apperr.Wrap(apperr.Conflict, "У вас вже є активна пропозиція на цей лот", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.CounterOffer{
		ID:         id,
		ListingID:  listingID,
		ProposerID: proposerID,
		Price:      price,
		Comment:    comment,
		Status:     models.OfferPending,
		CreatedAt:  now,
	}, nil
}

// GetOffer retrieves an offer joined with its listing.
func (db *DB) GetOffer(ctx context.Context, id int64) (*models.OfferView, error) {
	v, err := scanOfferView(db.conn.QueryRowContext(ctx, offerViewQuery+" WHERE co.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.NotFound, "Пропозицію не знайдено", err)
	}
	return v, err
}

// ListIncomingOffers returns pending offers on listings owned by ownerID.
func (db *DB) ListIncomingOffers(ctx context.Context, ownerID int64) ([]models.OfferView, error) {
	return db.queryOfferViews(ctx, "l.owner_user_id = ? AND co.status = ?", ownerID, models.OfferPending)
}

// ListOffersByProposer returns every offer proposerID made, any status.
func (db *DB) ListOffersByProposer(ctx context.Context, proposerID int64) ([]models.OfferView, error) {
	return db.queryOfferViews(ctx, "co.sender_user_id = ?", proposerID)
}

// ListAcceptedOffers returns accepted offers where userID is the proposer or
// the listing owner.
func (db *DB) ListAcceptedOffers(ctx context.Context, userID int64) ([]models.OfferView, error) {
	return db.queryOfferViews(ctx, "co.status = ? AND (co.sender_user_id = ? OR l.owner_user_id = ?)",
		models.OfferAccepted, userID, userID)
}

// ResolveOffer moves a pending offer to accepted or rejected on behalf of the
// listing owner. Only one caller can win the transition; the rest get Conflict.
func (db *DB) ResolveOffer(ctx context.Context, offerID, ownerID int64, status models.OfferStatus) (*models.OfferView, error) {
	if status != models.OfferAccepted && status != models.OfferRejected {
		return nil, apperr.New(apperr.InvalidInput, "Невідоме рішення")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	offer, err := scanOfferView(tx.QueryRowContext(ctx, offerViewQuery+" WHERE co.id = ?", offerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.NotFound, "Пропозицію не знайдено", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load offer: %w", err)
	}
	if offer.ListingOwnerID != ownerID {
		return nil, apperr.New(apperr.PermissionDenied, "Лише власник лоту може відповісти на пропозицію")
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE counter_offers SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		status, now, offerID, models.OfferPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve offer: %w", err)
	}
	if err := requireAffected(result, apperr.New(apperr.Conflict, "Пропозицію вже розглянуто")); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	offer.Status = status
	offer.ResolvedAt = &now
	return offer, nil
}
