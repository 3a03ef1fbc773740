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

const sessionColumns = `id, user1_id, user2_id, lot_id, status, created_at, updated_at`

func scanSession(row rowScanner) (*models.ChatSession, error) {
	var s models.ChatSession
	var lotID sql.NullInt64
	if err := row.Scan(&s.ID, &s.User1ID, &s.User2ID, &lotID, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if lotID.Valid {
		id := lotID.Int64
		s.ListingID = &id
	}
	return &s, nil
}

// NormalizePair orders two user IDs so the lower one comes first.
func NormalizePair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// GetOrCreateSession returns the active session for the normalized pair and
// listing (nil meaning "no listing"), creating it if none exists. created
// reports whether this call inserted the row.
func (db *DB) GetOrCreateSession(ctx context.Context, a, b int64, listingID *int64) (session *models.ChatSession, created bool, err error) {
	if a == b {
		return nil, false, apperr.New(apperr.InvalidInput, "Не можна створити чат із самим собою")
	}
	u1, u2 := NormalizePair(a, b)

	session, created, err = db.getOrCreateSession(ctx, u1, u2, listingID)
	if isUniqueViolation(err) {
		// Another connection won the insert; its row is now visible.
		session, err = db.findActiveSession(ctx, db.conn, u1, u2, listingID)
		return session, false, err
	}
	return session, created, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) findActiveSession(ctx context.Context, q queryer, u1, u2 int64, listingID *int64) (*models.ChatSession, error) {
	return scanSession(q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE user1_id = ? AND user2_id = ? AND COALESCE(lot_id, 0) = COALESCE(?, 0) AND status = ?`,
		u1, u2, listingID, models.SessionActive,
	))
}

func (db *DB) getOrCreateSession(ctx context.Context, u1, u2 int64, listingID *int64) (*models.ChatSession, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	existing, err := db.findActiveSession(ctx, tx, u1, u2, listingID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up chat session: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (user1_id, user2_id, lot_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u1, u2, listingID, models.SessionActive, now, now,
	)
	if err != nil {
		return nil, false, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	return &models.ChatSession{
		ID:        id,
		User1ID:   u1,
		User2ID:   u2,
		ListingID: listingID,
		Status:    models.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, true, nil
}

// GetSession retrieves a chat session by ID
func (db *DB) GetSession(ctx context.Context, id int64) (*models.ChatSession, error) {
	s, err := scanSession(db.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.NotFound, "Чат не знайдено", err)
	}
	return s, err
}

// ListActiveSessions returns userID's active sessions, newest first, with the
// counterpart resolved.
func (db *DB) ListActiveSessions(ctx context.Context, userID int64, limit int) ([]models.SessionView, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT cs.id, cs.user1_id, cs.user2_id, cs.lot_id, cs.status, cs.created_at, cs.updated_at,
		        u.id, u.telegram_id, u.role, u.region, u.phone, u.company, u.first_name, u.username, u.is_banned, u.created_at
		 FROM chat_sessions cs
		 JOIN users u ON u.id = CASE WHEN cs.user1_id = ? THEN cs.user2_id ELSE cs.user1_id END
		 WHERE (cs.user1_id = ? OR cs.user2_id = ?) AND cs.status = ?
		 ORDER BY cs.id DESC LIMIT ?`,
		userID, userID, userID, models.SessionActive, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	defer rows.Close()

	var views []models.SessionView
	for rows.Next() {
		var v models.SessionView
		var lotID sql.NullInt64
		c := &v.Counterpart
		err := rows.Scan(
			&v.ID, &v.User1ID, &v.User2ID, &lotID, &v.Status, &v.CreatedAt, &v.UpdatedAt,
			&c.ID, &c.ExternalID, &c.Role, &c.Region, &c.Phone, &c.Company, &c.FirstName, &c.Username, &c.IsBanned, &c.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if lotID.Valid {
			id := lotID.Int64
			v.ListingID = &id
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// CloseSession moves an active session to closed. Closed is terminal.
func (db *DB) CloseSession(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE chat_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.SessionClosed, time.Now().UTC(), id, models.SessionActive,
	)
	if err != nil {
		return fmt.Errorf("failed to close chat session: %w", err)
	}
	return requireAffected(result, apperr.New(apperr.Conflict, "Чат вже завершено"))
}

// AppendMessage stores a message and bumps the session activity timestamp in
// one transaction. It fails with Conflict when the session is no longer active.
func (db *DB) AppendMessage(ctx context.Context, sessionID, senderID int64, content string) (*models.ChatMessage, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ? AND status = ?`,
		now, sessionID, models.SessionActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to touch chat session: %w", err)
	}
	if err := requireAffected(result, apperr.New(apperr.Conflict, "Чат завершено")); err != nil {
		return nil, err
	}

	result, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, sender_user_id, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, senderID, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store chat message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.ChatMessage{
		ID:        id,
		SessionID: sessionID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// RecentMessages returns the last limit messages of a session in
// chronological order.
func (db *DB) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]models.ChatMessage, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, session_id, sender_user_id, content, created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
