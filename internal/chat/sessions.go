// Package chat manages two-party chat sessions and relays messages between
// their participants while a user is inside a session.
package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/convo"
	"github.com/agromarket/agro-bot/internal/delivery"
	"github.com/agromarket/agro-bot/internal/models"
	"github.com/agromarket/agro-bot/internal/render"
)

const (
	DefaultHistoryLimit = 10
	listLimit           = 20
)

var (
	ErrNotChatting       = apperr.New(apperr.Conflict, "Чат не знайдено. Поверніться до меню.")
	ErrConversationEnded = apperr.New(apperr.Conflict, "Чат завершено.")
)

// Store is the persistence the chat manager needs.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	ContactStatus(ctx context.Context, fromID, toID int64) (models.ContactStatus, error)
	GetOrCreateSession(ctx context.Context, a, b int64, listingID *int64) (*models.ChatSession, bool, error)
	GetSession(ctx context.Context, id int64) (*models.ChatSession, error)
	ListActiveSessions(ctx context.Context, userID int64, limit int) ([]models.SessionView, error)
	CloseSession(ctx context.Context, id int64) error
	AppendMessage(ctx context.Context, sessionID, senderID int64, content string) (*models.ChatMessage, error)
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]models.ChatMessage, error)
}

type Manager struct {
	store        Store
	states       *convo.Store
	messenger    delivery.Messenger
	logger       *zap.Logger
	historyLimit int
}

type Option func(*Manager)

// WithHistoryLimit sets how many messages Open shows.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

func NewManager(store Store, states *convo.Store, messenger delivery.Messenger, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		states:       states,
		messenger:    messenger,
		logger:       logger.Named("chat"),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the active session between a and b for the listing
// (nil for none), creating it when absent.
func (m *Manager) GetOrCreate(ctx context.Context, a, b int64, listingID *int64) (*models.ChatSession, error) {
	session, created, err := m.store.GetOrCreateSession(ctx, a, b, listingID)
	if err != nil {
		return nil, err
	}
	if created {
		m.logger.Info("chat session created",
			zap.Int64("session_id", session.ID),
			zap.Int64("user1_id", session.User1ID),
			zap.Int64("user2_id", session.User2ID))
	}
	return session, nil
}

// Enter marks userID as chatting in sessionID.
func (m *Manager) Enter(userID, sessionID int64) {
	m.states.Set(userID, convo.Chatting{SessionID: sessionID})
}

// Exit returns the user to the menu. It is a no-op outside a session.
func (m *Manager) Exit(userID int64) {
	m.states.Reset(userID)
}

// Opened is the result of opening a session.
type Opened struct {
	Session     *models.ChatSession
	Counterpart *models.User
	History     []models.ChatMessage
	// Transcript is History rendered for the opening user, split into
	// sendable messages; empty when there is no history.
	Transcript []string
}

// Open enters an existing active session the user participates in and
// returns its recent history.
func (m *Manager) Open(ctx context.Context, user *models.User, sessionID int64) (*Opened, error) {
	session, err := m.participantSession(ctx, user, sessionID)
	if err != nil {
		return nil, err
	}

	counterpart, err := m.store.GetUserByID(ctx, session.Other(user.ID))
	if err != nil {
		return nil, err
	}

	history, err := m.store.RecentMessages(ctx, session.ID, m.historyLimit)
	if err != nil {
		return nil, err
	}

	m.Enter(user.ID, session.ID)
	return &Opened{
		Session:     session,
		Counterpart: counterpart,
		History:     history,
		Transcript:  render.Transcript(history, user.ID, counterpart.DisplayName()),
	}, nil
}

func (m *Manager) participantSession(ctx context.Context, user *models.User, sessionID int64) (*models.ChatSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, apperr.New(apperr.Conflict, "Чат не активний")
	}
	if !session.Has(user.ID) {
		return nil, apperr.New(apperr.PermissionDenied, "Немає доступу")
	}
	return session, nil
}

// StartWithContact opens the unlisted session with an accepted contact.
func (m *Manager) StartWithContact(ctx context.Context, user *models.User, contactID int64) (*models.ChatSession, error) {
	status, err := m.store.ContactStatus(ctx, user.ID, contactID)
	if err != nil {
		return nil, err
	}
	if status != models.ContactAccepted {
		return nil, apperr.New(apperr.PermissionDenied, "Спочатку прийміть запит на контакт")
	}

	session, err := m.GetOrCreate(ctx, user.ID, contactID, nil)
	if err != nil {
		return nil, err
	}
	m.Enter(user.ID, session.ID)
	return session, nil
}

// ListingChat describes what happened when a user asked to chat about a lot.
// Session is set only when the owner is already an accepted contact.
type ListingChat struct {
	Listing *models.Listing
	Owner   *models.User
	Status  models.ContactStatus
	Session *models.ChatSession
}

// StartFromListing enters the listing-scoped session with the lot owner when
// they are an accepted contact. Otherwise it reports the contact status so
// the caller can offer a contact request.
func (m *Manager) StartFromListing(ctx context.Context, user *models.User, listingID int64) (*ListingChat, error) {
	listing, err := m.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID == user.ID {
		return nil, apperr.New(apperr.InvalidInput, "Це ваш лот 🙂")
	}

	owner, err := m.store.GetUserByID(ctx, listing.OwnerID)
	if err != nil {
		return nil, err
	}

	status, err := m.store.ContactStatus(ctx, user.ID, owner.ID)
	if err != nil {
		return nil, err
	}

	result := &ListingChat{Listing: listing, Owner: owner, Status: status}
	if status != models.ContactAccepted {
		return result, nil
	}

	result.Session, err = m.GetOrCreate(ctx, user.ID, owner.ID, &listing.ID)
	if err != nil {
		return nil, err
	}
	m.Enter(user.ID, result.Session.ID)
	return result, nil
}

// List returns the user's active sessions, newest first.
func (m *Manager) List(ctx context.Context, user *models.User) ([]models.SessionView, error) {
	return m.store.ListActiveSessions(ctx, user.ID, listLimit)
}

// Close ends a session for both participants. The counterpart is told; their
// next message gets ErrConversationEnded.
func (m *Manager) Close(ctx context.Context, user *models.User, sessionID int64) error {
	session, err := m.participantSession(ctx, user, sessionID)
	if err != nil {
		return err
	}
	if err := m.store.CloseSession(ctx, session.ID); err != nil {
		return err
	}
	m.Exit(user.ID)
	m.logger.Info("chat session closed", zap.Int64("session_id", session.ID), zap.Int64("user_id", user.ID))

	other, err := m.store.GetUserByID(ctx, session.Other(user.ID))
	if err != nil {
		if errors.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}
	if _, err := m.messenger.SendText(ctx, other.ExternalID, "🔒 Співрозмовник завершив чат.", nil); err != nil {
		m.logger.Warn("failed to notify counterpart about closed chat", zap.Int64("user_id", other.ID), zap.Error(err))
	}
	return nil
}
