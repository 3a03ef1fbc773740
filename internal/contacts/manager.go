// Package contacts implements mutual-consent contact exchange. Phone numbers
// and usernames are shown only after the target accepts a request.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"html"

	"go.uber.org/zap"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/delivery"
	"github.com/agromarket/agro-bot/internal/models"
	"github.com/agromarket/agro-bot/internal/render"
)

const (
	acceptedLimit = 30
	incomingLimit = 10
	outgoingLimit = 10
)

// Store is the persistence the contacts manager needs.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	GetSession(ctx context.Context, id int64) (*models.ChatSession, error)
	ContactStatus(ctx context.Context, fromID, toID int64) (models.ContactStatus, error)
	CreateContactRequest(ctx context.Context, fromID, toID int64) (bool, error)
	AcceptContact(ctx context.Context, requesterID, accepterID int64) (bool, error)
	DeleteContactRequest(ctx context.Context, requesterID, declinerID int64) (bool, error)
	ListContacts(ctx context.Context, userID int64, status models.ContactStatus, incoming bool, limit int) ([]models.User, error)
}

// Sessions opens the chat that follows an accepted request.
type Sessions interface {
	GetOrCreate(ctx context.Context, a, b int64, listingID *int64) (*models.ChatSession, error)
	Enter(userID, sessionID int64)
}

type Manager struct {
	store     Store
	sessions  Sessions
	messenger delivery.Messenger
	logger    *zap.Logger
}

func NewManager(store Store, sessions Sessions, messenger delivery.Messenger, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		sessions:  sessions,
		messenger: messenger,
		logger:    logger.Named("contacts"),
	}
}

type RequestOutcome int

const (
	Requested RequestOutcome = iota
	AlreadyPending
	AlreadyConnected
)

// Request asks toID to share contacts with from, optionally about a lot.
// The target is notified with a reduced card. A DeliveryFailure error may
// accompany Requested: the request is stored but the target was not told.
func (m *Manager) Request(ctx context.Context, from *models.User, toID int64, listingID *int64) (RequestOutcome, error) {
	if from.ID == toID {
		return 0, apperr.New(apperr.InvalidInput, "Не можна надіслати запит самому собі")
	}

	target, err := m.store.GetUserByID(ctx, toID)
	if err != nil {
		return 0, err
	}

	status, err := m.store.ContactStatus(ctx, from.ID, target.ID)
	if err != nil {
		return 0, err
	}
	switch status {
	case models.ContactAccepted:
		return AlreadyConnected, nil
	case models.ContactPending:
		return AlreadyPending, nil
	}

	created, err := m.store.CreateContactRequest(ctx, from.ID, target.ID)
	if err != nil {
		return 0, err
	}
	if !created {
		return AlreadyPending, nil
	}
	m.logger.Info("contact requested", zap.Int64("from_user_id", from.ID), zap.Int64("to_user_id", target.ID))

	notice := "📬 <b>Новий запит на контакт</b>\n\n" + render.RequestCard(from)
	if listingID != nil {
		if l, err := m.store.GetListing(ctx, *listingID); err == nil {
			notice += fmt.Sprintf("\n\n📦 Щодо лоту #%d: %s", l.ID, html.EscapeString(l.Crop))
		}
	}

	if _, err := m.messenger.SendText(ctx, target.ExternalID, notice, render.ContactRequestControls(from.ID)); err != nil {
		m.logger.Warn("failed to notify contact request target", zap.Int64("user_id", target.ID), zap.Error(err))
		return Requested, apperr.Wrap(apperr.DeliveryFailure, "⚠️ Запит збережено, але користувача не вдалося сповістити.", err)
	}
	return Requested, nil
}

// AcceptOutcome is what Accept did. Changed is false when the pair was
// already connected; nothing is sent then.
type AcceptOutcome struct {
	Changed   bool
	Requester *models.User
	Session   *models.ChatSession
}

// Accept confirms requesterID's request. Both sides get each other's full
// card, a session is opened and the accepter is moved into it. When
// cardMessageID is set, the request card it points to in the accepter's chat
// is removed.
func (m *Manager) Accept(ctx context.Context, accepter *models.User, requesterID int64, cardMessageID int) (*AcceptOutcome, error) {
	requester, err := m.store.GetUserByID(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	changed, err := m.store.AcceptContact(ctx, requester.ID, accepter.ID)
	if err != nil {
		return nil, err
	}
	out := &AcceptOutcome{Changed: changed, Requester: requester}
	m.dropCard(ctx, accepter.ExternalID, cardMessageID)
	if !changed {
		return out, nil
	}
	m.logger.Info("contact accepted", zap.Int64("requester_id", requester.ID), zap.Int64("accepter_id", accepter.ID))

	out.Session, err = m.sessions.GetOrCreate(ctx, accepter.ID, requester.ID, nil)
	if err != nil {
		return nil, err
	}

	var errs []error
	if err := m.sendCard(ctx, requester.ExternalID, accepter, "✅ <b>Запит прийнято! Ось контакт:</b>"); err != nil {
		errs = append(errs, err)
	} else if _, err := m.messenger.SendText(ctx, requester.ExternalID,
		"Тепер ви можете спілкуватися в особистому чаті:", render.OpenChatControls(out.Session.ID)); err != nil {
		errs = append(errs, err)
	}
	if err := m.sendCard(ctx, accepter.ExternalID, requester, "📇 <b>Контакт додано:</b>"); err != nil {
		errs = append(errs, err)
	}

	m.sessions.Enter(accepter.ID, out.Session.ID)

	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("failed to deliver contact cards", zap.Int64("requester_id", requester.ID), zap.Error(err))
		return out, apperr.Wrap(apperr.DeliveryFailure, "⚠️ Контакт додано, але не всі повідомлення доставлено.", err)
	}
	return out, nil
}

// dropCard deletes a handled request card. Failures only leave stale buttons.
func (m *Manager) dropCard(ctx context.Context, chatID int64, messageID int) {
	if messageID <= 0 {
		return
	}
	if err := m.messenger.DeleteMessage(ctx, chatID, messageID); err != nil {
		m.logger.Debug("failed to delete request card", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// sendCard sends about's full card to chatID, as a photo caption when about
// has a profile photo.
func (m *Manager) sendCard(ctx context.Context, chatID int64, about *models.User, title string) error {
	card := render.ContactCard(title, about)

	photo, err := m.messenger.ProfilePhoto(ctx, about.ExternalID)
	if err != nil {
		m.logger.Debug("profile photo unavailable", zap.Int64("user_id", about.ID), zap.Error(err))
	}
	if photo != "" {
		return m.messenger.SendMedia(ctx, chatID, delivery.MediaPhoto, photo, card)
	}
	_, err = m.messenger.SendText(ctx, chatID, card, nil)
	return err
}

// Decline drops requesterID's pending request to decliner. It reports false
// when there was nothing pending. The requester is not notified.
func (m *Manager) Decline(ctx context.Context, decliner *models.User, requesterID int64) (bool, error) {
	deleted, err := m.store.DeleteContactRequest(ctx, requesterID, decliner.ID)
	if err != nil {
		return false, err
	}
	if deleted {
		m.logger.Info("contact declined", zap.Int64("requester_id", requesterID), zap.Int64("decliner_id", decliner.ID))
	}
	return deleted, nil
}

// Status reports the a→b direction only.
func (m *Manager) Status(ctx context.Context, a, b int64) (models.ContactStatus, error) {
	return m.store.ContactStatus(ctx, a, b)
}

type Overview struct {
	Accepted []models.User
	Incoming []models.User
	Outgoing []models.User
}

func (o *Overview) Empty() bool {
	return len(o.Accepted) == 0 && len(o.Incoming) == 0 && len(o.Outgoing) == 0
}

// Overview lists the user's accepted contacts and pending requests both ways.
func (m *Manager) Overview(ctx context.Context, user *models.User) (*Overview, error) {
	var (
		o   Overview
		err error
	)
	if o.Accepted, err = m.store.ListContacts(ctx, user.ID, models.ContactAccepted, false, acceptedLimit); err != nil {
		return nil, err
	}
	if o.Incoming, err = m.store.ListContacts(ctx, user.ID, models.ContactPending, true, incomingLimit); err != nil {
		return nil, err
	}
	if o.Outgoing, err = m.store.ListContacts(ctx, user.ID, models.ContactPending, false, outgoingLimit); err != nil {
		return nil, err
	}
	return &o, nil
}

// ShareCard sends the user's own card to the counterpart of an active
// session they are in.
func (m *Manager) ShareCard(ctx context.Context, user *models.User, sessionID int64) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionActive {
		return apperr.New(apperr.Conflict, "Чат завершено.")
	}
	if !session.Has(user.ID) {
		return apperr.New(apperr.PermissionDenied, "Немає доступу")
	}

	other, err := m.store.GetUserByID(ctx, session.Other(user.ID))
	if err != nil {
		return err
	}
	if err := m.sendCard(ctx, other.ExternalID, user, "📇 <b>Контакт співрозмовника:</b>"); err != nil {
		m.logger.Warn("failed to share contact card", zap.Int64("session_id", session.ID), zap.Error(err))
		return apperr.Wrap(apperr.DeliveryFailure, "⚠️ Не вдалося надіслати контакт.", err)
	}
	return nil
}
