package chat

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/delivery"
	"github.com/agromarket/agro-bot/internal/models"
	"github.com/agromarket/agro-bot/internal/render"
)

// StoredContent is the text kept in history for a payload.
func StoredContent(p delivery.Payload) string {
	switch {
	case p.Text != "":
		return p.Text
	case p.Caption != "":
		return p.Caption
	default:
		return render.MediaPlaceholder
	}
}

// Relay stores the sender's message in their current session and delivers it
// to the other participant. A DeliveryFailure error comes with the stored
// message: history has it, the counterpart did not get it live.
func (m *Manager) Relay(ctx context.Context, sender *models.User, payload delivery.Payload) (*models.ChatMessage, error) {
	sessionID, ok := m.states.ActiveSession(sender.ID)
	if !ok {
		return nil, ErrNotChatting
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, apperr.NotFound) || (err == nil && session.Status != models.SessionActive) {
		m.Exit(sender.ID)
		return nil, ErrConversationEnded
	}
	if err != nil {
		return nil, err
	}
	if !session.Has(sender.ID) {
		m.Exit(sender.ID)
		return nil, apperr.New(apperr.PermissionDenied, "Немає доступу")
	}

	msg, err := m.store.AppendMessage(ctx, session.ID, sender.ID, StoredContent(payload))
	if errors.Is(err, apperr.Conflict) {
		m.Exit(sender.ID)
		return nil, ErrConversationEnded
	}
	if err != nil {
		return nil, err
	}

	other, err := m.store.GetUserByID(ctx, session.Other(sender.ID))
	if err != nil {
		m.logger.Warn("relay counterpart unresolved",
			zap.Int64("session_id", session.ID), zap.Error(err))
		return msg, apperr.Wrap(apperr.DeliveryFailure, "⚠️ Не вдалося надіслати — співрозмовника не знайдено.", err)
	}

	if err := m.deliver(ctx, other.ExternalID, sender, payload); err != nil {
		m.logger.Warn("relay delivery failed",
			zap.Int64("session_id", session.ID),
			zap.Int64("to_user_id", other.ID),
			zap.Error(err))
		return msg, apperr.Wrap(apperr.DeliveryFailure, "⚠️ Не вдалося надіслати повідомлення.", err)
	}

	return msg, nil
}

// deliver sends the payload in its original form with a sender label.
func (m *Manager) deliver(ctx context.Context, to int64, sender *models.User, p delivery.Payload) error {
	switch p.Kind {
	case delivery.MediaText:
		_, err := m.messenger.SendText(ctx, to, render.Relayed(sender, p.Text), nil)
		return err
	case delivery.MediaPhoto, delivery.MediaDocument, delivery.MediaVideo:
		return m.messenger.SendMedia(ctx, to, p.Kind, p.FileID, render.RelayedCaption(sender, p.Caption))
	case delivery.MediaVoice:
		return m.messenger.SendMedia(ctx, to, p.Kind, p.FileID, render.SenderLabel(sender))
	case delivery.MediaSticker:
		return m.messenger.SendMedia(ctx, to, p.Kind, p.FileID, "")
	default:
		return m.messenger.Forward(ctx, to, p.SourceChatID, p.SourceMessageID)
	}
}
