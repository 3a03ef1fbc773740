package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agromarket/agro-bot/internal/delivery"
)

// telegramAPI is the subset of *tgbotapi.BotAPI the bot sends through.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUserProfilePhotos(config tgbotapi.UserProfilePhotosConfig) (tgbotapi.UserProfilePhotos, error)
}

// Messenger delivers core output through the Bot API. All text is HTML.
type Messenger struct {
	api telegramAPI
}

var _ delivery.Messenger = (*Messenger)(nil)

func NewMessenger(api telegramAPI) *Messenger {
	return &Messenger{api: api}
}

func inlineMarkup(controls delivery.Controls) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(controls) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(controls))
	for _, row := range controls {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func (m *Messenger) SendText(ctx context.Context, chatID int64, text string, controls delivery.Controls) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if markup, ok := inlineMarkup(controls); ok {
		msg.ReplyMarkup = markup
	}

	sent, err := m.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (m *Messenger) SendMedia(ctx context.Context, chatID int64, kind delivery.MediaKind, fileID, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file := tgbotapi.FileID(fileID)

	var c tgbotapi.Chattable
	switch kind {
	case delivery.MediaPhoto:
		p := tgbotapi.NewPhoto(chatID, file)
		p.Caption, p.ParseMode = caption, tgbotapi.ModeHTML
		c = p
	case delivery.MediaDocument:
		d := tgbotapi.NewDocument(chatID, file)
		d.Caption, d.ParseMode = caption, tgbotapi.ModeHTML
		c = d
	case delivery.MediaVoice:
		v := tgbotapi.NewVoice(chatID, file)
		v.Caption, v.ParseMode = caption, tgbotapi.ModeHTML
		c = v
	case delivery.MediaVideo:
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption, v.ParseMode = caption, tgbotapi.ModeHTML
		c = v
	case delivery.MediaSticker:
		c = tgbotapi.NewSticker(chatID, file)
	default:
		return fmt.Errorf("unsupported media kind %q", kind)
	}

	if _, err := m.api.Send(c); err != nil {
		return fmt.Errorf("failed to send %s to %d: %w", kind, chatID, err)
	}
	return nil
}

func (m *Messenger) Forward(ctx context.Context, chatID, fromChatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.api.Send(tgbotapi.NewForward(chatID, fromChatID, messageID)); err != nil {
		return fmt.Errorf("failed to forward message to %d: %w", chatID, err)
	}
	return nil
}

func (m *Messenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func (m *Messenger) EditControls(ctx context.Context, chatID int64, messageID int, text string, controls delivery.Controls) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if markup, ok := inlineMarkup(controls); ok {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	}
	edit.ParseMode = tgbotapi.ModeHTML

	_, err := m.api.Request(edit)
	return err
}

func (m *Messenger) ProfilePhoto(ctx context.Context, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	photos, err := m.api.GetUserProfilePhotos(tgbotapi.UserProfilePhotosConfig{UserID: userID, Limit: 1})
	if err != nil {
		return "", fmt.Errorf("failed to get profile photos of %d: %w", userID, err)
	}
	if len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", nil
	}
	sizes := photos.Photos[0]
	return sizes[len(sizes)-1].FileID, nil
}
