// Package delivery is the outbound side of the bot: what the core may ask the
// transport to show a user. The Telegram implementation lives in internal/bot.
package delivery

import "context"

// Button is one inline control. Data is the callback payload routed back in.
type Button struct {
	Text string
	Data string
}

// Controls is an inline keyboard, row by row.
type Controls [][]Button

// Column lays buttons out one per row.
func Column(buttons ...Button) Controls {
	c := make(Controls, 0, len(buttons))
	for _, b := range buttons {
		c = append(c, []Button{b})
	}
	return c
}

// Row lays buttons out side by side.
func Row(buttons ...Button) Controls {
	return Controls{buttons}
}

type MediaKind string

const (
	MediaText     MediaKind = "text"
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaVoice    MediaKind = "voice"
	MediaVideo    MediaKind = "video"
	MediaSticker  MediaKind = "sticker"
	MediaOther    MediaKind = "other"
)

// Payload is the content of an inbound message.
type Payload struct {
	Kind    MediaKind
	Text    string
	FileID  string
	Caption string

	// Source identifies the original message for Forward.
	SourceChatID    int64
	SourceMessageID int
}

// Messenger sends things to users, addressed by Telegram chat ID.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, controls Controls) (messageID int, err error)
	SendMedia(ctx context.Context, chatID int64, kind MediaKind, fileID, caption string) error
	Forward(ctx context.Context, chatID, fromChatID int64, messageID int) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	EditControls(ctx context.Context, chatID int64, messageID int, text string, controls Controls) error
	// ProfilePhoto returns the file ID of the user's newest profile photo, or
	// "" when there is none.
	ProfilePhoto(ctx context.Context, userID int64) (string, error)
}
