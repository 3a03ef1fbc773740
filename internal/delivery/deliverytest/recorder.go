// Package deliverytest provides a Messenger that records what it was asked
// to send.
package deliverytest

import (
	"context"
	"sync"

	"github.com/agromarket/agro-bot/internal/delivery"
)

// Sent is one recorded outbound call.
type Sent struct {
	Op        string
	ChatID    int64
	MessageID int
	Kind      delivery.MediaKind
	FileID    string
	Text      string
	Controls  delivery.Controls
}

// Recorder implements delivery.Messenger in memory. Set Fail to make every
// send return that error. Photos maps user IDs to profile photo file IDs.
type Recorder struct {
	mu     sync.Mutex
	sent   []Sent
	nextID int

	Fail   error
	Photos map[int64]string
}

var _ delivery.Messenger = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{Photos: make(map[int64]string)}
}

func (r *Recorder) record(s Sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, s)
	return nil
}

func (r *Recorder) SendText(_ context.Context, chatID int64, text string, controls delivery.Controls) (int, error) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()
	if err := r.record(Sent{Op: "text", ChatID: chatID, MessageID: id, Kind: delivery.MediaText, Text: text, Controls: controls}); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Recorder) SendMedia(_ context.Context, chatID int64, kind delivery.MediaKind, fileID, caption string) error {
	return r.record(Sent{Op: "media", ChatID: chatID, Kind: kind, FileID: fileID, Text: caption})
}

func (r *Recorder) Forward(_ context.Context, chatID, fromChatID int64, messageID int) error {
	return r.record(Sent{Op: "forward", ChatID: chatID, MessageID: messageID})
}

func (r *Recorder) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	return r.record(Sent{Op: "delete", ChatID: chatID, MessageID: messageID})
}

func (r *Recorder) EditControls(_ context.Context, chatID int64, messageID int, text string, controls delivery.Controls) error {
	return r.record(Sent{Op: "edit", ChatID: chatID, MessageID: messageID, Text: text, Controls: controls})
}

func (r *Recorder) ProfilePhoto(_ context.Context, userID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Photos[userID], nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// To returns what was sent to chatID.
func (r *Recorder) To(chatID int64) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// SetFail makes every later send return err; nil restores delivery.
func (r *Recorder) SetFail(err error) {
	r.mu.Lock()
	r.Fail = err
	r.mu.Unlock()
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
