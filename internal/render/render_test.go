package render

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agromarket/agro-bot/internal/delivery"
	"github.com/agromarket/agro-bot/internal/models"
)

func TestPrice(t *testing.T) {
	assert.Equal(t, "8500", Price(8500))
	assert.Equal(t, "8500.5", Price(8500.50))
}

func TestTranscript(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	msgs := []models.ChatMessage{
		{SenderID: 1, Content: "Ціна?", CreatedAt: at},
		{SenderID: 2, Content: "<9000>", CreatedAt: at.Add(time.Minute)},
	}

	want := []string{"📜 <b>Останні повідомлення:</b>\n\n" +
		"<i>2026-03-01 09:30</i> <b>→ Ви:</b>\nЦіна?\n\n" +
		"<i>2026-03-01 09:31</i> <b>← Taras &amp; Co:</b>\n&lt;9000&gt;"}
	if diff := cmp.Diff(want, Transcript(msgs, 1, "Taras & Co")); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, Transcript(nil, 1, "Taras"))
}

func TestRequestCardHidesPhone(t *testing.T) {
	u := &models.User{ExternalID: 5, Role: models.RoleBuyer, Phone: "+380501112233", Company: "Зерно"}
	assert.NotContains(t, RequestCard(u), u.Phone)
	assert.Contains(t, ContactCard("title", u), u.Phone)
}

func TestTranscriptSplitsLongHistory(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	var msgs []models.ChatMessage
	for i := 0; i < 10; i++ {
		msgs = append(msgs, models.ChatMessage{
			SenderID:  int64(1 + i%2),
			Content:   fmt.Sprintf("%02d %s", i, strings.Repeat("я", 497)),
			CreatedAt: at.Add(time.Duration(i) * time.Minute),
		})
	}

	chunks := Transcript(msgs, 1, "Taras")
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, Len(c), MaxTextLen)
	}

	joined := strings.Join(chunks, "\n")
	last := -1
	for i := 0; i < 10; i++ {
		pos := strings.Index(joined, fmt.Sprintf("\n%02d ", i))
		require.GreaterOrEqual(t, pos, 0, "entry %d missing", i)
		assert.Greater(t, pos, last, "entry %d out of order", i)
		last = pos
	}
	assert.True(t, strings.HasPrefix(chunks[0], "📜"))
	assert.False(t, strings.HasPrefix(chunks[1], "📜"))
}

func TestTranscriptClipsOversizedEntry(t *testing.T) {
	msgs := []models.ChatMessage{
		{SenderID: 2, Content: strings.Repeat("<", MaxTextLen)},
		{SenderID: 1, Content: "ok"},
	}

	chunks := Transcript(msgs, 1, strings.Repeat("Д", 500))
	for _, c := range chunks {
		assert.LessOrEqual(t, Len(c), MaxTextLen)
	}
	joined := strings.Join(chunks, "\n")
	assert.Contains(t, joined, "&lt;…")
	assert.Contains(t, joined, "\nok")
	assert.NotContains(t, joined, strings.Repeat("Д", nameLimit+1))
}

func TestRelayedEscapes(t *testing.T) {
	sender := &models.User{FirstName: "Olena", Username: "olena"}
	assert.Equal(t, "💬 <b>Olena</b> (@olena):\n\n&lt;b&gt;hi", Relayed(sender, "<b>hi"))
}

func TestRelayedFitsLimits(t *testing.T) {
	sender := &models.User{FirstName: "Olena", Username: "olena"}

	text := Relayed(sender, strings.Repeat("a", MaxTextLen))
	assert.LessOrEqual(t, Len(text), MaxTextLen)
	assert.True(t, strings.HasSuffix(text, "a…"))

	caption := RelayedCaption(sender, strings.Repeat("&", MaxCaptionLen))
	assert.LessOrEqual(t, Len(caption), MaxCaptionLen)
	assert.True(t, strings.HasSuffix(caption, "&amp;…"))
}

func TestLen(t *testing.T) {
	assert.Equal(t, 3, Len("abc"))
	assert.Equal(t, 4, Len("Ціна"))
	assert.Equal(t, 2, Len("💬"))
}

func TestClipEscaped(t *testing.T) {
	assert.Equal(t, "a&amp;b", clipEscaped("a&b", 7))
	assert.Equal(t, "a…", clipEscaped("a&b", 6))
	assert.Equal(t, "…", clipEscaped("&&&", 3))
}

func TestListingControls(t *testing.T) {
	want := delivery.Controls{
		{{Text: "💬 Написати", Data: "chat:start:lot:9"}},
		{{Text: "💰 Запропонувати ціну", Data: "offer:make:9"}},
	}
	if diff := cmp.Diff(want, ListingControls(9)); diff != "" {
		t.Errorf("controls mismatch (-want +got):\n%s", diff)
	}

	lot := int64(3)
	assert.Equal(t, "contact:request:7:lot:3", ContactRequestData(7, &lot))
	assert.Equal(t, "contact:request:7", ContactRequestData(7, nil))
}
