package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/convo"
	"github.com/agromarket/agro-bot/internal/db"
	"github.com/agromarket/agro-bot/internal/delivery"
	"github.com/agromarket/agro-bot/internal/delivery/deliverytest"
	"github.com/agromarket/agro-bot/internal/models"
	"github.com/agromarket/agro-bot/internal/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	ctx    context.Context
	store  *db.DB
	states *convo.Store
	rec    *deliverytest.Recorder
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	states := convo.NewStore()
	rec := deliverytest.New()
	return &fixture{
		ctx:    context.Background(),
		store:  store,
		states: states,
		rec:    rec,
		mgr:    NewManager(store, states, rec, zap.NewNop()),
	}
}

func (f *fixture) user(t *testing.T, externalID int64, name string) *models.User {
	t.Helper()
	u, err := f.store.EnsureUser(f.ctx, externalID, name, strings.ToLower(name), false)
	require.NoError(t, err)
	return u
}

func (f *fixture) connect(t *testing.T, a, b *models.User) {
	t.Helper()
	_, err := f.store.CreateContactRequest(f.ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = f.store.AcceptContact(f.ctx, a.ID, b.ID)
	require.NoError(t, err)
}

func contents(msgs []models.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func text(s string) delivery.Payload {
	return delivery.Payload{Kind: delivery.MediaText, Text: s}
}

func TestGetOrCreateConcurrentReturnsSameSession(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a.ID, b.ID
			if i%2 == 1 {
				x, y = y, x
			}
			s, err := f.mgr.GetOrCreate(f.ctx, x, y, nil)
			errs[i] = err
			if err == nil {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	sessions, err := f.mgr.List(f.ctx, a)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestGetOrCreateScopesByListing(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	lot, err := f.store.CreateListing(f.ctx, &models.Listing{OwnerID: b.ID, Type: models.ListingSell, Crop: "Пшениця", Price: 9000})
	require.NoError(t, err)

	plain, err := f.mgr.GetOrCreate(f.ctx, a.ID, b.ID, nil)
	require.NoError(t, err)
	scoped, err := f.mgr.GetOrCreate(f.ctx, b.ID, a.ID, &lot.ID)
	require.NoError(t, err)

	assert.NotEqual(t, plain.ID, scoped.ID)
	require.NotNil(t, scoped.ListingID)
	assert.Equal(t, lot.ID, *scoped.ListingID)
	assert.Less(t, scoped.User1ID, scoped.User2ID)
}

func TestGetOrCreateRejectsSelf(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")

	_, err := f.mgr.GetOrCreate(f.ctx, a.ID, a.ID, nil)
	assert.ErrorIs(t, err, apperr.InvalidInput)
}

func TestRelayEndToEnd(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	f.connect(t, a, b)

	session, err := f.mgr.StartWithContact(f.ctx, a, b.ID)
	require.NoError(t, err)
	assert.Equal(t, convo.Chatting{SessionID: session.ID}, f.states.Get(a.ID))

	msg, err := f.mgr.Relay(f.ctx, a, text("Ціна?"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, msg.SenderID)

	toB := f.rec.To(b.ExternalID)
	require.Len(t, toB, 1)
	assert.Contains(t, toB[0].Text, "Ціна?")
	assert.Contains(t, toB[0].Text, "Olena")

	opened, err := f.mgr.Open(f.ctx, b, session.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, opened.Counterpart.ID)
	if diff := cmp.Diff([]string{"Ціна?"}, contents(opened.History)); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, strings.Join(opened.Transcript, "\n"), "← Olena")
	assert.Equal(t, convo.Chatting{SessionID: session.ID}, f.states.Get(b.ID))
}

func TestRelayPreservesOrder(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	f.connect(t, a, b)

	session, err := f.mgr.StartWithContact(f.ctx, a, b.ID)
	require.NoError(t, err)
	_, err = f.mgr.Open(f.ctx, b, session.ID)
	require.NoError(t, err)

	for _, m := range []string{"1", "2", "3"} {
		_, err := f.mgr.Relay(f.ctx, a, text(m))
		require.NoError(t, err)
	}
	_, err = f.mgr.Relay(f.ctx, b, text("4"))
	require.NoError(t, err)

	opened, err := f.mgr.Open(f.ctx, a, session.ID)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"1", "2", "3", "4"}, contents(opened.History)); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, strings.Join(opened.Transcript, "\n"), "→ Ви")
}

func TestOpenShowsLastMessages(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	f.connect(t, a, b)

	session, err := f.mgr.StartWithContact(f.ctx, a, b.ID)
	require.NoError(t, err)
	for i := 1; i <= 12; i++ {
		_, err := f.mgr.Relay(f.ctx, a, text(strconv.Itoa(i)))
		require.NoError(t, err)
	}

	opened, err := f.mgr.Open(f.ctx, b, session.ID)
	require.NoError(t, err)
	got := contents(opened.History)
	require.Len(t, got, DefaultHistoryLimit)
	assert.Equal(t, "3", got[0])
	assert.Equal(t, "12", got[len(got)-1])
}

func TestOpenLongHistoryFitsMessages(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	f.connect(t, a, b)

	session, err := f.mgr.StartWithContact(f.ctx, a, b.ID)
	require.NoError(t, err)
	for i := 0; i < DefaultHistoryLimit; i++ {
		_, err := f.mgr.Relay(f.ctx, a, text(fmt.Sprintf("%02d %s", i, strings.Repeat("ж", 497))))
		require.NoError(t, err)
	}

	opened, err := f.mgr.Open(f.ctx, b, session.ID)
	require.NoError(t, err)
	require.Len(t, opened.History, DefaultHistoryLimit)
	require.Greater(t, len(opened.Transcript), 1)
	for _, part := range opened.Transcript {
		assert.LessOrEqual(t, render.Len(part), render.MaxTextLen)
	}
	joined := strings.Join(opened.Transcript, "\n")
	for i := 0; i < DefaultHistoryLimit; i++ {
		assert.Contains(t, joined, fmt.Sprintf("\n%02d ", i))
	}
}

func TestRelayFullLengthText(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	f.connect(t, a, b)

	_, err := f.mgr.StartWithContact(f.ctx, a, b.ID)
	require.NoError(t, err)

	body := strings.Repeat("ц", render.MaxTextLen)
	msg, err := f.mgr.Relay(f.ctx, a, text(body))
	require.NoError(t, err)
	assert.Equal(t, body, msg.Content)

	toB := f.rec.To(b.ExternalID)
	require.Len(t, toB, 1)
	assert.LessOrEqual(t, render.Len(toB[0].Text), render.MaxTextLen)
}

func TestOpenEmptyHistory(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")

	session, err := f.mgr.GetOrCreate(f.ctx, a.ID, b.ID, nil)
	require.NoError(t, err)

	opened, err := f.mgr.Open(f.ctx, a, session.ID)
	require.NoError(t, err)
	assert.Empty(t, opened.History)
	assert.Empty(t, opened.Transcript)
}

func TestOpenDeniesOutsider(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	c := f.user(t, 300, "Mykola")

	session, err := f.mgr.GetOrCreate(f.ctx, a.ID, b.ID, nil)
	require.NoError(t, err)

	_, err = f.mgr.Open(f.ctx, c, session.ID)
	assert.ErrorIs(t, err, apperr.PermissionDenied)
	assert.Equal(t, convo.State(convo.Idle{}), f.states.Get(c.ID))

	_, err = f.mgr.Open(f.ctx, a, session.ID+100)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestRelayOutsideSession(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")

	_, err := f.mgr.Relay(f.ctx, a, text("hello"))
	assert.ErrorIs(t, err, ErrNotChatting)
	assert.ErrorIs(t, err, apperr.Conflict)
}

func TestRelayAfterClose(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	f.connect(t, a, b)

	session, err := f.mgr.StartWithContact(f.ctx, a, b.ID)
	require.NoError(t, err)
	_, err = f.mgr.Open(f.ctx, b, session.ID)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Close(f.ctx, a, session.ID))
	assert.Equal(t, convo.State(convo.Idle{}), f.states.Get(a.ID))
	toB := f.rec.To(b.ExternalID)
	require.Len(t, toB, 1)
	assert.Contains(t, toB[0].Text, "завершив")

	_, err = f.mgr.Relay(f.ctx, b, text("ще тут?"))
	assert.ErrorIs(t, err, ErrConversationEnded)
	assert.Equal(t, convo.State(convo.Idle{}), f.states.Get(b.ID))

	err = f.mgr.Close(f.ctx, b, session.ID)
	assert.ErrorIs(t, err, apperr.Conflict)
}

func TestRelayDeliveryFailureKeepsHistory(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	f.connect(t, a, b)

	session, err := f.mgr.StartWithContact(f.ctx, a, b.ID)
	require.NoError(t, err)

	f.rec.SetFail(errors.New("bot was blocked by the user"))
	msg, err := f.mgr.Relay(f.ctx, a, text("Ціна?"))
	assert.ErrorIs(t, err, apperr.DeliveryFailure)
	require.NotNil(t, msg)

	f.rec.SetFail(nil)
	opened, err := f.mgr.Open(f.ctx, b, session.ID)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"Ціна?"}, contents(opened.History)); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestRelayMedia(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")
	f.connect(t, a, b)

	_, err := f.mgr.StartWithContact(f.ctx, a, b.ID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload delivery.Payload
		stored  string
		op      string
	}{
		{"photo without caption", delivery.Payload{Kind: delivery.MediaPhoto, FileID: "p1"}, "[медіа]", "media"},
		{"document with caption", delivery.Payload{Kind: delivery.MediaDocument, FileID: "d1", Caption: "накладна"}, "накладна", "media"},
		{"voice", delivery.Payload{Kind: delivery.MediaVoice, FileID: "v1"}, "[медіа]", "media"},
		{"other", delivery.Payload{Kind: delivery.MediaOther, SourceChatID: 100, SourceMessageID: 7}, "[медіа]", "forward"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.rec.Reset()
			msg, err := f.mgr.Relay(f.ctx, a, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, msg.Content)

			sent := f.rec.To(b.ExternalID)
			require.Len(t, sent, 1)
			assert.Equal(t, tt.op, sent[0].Op)
		})
	}
}

func TestStartWithContactRequiresAcceptance(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	b := f.user(t, 200, "Taras")

	_, err := f.store.CreateContactRequest(f.ctx, a.ID, b.ID)
	require.NoError(t, err)

	_, err = f.mgr.StartWithContact(f.ctx, a, b.ID)
	assert.ErrorIs(t, err, apperr.PermissionDenied)
	_, ok := f.states.ActiveSession(a.ID)
	assert.False(t, ok)
}

func TestStartFromListing(t *testing.T) {
	f := newFixture(t)
	buyer := f.user(t, 100, "Olena")
	owner := f.user(t, 200, "Taras")
	lot, err := f.store.CreateListing(f.ctx, &models.Listing{OwnerID: owner.ID, Type: models.ListingSell, Crop: "Кукурудза", Price: 7000})
	require.NoError(t, err)

	_, err = f.mgr.StartFromListing(f.ctx, owner, lot.ID)
	assert.ErrorIs(t, err, apperr.InvalidInput)

	res, err := f.mgr.StartFromListing(f.ctx, buyer, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContactNone, res.Status)
	assert.Nil(t, res.Session)
	assert.Equal(t, owner.ID, res.Owner.ID)

	f.connect(t, buyer, owner)
	res, err = f.mgr.StartFromListing(f.ctx, buyer, lot.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	require.NotNil(t, res.Session.ListingID)
	assert.Equal(t, lot.ID, *res.Session.ListingID)
	assert.Equal(t, convo.Chatting{SessionID: res.Session.ID}, f.states.Get(buyer.ID))

	_, err = f.mgr.StartFromListing(f.ctx, buyer, lot.ID+100)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestListReturnsCounterparts(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, 100, "Olena")
	for i := int64(1); i <= 3; i++ {
		other := f.user(t, 200+i, fmt.Sprintf("Partner%d", i))
		_, err := f.mgr.GetOrCreate(f.ctx, a.ID, other.ID, nil)
		require.NoError(t, err)
	}

	sessions, err := f.mgr.List(f.ctx, a)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	for _, s := range sessions {
		assert.NotEqual(t, a.ID, s.Counterpart.ID)
		assert.True(t, s.Has(a.ID))
	}
}
