package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/agromarket/agro-bot/internal/apperr"
	"github.com/agromarket/agro-bot/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustUser(t *testing.T, db *DB, externalID int64) *models.User {
	t.Helper()
	u, err := db.EnsureUser(context.Background(), externalID, "user", "", false)
	require.NoError(t, err)
	return u
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)

	require.NoError(t, db.Migrate(ctx))
	version, err = db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestEnsureUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	u, err := db.EnsureUser(ctx, 42, "Olena", "olena", false)
	require.NoError(t, err)
	assert.Equal(t, models.RoleGuest, u.Role)

	again, err := db.EnsureUser(ctx, 42, "Olena K", "olena_k", false)
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "Olena K", again.FirstName)

	admin, err := db.EnsureUser(ctx, 42, "Olena K", "olena_k", true)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	_, err = db.GetUserByExternalID(ctx, 7)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestUpdateUserField(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	mustUser(t, db, 42)

	require.NoError(t, db.UpdateUserField(ctx, 42, "company", "Агро ТОВ"))
	require.NoError(t, db.UpdateUserField(ctx, 42, "role", "buyer"))
	u, err := db.GetUserByExternalID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Агро ТОВ", u.Company)
	assert.Equal(t, models.RoleBuyer, u.Role)

	assert.ErrorIs(t, db.UpdateUserField(ctx, 42, "telegram_id", "1"), apperr.InvalidInput)
	assert.ErrorIs(t, db.UpdateUserField(ctx, 42, "role", "pirate"), apperr.InvalidInput)
	assert.ErrorIs(t, db.UpdateUserField(ctx, 7, "phone", "1"), apperr.NotFound)

	require.NoError(t, db.SetBanned(ctx, 42, true))
	u, err = db.GetUserByExternalID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, u.IsBanned)
}

func TestContactAcceptWritesBothDirections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := mustUser(t, db, 1)
	b := mustUser(t, db, 2)

	created, err := db.CreateContactRequest(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = db.CreateContactRequest(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, created)

	changed, err := db.AcceptContact(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	forward, err := db.ContactStatus(ctx, a.ID, b.ID)
	require.NoError(t, err)
	reverse, err := db.ContactStatus(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContactAccepted, forward)
	assert.Equal(t, models.ContactAccepted, reverse)

	changed, err = db.AcceptContact(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = db.AcceptContact(ctx, b.ID, mustUser(t, db, 3).ID)
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestAcceptUpgradesCrossedRequests(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := mustUser(t, db, 1)
	b := mustUser(t, db, 2)

	_, err := db.CreateContactRequest(ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = db.CreateContactRequest(ctx, b.ID, a.ID)
	require.NoError(t, err)

	changed, err := db.AcceptContact(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	reverse, err := db.ContactStatus(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContactAccepted, reverse)
}

func TestSessionUniquePerPairAndListing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := mustUser(t, db, 1)
	b := mustUser(t, db, 2)

	var wg sync.WaitGroup
	ids := make(chan int64, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _, err := db.GetOrCreateSession(ctx, b.ID, a.ID, nil)
			if assert.NoError(t, err) {
				ids <- s.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var first int64
	for id := range ids {
		if first == 0 {
			first = id
		}
		assert.Equal(t, first, id)
	}

	s, created, err := db.GetOrCreateSession(ctx, a.ID, b.ID, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, s.User1ID)
	assert.Equal(t, b.ID, s.User2ID)

	require.NoError(t, db.CloseSession(ctx, s.ID))
	assert.ErrorIs(t, db.CloseSession(ctx, s.ID), apperr.Conflict)

	fresh, created, err := db.GetOrCreateSession(ctx, a.ID, b.ID, nil)
	require.NoError(t, err)
	assert.True(t, created, "a closed session does not block a new one")
	assert.NotEqual(t, s.ID, fresh.ID)
}

func TestAppendMessageRequiresActiveSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := mustUser(t, db, 1)
	b := mustUser(t, db, 2)

	s, _, err := db.GetOrCreateSession(ctx, a.ID, b.ID, nil)
	require.NoError(t, err)

	for _, c := range []string{"one", "two", "three"} {
		_, err := db.AppendMessage(ctx, s.ID, a.ID, c)
		require.NoError(t, err)
	}
	msgs, err := db.RecentMessages(ctx, s.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)

	require.NoError(t, db.CloseSession(ctx, s.ID))
	_, err = db.AppendMessage(ctx, s.ID, a.ID, "late")
	assert.ErrorIs(t, err, apperr.Conflict)
}

func TestOfferPendingUniqueIndex(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, db, 1)
	buyer := mustUser(t, db, 2)
	lot, err := db.CreateListing(ctx, &models.Listing{OwnerID: owner.ID, Type: models.ListingSell, Crop: "Ріпак", Price: 20000})
	require.NoError(t, err)

	offer, err := db.CreateOffer(ctx, lot.ID, buyer.ID, 19500, "")
	require.NoError(t, err)

	_, err = db.CreateOffer(ctx, lot.ID, buyer.ID, 19600, "")
	assert.ErrorIs(t, err, apperr.Conflict)

	pending, err := db.HasPendingOffer(ctx, lot.ID, buyer.ID)
	require.NoError(t, err)
	assert.True(t, pending)

	view, err := db.ResolveOffer(ctx, offer.ID, owner.ID, models.OfferRejected)
	require.NoError(t, err)
	assert.Equal(t, models.OfferRejected, view.Status)

	_, err = db.ResolveOffer(ctx, offer.ID, owner.ID, models.OfferAccepted)
	assert.ErrorIs(t, err, apperr.Conflict)

	_, err = db.ResolveOffer(ctx, offer.ID, owner.ID, models.OfferPending)
	assert.ErrorIs(t, err, apperr.InvalidInput)

	_, err = db.CreateOffer(ctx, lot.ID, buyer.ID, 19600, "")
	assert.NoError(t, err)
}

func TestRuntimeLock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ok, err := db.AcquireLock(ctx, "polling", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.AcquireLock(ctx, "polling", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a fresh lock is not taken over")

	ok, err = db.RefreshLock(ctx, "polling", "first")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.RefreshLock(ctx, "polling", "second")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.ReleaseLock(ctx, "polling", "second"))
	ok, err = db.AcquireLock(ctx, "polling", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner is ignored")

	require.NoError(t, db.ReleaseLock(ctx, "polling", "first"))
	ok, err = db.AcquireLock(ctx, "polling", "second", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRuntimeLockTakeoverAfterTTL(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ok, err := db.AcquireLock(ctx, "polling", "stale", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = db.AcquireLock(ctx, "polling", "fresh", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.RefreshLock(ctx, "polling", "stale")
	require.NoError(t, err)
	assert.False(t, ok, "the old owner learns it lost the lock")
}
