package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agromarket/agro-bot/internal/db"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agro.db")
	t.Setenv("DB_FILE", path)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BOT_TOKEN", "")
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedUser(t *testing.T, path string, externalID int64) {
	t.Helper()
	store, err := db.New(path)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.EnsureUser(context.Background(), externalID, "Taras", "taras", false)
	require.NoError(t, err)
}

func TestMigrateCmd(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema version")
}

func TestUserCmds(t *testing.T) {
	path := setupEnv(t)
	seedUser(t, path, 100)

	_, err := execute(t, "user", "set", "100", "company", "Агро Плюс")
	require.NoError(t, err)
	_, err = execute(t, "user", "set", "100", "role", "farmer")
	require.NoError(t, err)
	_, err = execute(t, "user", "ban", "100")
	require.NoError(t, err)

	out, err := execute(t, "user", "show", "100")
	require.NoError(t, err)
	assert.Contains(t, out, `company="Агро Плюс"`)
	assert.Contains(t, out, "role=farmer")
	assert.Contains(t, out, "banned=true")

	_, err = execute(t, "user", "unban", "100")
	require.NoError(t, err)
	out, err = execute(t, "user", "show", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "banned=false")
}

func TestUserCmdsReject(t *testing.T) {
	path := setupEnv(t)
	seedUser(t, path, 100)

	tests := [][]string{
		{"user", "set", "100", "is_banned", "1"},
		{"user", "set", "100", "role", "wizard"},
		{"user", "set", "abc", "role", "farmer"},
		{"user", "ban", "555"},
		{"user", "show", "-3"},
	}
	for _, args := range tests {
		_, err := execute(t, args...)
		assert.Error(t, err, args)
	}
}

func TestLotCmds(t *testing.T) {
	path := setupEnv(t)
	seedUser(t, path, 100)

	_, err := execute(t, "lot", "add", "--crop", "Пшениця", "--volume", "100", "--price", "9000")
	assert.Error(t, err, "owner is required")

	_, err = execute(t, "lot", "add", "--owner", "100", "--type", "rent", "--crop", "Пшениця", "--volume", "100", "--price", "9000")
	assert.Error(t, err)

	out, err := execute(t, "lot", "add", "--owner", "100", "--crop", "Пшениця", "--volume", "120.5", "--price", "9000", "--region", "Київська")
	require.NoError(t, err)
	assert.Contains(t, out, "lot #1 created: Пшениця, 120.5 t at 9000 UAH/t")

	out, err = execute(t, "lot", "close", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "lot #1 closed")

	_, err = execute(t, "lot", "close", "1")
	assert.Error(t, err)
}

func TestRunRequiresToken(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN")
}

func TestHeartbeat(t *testing.T) {
	store, err := db.New(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, lockName, "first", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("stops on cancel while held", func(t *testing.T) {
		hctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		assert.NoError(t, heartbeat(hctx, store, "first", 10*time.Millisecond, zap.NewNop()))
	})

	t.Run("reports takeover", func(t *testing.T) {
		ok, err := store.AcquireLock(ctx, lockName, "second", 0)
		require.NoError(t, err)
		require.True(t, ok)

		hctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		assert.ErrorIs(t, heartbeat(hctx, store, "first", 10*time.Millisecond, zap.NewNop()), errLockLost)
	})
}

func TestRootHelpStatesPrecedence(t *testing.T) {
	long := newRootCmd().Long
	yamlAt := strings.Index(long, "CONFIG_FILE")
	dotenvAt := strings.Index(long, ".env")
	envAt := strings.Index(long, "environment variables")
	require.True(t, yamlAt >= 0 && dotenvAt >= 0 && envAt >= 0)
	assert.Less(t, yamlAt, dotenvAt)
	assert.Less(t, dotenvAt, envAt)
	assert.Contains(t, long, "increasing order of precedence")
}
