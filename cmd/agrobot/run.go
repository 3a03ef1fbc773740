package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agromarket/agro-bot/internal/bot"
	"github.com/agromarket/agro-bot/internal/db"
	"github.com/agromarket/agro-bot/internal/logging"
	"github.com/agromarket/agro-bot/internal/throttle"
)

const (
	lockName         = "bot"
	sweepInterval    = time.Minute
	throttleIdleTime = 10 * time.Minute
)

var errLockLost = errors.New("runtime lock was taken over by another instance")

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (long polling, or webhook when WEBHOOK_URL is set)",
		Args:  cobra.NoArgs,
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	owner := uuid.NewString()
	acquired, err := store.AcquireLock(ctx, lockName, owner, cfg.LockTTL())
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("another instance is already running against %s", cfg.DBFile)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.ReleaseLock(releaseCtx, lockName, owner); err != nil {
			logger.Warn("failed to release runtime lock", zap.Error(err))
		}
	}()
	logger.Info("runtime lock acquired", zap.String("owner", owner))

	limiter := throttle.New(cfg.ThrottleConfig())
	b, err := bot.New(bot.Config{
		Token:         cfg.BotToken,
		AdminIDs:      cfg.AdminIDs,
		HistoryLimit:  cfg.HistoryLimit,
		WebhookURL:    cfg.Webhook.URL,
		WebhookSecret: cfg.Webhook.Secret,
		WebhookListen: cfg.Webhook.Listen,
	}, store, limiter, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	g.Go(func() error {
		return sweepThrottle(gctx, b)
	})
	g.Go(func() error {
		return heartbeat(gctx, store, owner, cfg.LockHeartbeat(), logger)
	})

	logger.Info("bot is running")
	err = g.Wait()
	logger.Info("bot stopped", zap.Error(err))
	return err
}

func sweepThrottle(ctx context.Context, b *bot.Bot) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.SweepThrottle(throttleIdleTime)
		}
	}
}

// heartbeat keeps the runtime lock fresh and stops the process if another
// instance took it over.
func heartbeat(ctx context.Context, store *db.DB, owner string, every time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			held, err := store.RefreshLock(ctx, lockName, owner)
			if err != nil {
				logger.Warn("failed to refresh runtime lock", zap.Error(err))
				continue
			}
			if !held {
				return errLockLost
			}
		}
	}
}
