// Package bot is the Telegram transport: it receives updates, throttles them,
// turns them into core operations and renders the results.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/agromarket/agro-bot/internal/chat"
	"github.com/agromarket/agro-bot/internal/contacts"
	"github.com/agromarket/agro-bot/internal/convo"
	"github.com/agromarket/agro-bot/internal/db"
	"github.com/agromarket/agro-bot/internal/offers"
	"github.com/agromarket/agro-bot/internal/throttle"
)

const updateTimeout = 30 * time.Second

type Config struct {
	Token         string
	AdminIDs      []int64
	HistoryLimit  int
	WebhookURL    string
	WebhookSecret string
	WebhookListen string
}

func (c Config) isAdmin(externalID int64) bool {
	for _, id := range c.AdminIDs {
		if id == externalID {
			return true
		}
	}
	return false
}

type Bot struct {
	cfg       Config
	botAPI    *tgbotapi.BotAPI
	api       telegramAPI
	store     *db.DB
	limiter   *throttle.Limiter
	states    *convo.Store
	messenger *Messenger
	chats     *chat.Manager
	contacts  *contacts.Manager
	offers    *offers.Engine
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New connects to the Bot API and wires the core managers.
func New(cfg Config, store *db.DB, limiter *throttle.Limiter, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("authorized on account", zap.String("username", api.Self.UserName))

	b := newBot(cfg, api, store, limiter, logger)
	b.botAPI = api
	return b, nil
}

func newBot(cfg Config, api telegramAPI, store *db.DB, limiter *throttle.Limiter, logger *zap.Logger) *Bot {
	states := convo.NewStore()
	messenger := NewMessenger(api)
	chats := chat.NewManager(store, states, messenger, logger, chat.WithHistoryLimit(cfg.HistoryLimit))

	return &Bot{
		cfg:       cfg,
		api:       api,
		store:     store,
		limiter:   limiter,
		states:    states,
		messenger: messenger,
		chats:     chats,
		contacts:  contacts.NewManager(store, chats, messenger, logger),
		offers:    offers.NewEngine(store, states, messenger, logger),
		logger:    logger.Named("bot"),
	}
}

// Run receives updates until ctx is done, then waits for in-flight handlers.
// It long-polls unless a webhook URL is configured.
func (b *Bot) Run(ctx context.Context) error {
	if b.cfg.WebhookURL != "" {
		return b.runWebhook(ctx)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.botAPI.GetUpdatesChan(u)
	b.logger.Info("long polling started")

	err := b.consume(ctx, updates, nil)
	b.botAPI.StopReceivingUpdates()
	return err
}

func (b *Bot) webhookPath() string {
	if b.cfg.WebhookSecret != "" {
		return "/" + b.cfg.WebhookSecret
	}
	return "/webhook"
}

func (b *Bot) runWebhook(ctx context.Context) error {
	path := b.webhookPath()
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(b.cfg.WebhookURL, "/") + path)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := b.botAPI.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	updates := make(chan tgbotapi.Update, b.botAPI.Buffer)
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		update, err := b.botAPI.HandleUpdate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		select {
		case updates <- *update:
		case <-r.Context().Done():
		}
	})

	srv := &http.Server{Addr: b.cfg.WebhookListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	b.logger.Info("webhook server started", zap.String("listen", b.cfg.WebhookListen))

	err = b.consume(ctx, updates, serveErr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		b.logger.Warn("webhook server shutdown failed", zap.Error(serr))
	}
	return err
}

// consume dispatches each update to its own goroutine. Per-user ordering is
// kept by the throttle lock taken in handleUpdate.
func (b *Bot) consume(ctx context.Context, updates <-chan tgbotapi.Update, fatal <-chan error) error {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fatal:
			if ok {
				return err
			}
			fatal = nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
				defer cancel()
				b.handleUpdate(uctx, update)
			}()
		}
	}
}

// Wait blocks until every dispatched update has been handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// SweepThrottle evicts throttle entries idle for longer than maxAge.
func (b *Bot) SweepThrottle(maxAge time.Duration) {
	if n := b.limiter.Sweep(maxAge); n > 0 {
		b.logger.Debug("throttle entries evicted", zap.Int("count", n))
	}
}
