package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"donor_check/internal/catalog"
	"donor_check/internal/config"
	"donor_check/internal/metrics"
	"donor_check/internal/model"
	"donor_check/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// CatalogProvider hands out the catalog to query.
type CatalogProvider interface {
	Current() *catalog.Catalog
}

// NoticeSource returns the latest blood service announcements.
type NoticeSource interface {
	Latest(ctx context.Context, n int) ([]model.Notice, error)
}

// Bot is the Telegram bot that answers donor eligibility lookups.
type Bot struct {
	api      telegramAPI
	catalogs CatalogProvider
	store    storage.Storage
	notices  NoticeSource
	cfg      *config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Bot with the given Telegram token, catalog provider,
// storage, and config. notices may be nil when no notice feed is configured.
func New(token string, catalogs CatalogProvider, store storage.Storage, notices NoticeSource, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:      api,
		catalogs: catalogs,
		store:    store,
		notices:  notices,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// SetMetrics enables command and search metrics.
func (b *Bot) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		b.handleSearch(msg.Chat.ID, text)
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

var knownCommands = map[string]bool{
	"start":      true,
	"help":       true,
	cmdSearch:    true,
	cmdCategory:  true,
	"categories": true,
	"status":     true,
	"notices":    true,
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)
	if knownCommands[cmd] {
		b.metrics.IncrementCommand(cmd)
	} else {
		b.metrics.IncrementCommand("unknown")
	}

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdSearch:
		b.handleSearch(chatID, args)
	case cmdCategory:
		b.handleCategory(chatID, args)
	case "categories":
		b.handleCategories(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "notices":
		b.handleNotices(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// catalog returns the current catalog, telling the user when none is loaded.
func (b *Bot) catalog(chatID int64) *catalog.Catalog {
	c := b.catalogs.Current()
	if c == nil {
		b.reply(chatID, "The rule catalog is not loaded yet. Please try again later.")
	}
	return c
}
