// Package bot implements the Telegram operator surface of the harvester.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"harvester/internal/ai"
	"harvester/internal/config"
	"harvester/internal/model"
	"harvester/internal/scheduler"
	"harvester/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store is the persistence used by the operator commands.
type Store interface {
	GetSettings(ctx context.Context) (model.BotSettings, error)
	ListFeeds(ctx context.Context, q storage.FeedQuery) ([]model.FeedSource, error)
	GetFeed(ctx context.Context, id int64) (*model.FeedSource, error)
	SetFeedStatus(ctx context.Context, id int64, status model.FeedStatus) error
	ListRunLogs(ctx context.Context, limit int) ([]model.RunLog, error)
}

// Controller is the scheduler as seen by the operator.
type Controller interface {
	RunOnce(ctx context.Context, tier model.Priority) (*model.RunLog, error)
	Status(ctx context.Context, n int) (*scheduler.Status, error)
	UpdateSettings(ctx context.Context, st model.BotSettings) (bool, error)
}

// ProviderReporter exposes the rate-limit state of the AI providers.
type ProviderReporter interface {
	Status() []ai.ProviderStatus
}

// Bot is the Telegram bot that handles operator commands and sends cycle summaries.
type Bot struct {
	api       telegramAPI
	store     Store
	sched     Controller
	providers ProviderReporter
	cfg       *config.Config
	log       *slog.Logger
	now       func() time.Time

	// runs tracks cycles started from chat.
	runs sync.WaitGroup
}

// New creates a Bot with the given Telegram token. providers may be nil.
func New(token string, store Store, sched Controller, providers ProviderReporter, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:       api,
		store:     store,
		sched:     sched,
		providers: providers,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
// Cycles started with /run are awaited before it returns.
func (b *Bot) Run(ctx context.Context) {
	defer b.runs.Wait()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
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

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start", "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "runs":
		b.handleRuns(ctx, chatID, args)
	case actionRun:
		b.handleRun(ctx, chatID, args)
	case "settings":
		b.handleSettings(ctx, chatID)
	case "set":
		b.handleSet(ctx, chatID, args)
	case "feeds":
		b.handleFeeds(ctx, chatID, args)
	case actionPause:
		b.handlePause(ctx, chatID, args)
	case actionResume:
		b.handleResume(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
