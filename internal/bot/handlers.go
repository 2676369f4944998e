package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"harvester/internal/ai"
	"harvester/internal/model"
	"harvester/internal/scheduler"
	"harvester/internal/storage"
)

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Harvester operator commands:

/status — scheduler state, daily progress, providers
/runs [n] — last n cycles (default 5)
/run <high|medium|low> — run one cycle now
/settings — show pipeline settings
/set <key> <value> — change a setting
/feeds [tier] — list feed sources
/pause <id> — stop fetching a feed
/resume <id> — resume a feed and clear its errors

Interval and enabled changes restart the scheduler.`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	st, err := b.sched.Status(ctx, scheduler.DefaultRecentRuns)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	var providers []ai.ProviderStatus
	if b.providers != nil {
		providers = b.providers.Status()
	}

	msg := tgbotapi.NewMessage(chatID, FormatStatus(st, providers, b.now()))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = runKeyboard()
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send status", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleRuns(ctx context.Context, chatID int64, args string) {
	n, err := ParseCountArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	runs, err := b.store.ListRunLogs(ctx, n)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatRuns(runs))
}

// handleRun starts a cycle in the background and reports its summary when done.
func (b *Bot) handleRun(ctx context.Context, chatID int64, args string) {
	tier, err := ParseTierArg(args)
	if err != nil || tier == "" {
		b.reply(chatID, "Usage: /run <high|medium|low>")
		return
	}

	b.reply(chatID, fmt.Sprintf("Starting %s cycle...", tier))
	b.runs.Add(1)
	go func() {
		defer b.runs.Done()
		run, err := b.sched.RunOnce(context.WithoutCancel(ctx), tier)
		switch {
		case errors.Is(err, scheduler.ErrDisabled):
			b.reply(chatID, "Scheduler is disabled. Use /set enabled on.")
		case errors.Is(err, scheduler.ErrDailyReached):
			b.reply(chatID, "Daily article target reached, nothing to do.")
		case err != nil:
			b.reply(chatID, fmt.Sprintf("Cycle failed: %v", err))
		default:
			b.reply(chatID, scheduler.FormatRunSummary(*run))
		}
	}()
}

func (b *Bot) handleSettings(ctx context.Context, chatID int64) {
	st, err := b.store.GetSettings(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatSettings(st))
}

func (b *Bot) handleSet(ctx context.Context, chatID int64, args string) {
	key, value, err := ParseSetArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	st, err := b.store.GetSettings(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if err := ApplySetting(&st, key, value); err != nil {
		b.reply(chatID, err.Error())
		return
	}

	restarted, err := b.sched.UpdateSettings(ctx, st)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("setting changed", "key", key, "value", value, "chat_id", chatID, "restarted", restarted)

	text := fmt.Sprintf("%s set to %s.", key, value)
	if restarted {
		text += " Scheduler restarted."
	}
	b.reply(chatID, text)
}

func (b *Bot) handleFeeds(ctx context.Context, chatID int64, args string) {
	tier, err := ParseTierArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	feeds, err := b.store.ListFeeds(ctx, storage.FeedQuery{Priority: tier})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatFeedList(feeds))
	msg.DisableWebPagePreview = true
	if kb, ok := resumeKeyboard(feeds); ok {
		msg.ReplyMarkup = kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send feeds", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handlePause(ctx context.Context, chatID int64, args string) {
	b.setFeedStatus(ctx, chatID, args, model.FeedPaused, "Usage: /pause <id>", "paused")
}

func (b *Bot) handleResume(ctx context.Context, chatID int64, args string) {
	b.setFeedStatus(ctx, chatID, args, model.FeedActive, "Usage: /resume <id>", "resumed")
}

func (b *Bot) setFeedStatus(ctx context.Context, chatID int64, args string, status model.FeedStatus, usage, verb string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, usage)
		return
	}

	feed, err := b.store.GetFeed(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Feed #%d not found.", id))
		return
	}

	if err := b.store.SetFeedStatus(ctx, id, status); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("feed status changed", "feed_id", id, "status", status, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Feed #%d \"%s\" %s.", id, feed.Name, verb))
}
