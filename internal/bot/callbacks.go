package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"harvester/internal/model"
)

const (
	actionRun    = "run"
	actionPause  = "pause"
	actionResume = "resume"
)

// runKeyboard offers a manual cycle per tier below the status message.
func runKeyboard() tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(model.Priorities))
	for _, p := range model.Priorities {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Run "+string(p), actionRun+":"+string(p)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// resumeKeyboard offers a resume button for every feed that is not active.
func resumeKeyboard(feeds []model.FeedSource) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, f := range feeds {
		if f.Status == model.FeedActive {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Resume #%d %s", f.ID, f.Name), fmt.Sprintf("%s:%d", actionResume, f.ID)),
		))
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := strings.Cut(data, ":")
	if !ok || arg == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case actionRun:
		b.handleRun(ctx, chatID, arg)
	case actionPause:
		b.handlePause(ctx, chatID, arg)
	case actionResume:
		b.handleResume(ctx, chatID, arg)
	}
}
