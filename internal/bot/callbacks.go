package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"donor_check/internal/model"
)

const (
	cmdSearch   = "search"
	cmdCategory = "category"
)

func categoryCallback(cat model.Category, page int) string {
	return fmt.Sprintf("%s:%s:%d", cmdCategory, cat, page)
}

func (b *Bot) handleCallback(_ context.Context, cb *tgbotapi.CallbackQuery) {
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	if cb.From != nil && !b.cfg.IsUserAllowed(cb.From.ID) {
		return
	}

	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) != 3 || parts[0] != cmdCategory {
		return
	}

	cat, err := model.ParseCategory(parts[1])
	if err != nil {
		return
	}
	page, err := strconv.Atoi(parts[2])
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", parts[0],
		"category", cat,
		"page", page,
		"chat_id", chatID,
	)

	b.sendCategoryPage(chatID, cat, page)
}
