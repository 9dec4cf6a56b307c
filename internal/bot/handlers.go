package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"donor_check/internal/model"
	"donor_check/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the blood donation eligibility bot!

Send a disease, medication, vaccine, procedure or travel destination and
the bot tells you when you can donate.

Quick start:
1. Type a search, e.g. "감기" or "Thailand Bangkok"
2. /search -d 2024-01-01 <query> to count from another date
3. /categories to browse the rule catalog

Use /help for the full command reference.

`+disclaimer)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Search:
<text> — search the rule catalog as of today
/search [-d YYYY-MM-DD] <query> — search as of a given date

Travel destinations can be searched as "<country> <area>",
e.g. "Thailand Bangkok", or by area alone.

Browse:
/categories — list categories
/category <name> [page] — list the rules of one category

Other:
/status — catalog information
/notices — latest blood service announcements

`+disclaimer)
}

const disclaimer = `The results are for reference only and do not replace a medical
consultation. Eligibility is decided at the donation site.`

func (b *Bot) handleSearch(chatID int64, args string) {
	parsed, err := ParseSearchArgs(args, b.now())
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	c := b.catalog(chatID)
	if c == nil {
		return
	}

	results := c.Query(parsed.Query, "")
	b.metrics.ObserveSearch(len(results))
	b.log.Debug("search", "query", parsed.Query, "results", len(results), "chat_id", chatID)
	b.reply(chatID, FormatSearchResults(parsed.Query, results, parsed.Date))
}

func (b *Bot) handleCategory(chatID int64, args string) {
	cat, page, err := ParseCategoryArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	b.sendCategoryPage(chatID, cat, page)
}

func (b *Bot) sendCategoryPage(chatID int64, cat model.Category, page int) {
	c := b.catalog(chatID)
	if c == nil {
		return
	}

	base := b.now()
	text, page, pages := FormatCategoryPage(cat, c.Query("", cat), page, base)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if pages > 1 {
		msg.ReplyMarkup = pageKeyboard(cat, page, pages)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send category page", "chat_id", chatID, "category", cat, "error", err)
	}
}

func pageKeyboard(cat model.Category, page, pages int) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	if page > 1 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("< Prev", categoryCallback(cat, page-1)))
	}
	if page < pages {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Next >", categoryCallback(cat, page+1)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func (b *Bot) handleCategories(chatID int64) {
	c := b.catalog(chatID)
	if c == nil {
		return
	}
	b.reply(chatID, FormatCategories(c))
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	imp, err := b.store.LatestImport(ctx)
	if err != nil && !errors.Is(err, storage.ErrNoCatalog) {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStatus(b.catalogs.Current(), imp))
}

func (b *Bot) handleNotices(ctx context.Context, chatID int64) {
	if b.notices == nil {
		b.reply(chatID, "Notices are not configured.")
		return
	}
	notices, err := b.notices.Latest(ctx, maxNotices)
	if err != nil {
		b.log.Error("fetch notices", "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to fetch notices. Please try again later.")
		return
	}
	b.reply(chatID, FormatNotices(notices))
}
