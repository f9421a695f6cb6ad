// internal/infra/delivery/telegram.go
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"event_digest_service/internal/domain/delivery"
	idb "event_digest_service/internal/infra/database"

	"gopkg.in/telebot.v3"
)

// TelegramSender implements delivery.Sender using the gopkg.in/telebot.v3
// library. It resolves the user's chat through the directory and sends one
// message per digest.
type TelegramSender struct {
	bot       *telebot.Bot
	directory delivery.Directory
}

func NewTelegramSender(b *telebot.Bot, directory delivery.Directory) *TelegramSender {
	return &TelegramSender{bot: b, directory: directory}
}

func (s *TelegramSender) SendDigest(ctx context.Context, userID int64, items []delivery.Item) error {
	chatID, err := s.directory.ChatIDForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, idb.ErrUserNotFound) {
			return delivery.Permanent(err)
		}
		return err
	}

	recipient := &telebot.User{ID: chatID}
	_, err = s.bot.Send(recipient, renderDigestText(items), &telebot.SendOptions{
		ParseMode:             telebot.ModeMarkdown,
		DisableWebPagePreview: true,
	})
	if err != nil {
		if isPermanentTelegramError(err) {
			return delivery.Permanent(err)
		}
		return err // rate limits, timeouts: worth retrying
	}
	return nil
}

// isPermanentTelegramError reports whether the API rejection can never
// succeed on retry (user blocked the bot, chat gone, account deleted).
func isPermanentTelegramError(err error) bool {
	return errors.Is(err, telebot.ErrBlockedByUser) ||
		errors.Is(err, telebot.ErrChatNotFound) ||
		errors.Is(err, telebot.ErrUserIsDeactivated)
}

func renderDigestText(items []delivery.Item) string {
	var b strings.Builder
	b.WriteString("*Your upcoming events*\n\n")
	for i, it := range items {
		e := it.Event
		b.WriteString(fmt.Sprintf("%d. *%s* — %s, %s", i+1, e.Title, e.StartsAt.Format("Mon Jan 2 15:04"), e.VenueCity))
		if e.IsFree() {
			b.WriteString(" (free)")
		} else {
			b.WriteString(fmt.Sprintf(" ($%.2f)", float64(e.PriceCents)/100))
		}
		b.WriteString("\n")
	}
	return b.String()
}
