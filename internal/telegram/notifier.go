package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier mirrors staff alerts into a Telegram group chat.
type Notifier struct {
	bot    Sender
	chatID int64
}

func NewNotifier(bot Sender, staffChatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: staffChatID}
}

// StaffAlert posts title and body to the staff chat. A nil Notifier or an
// unset chat id is a no-op.
func (n *Notifier) StaffAlert(ctx context.Context, title, body string) error {
	if n == nil || n.bot == nil || n.chatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text := "*" + escape(title) + "*"
	if body != "" {
		text += "\n" + escape(body)
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	slog.Debug("staff alert mirrored to telegram", "chat_id", n.chatID)
	return nil
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}
