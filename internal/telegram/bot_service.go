// Package telegram mirrors staff alerts into a Telegram chat and answers a
// few operator commands.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotService owns the bot connection and polls for operator commands.
type BotService struct {
	BotAPI      *tgbotapi.BotAPI
	staffChatID int64
}

func NewBotService(token string, staffChatID int64) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = false
	slog.Info("telegram bot authorized", "account", bot.Self.UserName)
	return &BotService{BotAPI: bot, staffChatID: staffChatID}, nil
}

// Notifier returns a notifier posting to the configured staff chat.
func (s *BotService) Notifier() *Notifier {
	return NewNotifier(s.BotAPI, s.staffChatID)
}

// Run answers commands until ctx is cancelled.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			s.BotAPI.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			reply := HandleCommand(update, s.staffChatID)
			if reply == nil {
				continue
			}
			if _, err := s.BotAPI.Send(reply); err != nil {
				slog.Warn("telegram reply failed", "error", err)
			}
		}
	}
}
