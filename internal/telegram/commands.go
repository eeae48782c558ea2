package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// HandleCommand builds the reply to a bot command, or nil when the update is
// not a command the bot answers.
func HandleCommand(update tgbotapi.Update, staffChatID int64) *tgbotapi.MessageConfig {
	if update.Message == nil || !update.Message.IsCommand() {
		return nil
	}
	chatID := update.Message.Chat.ID

	var text string
	switch update.Message.Command() {
	case "start", "help":
		text = "I forward student support alerts to staff. Use /chatid to get the id of this chat for telegram.staff_chat_id."
	case "chatid":
		text = fmt.Sprintf("This chat id is %d", chatID)
	case "status":
		if staffChatID != 0 && chatID == staffChatID {
			text = "This chat receives staff alerts."
		} else {
			text = "This chat is not the configured staff chat."
		}
	default:
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, text)
	return &msg
}
