package chat

import (
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	core "github.com/bananapics/core/internal"
)

// classify wraps a Telegram API error as core.ErrRecipientBlocked when it
// indicates the user blocked the bot or deactivated their account (HTTP
// 403, or a description containing "blocked"/"deactivated"), per the
// chat-platform error mapping.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 403 {
			return core.ErrRecipientBlocked
		}
		msg := strings.ToLower(apiErr.Message)
		if strings.Contains(msg, "blocked") || strings.Contains(msg, "deactivated") {
			return core.ErrRecipientBlocked
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "blocked") || strings.Contains(msg, "deactivated") {
		return core.ErrRecipientBlocked
	}
	return err
}
