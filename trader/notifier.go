package trader

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"harvester/logger"
)

// TelegramNotifier pushes event messages to a Telegram chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier authenticates the bot once at startup.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("Telegram 机器人初始化失败: %w", err)
	}
	logger.Infof("📨 Telegram 通知已启用: @%s", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// Notify sends one message. tgbotapi has no context support; the send
// runs with the library's own HTTP timeout.
func (n *TelegramNotifier) Notify(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("Telegram 发送失败: %w", err)
	}
	return nil
}

// ConsoleNotifier logs event messages when Telegram is not configured.
type ConsoleNotifier struct{}

func (ConsoleNotifier) Notify(_ context.Context, text string) error {
	logger.Infof("📢 %s", text)
	return nil
}
