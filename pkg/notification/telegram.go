package notification

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram is a notify.Notifier over a v5 bot client.
type Telegram struct {
	client  botClient
	chatIDs []int64
}

func (t *Telegram) SetClient(client botClient) {
	t.client = client
}

func (t *Telegram) AddReceivers(chatIDs ...int64) {
	t.chatIDs = append(t.chatIDs, chatIDs...)
}

// Send messages every receiver and stops at the first failure.
func (t *Telegram) Send(ctx context.Context, subject, message string) error {
	text := subject + "\n" + message
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.client.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			return errors.Wrapf(err, "sending message to telegram chat %d", chatID)
		}
	}
	return nil
}
