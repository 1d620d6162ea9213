package notification

import (
	"context"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nikoksr/notify"
	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/settings"
)

const subject = "Nova sessão iniciada:"

type Lister interface {
	ListChatsForSessionStarted(st model.SessionType) ([]settings.TelegramChat, error)
}

type Sender interface {
	Send(ctx context.Context, chatIDs []int64, subject, message string) error
}

// TelegramSender delivers through a Telegram bot.
type TelegramSender struct {
	bot botClient
}

func NewTelegramSender(bot *tgbotapi.BotAPI) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(ctx context.Context, chatIDs []int64, subject, message string) error {
	tg := &Telegram{}
	tg.SetClient(s.bot)
	tg.AddReceivers(chatIDs...)

	n := notify.NewWithServices(tg)
	return n.Send(ctx, subject, message)
}

type Manager struct {
	ctx    context.Context
	sender Sender
	lister Lister
}

func NewManager(ctx context.Context, sender Sender, lister Lister) *Manager {
	return &Manager{
		ctx:    ctx,
		sender: sender,
		lister: lister,
	}
}

// Start notifies every new session until the context is done or sessions is closed.
func (m *Manager) Start(sessions <-chan model.SessionStarted) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case newSession, ok := <-sessions:
			if !ok {
				return
			}
			if !isSessionToBeNotified(newSession.SessionType) {
				continue
			}
			log.Printf("Session to be notified started: %s -> %s\n", newSession.TrackName, newSession.SessionType)
			m.handleNotification(newSession)
		}
	}
}

func (m *Manager) handleNotification(newSession model.SessionStarted) {
	chats, err := m.lister.ListChatsForSessionStarted(newSession.SessionType)
	if err != nil {
		log.Printf("Error listing chats for session started: %s", err.Error())
		return
	}
	log.Printf("Sending notification for %s -> %s to %d telegram chats\n", newSession.TrackName, newSession.SessionType, len(chats))
	if err := m.sendNotification(chats, newSession); err != nil {
		log.Printf("Error notifying chats: %s", err.Error())
	}
}

func (m *Manager) sendNotification(chats []settings.TelegramChat, newSession model.SessionStarted) error {
	if len(chats) == 0 {
		return nil
	}

	chatIDs := make([]int64, 0, len(chats))
	for _, chat := range chats {
		chatID, err := strconv.ParseInt(chat.ChatID, 0, 64)
		if err != nil {
			log.Printf("Error parsing chat id %q: %s", chat.ChatID, err.Error())
			continue
		}
		chatIDs = append(chatIDs, chatID)
	}
	if len(chatIDs) == 0 {
		return nil
	}

	if err := m.sender.Send(m.ctx, chatIDs, subject, newSession.String()); err != nil {
		return errors.Wrap(err, "sending session notification")
	}
	return nil
}

func isSessionToBeNotified(st model.SessionType) bool {
	return st == model.SessionPractice || st == model.SessionQualifying || st == model.SessionRace
}
