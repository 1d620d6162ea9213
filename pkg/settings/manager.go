package settings

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
)

const DbName = "./bsr-livetiming.db"

type TelegramChat struct {
	ChatID string
	Name   string
}

// Notifications tells which session starts a chat is notified about.
type Notifications map[model.SessionType]bool

var notifiable = []model.SessionType{model.SessionPractice, model.SessionQualifying, model.SessionRace}

func AllEnabled() Notifications {
	return Notifications{
		model.SessionPractice:   true,
		model.SessionQualifying: true,
		model.SessionRace:       true,
	}
}

func AllDisabled() Notifications {
	return Notifications{
		model.SessionPractice:   false,
		model.SessionQualifying: false,
		model.SessionRace:       false,
	}
}

func (n Notifications) String() string {
	status := []string{}
	for _, st := range notifiable {
		status = append(status, fmt.Sprintf("%s Notificação de início de %q", symbolStatus(n[st]), st))
	}
	return strings.Join(status, "\n")
}

func (n Notifications) enabledInt(st model.SessionType) int {
	if n[st] {
		return 1
	}
	return 0
}

func symbolStatus(enabled bool) string {
	if enabled {
		return "🔔"
	}
	return "🔕"
}

type Manager struct {
	db *sql.DB
	mu sync.Mutex
}

func NewManager(path string) (*Manager, error) {
	if path == "" {
		path = DbName
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		log.Printf("error opening database: %s\n", err)
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	for _, stmt := range []string{buildCreateEndpointTable(), buildCreateNotificationsTable()} {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("error init database: %s\n", err)
			db.Close()
			return nil, errors.Wrap(err, "initializing settings database")
		}
	}

	return &Manager{db: db}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.Close()
}

// SaveEndpoint stores cfg as the endpoint to bind on the next start.
func (m *Manager) SaveEndpoint(cfg model.ServerEndpointConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query, args := buildUpsertEndpointCommand(cfg)
	if _, err := m.db.Exec(query, args...); err != nil {
		log.Printf("error updating database: %s\n", err)
		return errors.Wrap(err, "saving endpoint config")
	}
	return nil
}

// LoadEndpoint returns the saved endpoint; ok is false when none was saved.
func (m *Manager) LoadEndpoint() (cfg model.ServerEndpointConfig, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query, read := buildSelectEndpointCommand()
	rows, err := m.db.Query(query)
	if err != nil {
		return cfg, false, errors.Wrap(err, "loading endpoint config")
	}
	return read(rows)
}

func (m *Manager) ToggleNotification(chatID, name string, st model.SessionType) (Notifications, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.listNotifications(chatID)
	if err != nil {
		return n, err
	}
	if _, ok := sessionColumns[st]; !ok {
		return n, errors.Errorf("no notifications for %q sessions", st)
	}
	n[st] = !n[st]
	return n, m.saveNotifications(chatID, name, n)
}

// SetNotifications replaces the notification flags of a chat.
func (m *Manager) SetNotifications(chatID, name string, n Notifications) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saveNotifications(chatID, name, n)
}

func (m *Manager) ListNotifications(chatID string) (Notifications, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.listNotifications(chatID)
}

func (m *Manager) ListChatsForSessionStarted(st model.SessionType) ([]TelegramChat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query, read, err := buildSelectSessionStartedCommand(st)
	if err != nil {
		return []TelegramChat{}, err
	}
	rows, err := m.db.Query(query)
	if err != nil {
		return []TelegramChat{}, errors.Wrap(err, "listing chats")
	}
	return read(rows)
}

func (m *Manager) saveNotifications(chatID, name string, n Notifications) error {
	query, args := buildUpsertNotificationsCommand(chatID, name, n)
	if _, err := m.db.Exec(query, args...); err != nil {
		log.Printf("error updating database: %s\n", err)
		return errors.Wrap(err, "saving notifications")
	}
	return nil
}

func (m *Manager) listNotifications(chatID string) (Notifications, error) {
	query, read := buildSelectNotificationsCommand()
	rows, err := m.db.Query(query, chatID)
	if err != nil {
		return AllDisabled(), errors.Wrap(err, "listing notifications")
	}
	return read(rows)
}
