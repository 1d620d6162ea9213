package settings

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
)

var sessionColumns = map[model.SessionType]string{
	model.SessionPractice:   "practice",
	model.SessionQualifying: "qualifying",
	model.SessionRace:       "race",
}

func buildCreateEndpointTable() string {
	return `CREATE TABLE IF NOT EXISTS endpoint (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		udp_port INTEGER NOT NULL,
		simulator_ip TEXT NOT NULL,
		simulator_port INTEGER NOT NULL,
		udp_listen_address TEXT NOT NULL,
		udp_send_address TEXT NOT NULL);`
}

func buildCreateNotificationsTable() string {
	return `CREATE TABLE IF NOT EXISTS notifications (
		chatid TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		practice INTEGER,
		qualifying INTEGER,
		race INTEGER);`
}

func buildUpsertEndpointCommand(cfg model.ServerEndpointConfig) (string, []any) {
	fields := "id, udp_port, simulator_ip, simulator_port, udp_listen_address, udp_send_address"
	return fmt.Sprintf(`INSERT OR REPLACE INTO endpoint (%s) VALUES (1, ?, ?, ?, ?, ?)`, fields),
		[]any{cfg.UDPPort, cfg.SimulatorIP, cfg.SimulatorPort, cfg.UDPListenAddress, cfg.UDPSendAddress}
}

func buildSelectEndpointCommand() (string, func(*sql.Rows) (model.ServerEndpointConfig, bool, error)) {
	fields := "udp_port, simulator_ip, simulator_port, udp_listen_address, udp_send_address"
	return fmt.Sprintf(`SELECT %s FROM endpoint WHERE id = 1`, fields), processSelectEndpointRows
}

func processSelectEndpointRows(rows *sql.Rows) (model.ServerEndpointConfig, bool, error) {
	defer rows.Close()

	var cfg model.ServerEndpointConfig
	// only can be one row
	if rows.Next() {
		err := rows.Scan(&cfg.UDPPort, &cfg.SimulatorIP, &cfg.SimulatorPort, &cfg.UDPListenAddress, &cfg.UDPSendAddress)
		if err != nil {
			return cfg, false, err
		}
		return cfg, true, nil
	}
	return cfg, false, rows.Err()
}

func buildSelectNotificationsCommand() (string, func(*sql.Rows) (Notifications, error)) {
	return `SELECT practice, qualifying, race FROM notifications WHERE chatid = ?`, processSelectNotificationsRows
}

func processSelectNotificationsRows(rows *sql.Rows) (Notifications, error) {
	defer rows.Close()

	n := AllDisabled()
	if rows.Next() {
		var practice, qualifying, race int
		if err := rows.Scan(&practice, &qualifying, &race); err != nil {
			return n, err
		}
		n[model.SessionPractice] = practice == 1
		n[model.SessionQualifying] = qualifying == 1
		n[model.SessionRace] = race == 1
		return n, nil
	}
	return n, rows.Err()
}

func buildSelectSessionStartedCommand(st model.SessionType) (string, func(*sql.Rows) ([]TelegramChat, error), error) {
	column, ok := sessionColumns[st]
	if !ok {
		return "", nil, errors.Errorf("session type %q has no notifications", st)
	}
	return fmt.Sprintf(`SELECT chatid, name FROM notifications WHERE %s = 1`, column), processSelectSessionStartedRows, nil
}

func processSelectSessionStartedRows(rows *sql.Rows) ([]TelegramChat, error) {
	defer rows.Close()

	chats := make([]TelegramChat, 0)
	for rows.Next() {
		var chat TelegramChat
		if err := rows.Scan(&chat.ChatID, &chat.Name); err != nil {
			return chats, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func buildUpsertNotificationsCommand(chatID, name string, n Notifications) (string, []any) {
	fields := "chatid, name, practice, qualifying, race"
	return fmt.Sprintf(`INSERT OR REPLACE INTO notifications (%s) VALUES (?, ?, ?, ?, ?)`, fields),
		[]any{chatID, name, n.enabledInt(model.SessionPractice), n.enabledInt(model.SessionQualifying), n.enabledInt(model.SessionRace)}
}
