package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"bsrlivetiming/pkg/endpoint"
	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/settings"
)

const (
	PollPath       = "/live-timing"
	statusPath     = "/api/assetto-corsa/status"
	configPath     = "/api/assetto-corsa/config"
	configurePath  = "/api/assetto-corsa/configure"
	racePath       = "/api/assetto-corsa/configure-for-race"
	clearPath      = "/api/assetto-corsa/clear"
	notifyPath     = "/api/notifications/{chatId}"
	notifyToggle   = "/api/notifications/{chatId}/toggle"
	missingMessage = "Missing required parameters"
)

type SnapshotSource interface {
	Snapshot() model.RaceStateSnapshot
}

type StatusSource interface {
	Status() model.ConnectionStatus
}

type Configurator interface {
	Configure(ctx context.Context, cfg model.ServerEndpointConfig) (model.ServerEndpointConfig, error)
	Reconfigure(ctx context.Context, cfg model.ServerEndpointConfig) (model.ServerEndpointConfig, error)
	Current() model.ServerEndpointConfig
}

type Clearer interface {
	Clear()
}

type NotificationStore interface {
	ListNotifications(chatID string) (settings.Notifications, error)
	ToggleNotification(chatID, name string, st model.SessionType) (settings.Notifications, error)
}

// API holds the HTTP collaborators. Nil Switch, Clearer or Notifications
// leave their routes unregistered.
type API struct {
	Snapshots     SnapshotSource
	Status        StatusSource
	Switch        Configurator
	Clearer       Clearer
	Notifications NotificationStore
	Auth          Authorizer
}

type reply struct {
	OK      bool                        `json:"ok"`
	Message string                      `json:"message,omitempty"`
	Config  *model.ServerEndpointConfig `json:"config,omitempty"`
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc(PollPath, a.liveTiming).Methods(http.MethodGet)
	r.HandleFunc(statusPath, a.status).Methods(http.MethodGet)
	if a.Switch != nil {
		r.HandleFunc(configPath, a.config).Methods(http.MethodGet)
		r.Handle(configurePath, a.admin(a.configure)).Methods(http.MethodPost)
		r.Handle(racePath, a.admin(a.configureForRace)).Methods(http.MethodPost)
	}
	if a.Clearer != nil {
		r.Handle(clearPath, a.admin(a.clear)).Methods(http.MethodPost)
	}
	if a.Notifications != nil {
		r.HandleFunc(notifyPath, a.listNotifications).Methods(http.MethodGet)
		r.Handle(notifyToggle, a.admin(a.toggleNotification)).Methods(http.MethodPost)
	}
}

func (a *API) connectionStatus() model.ConnectionStatus {
	if a.Status == nil {
		return a.Snapshots.Snapshot().ConnectionStatus
	}
	return a.Status.Status()
}

func (a *API) liveTiming(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Snapshots.Snapshot())
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status    model.ConnectionStatus  `json:"status"`
		RaceState model.RaceStateSnapshot `json:"raceState"`
	}{a.connectionStatus(), a.Snapshots.Snapshot()})
}

func (a *API) config(w http.ResponseWriter, r *http.Request) {
	cfg := a.Switch.Current()
	writeJSON(w, http.StatusOK, struct {
		OK     bool                       `json:"ok"`
		Config model.ServerEndpointConfig `json:"config"`
		Status model.ConnectionStatus     `json:"status"`
	}{true, cfg, a.connectionStatus()})
}

type configureRequest struct {
	ServerIP   string  `json:"serverIp"`
	ServerPort flexInt `json:"serverPort"`
	UDPPort    flexInt `json:"udpPort"`
}

func (a *API) configure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServerIP == "" || req.ServerPort == 0 || req.UDPPort == 0 {
		writeJSON(w, http.StatusBadRequest, reply{Message: missingMessage})
		return
	}
	cfg := a.Switch.Current()
	cfg.SimulatorIP = req.ServerIP
	cfg.SimulatorPort = int(req.ServerPort)
	cfg.UDPPort = int(req.UDPPort)
	cfg.UDPListenAddress = net.JoinHostPort(req.ServerIP, strconv.Itoa(int(req.ServerPort)))
	cfg.UDPSendAddress = net.JoinHostPort(sendHost(cfg.UDPSendAddress), strconv.Itoa(int(req.UDPPort)))

	applied, err := a.Switch.Configure(r.Context(), cfg)
	a.writeApplied(w, applied, err, "Assetto Corsa UDP service configured successfully")
}

type raceRequest struct {
	ServerIP         string  `json:"serverIp"`
	ServerPort       flexInt `json:"serverPort"`
	UDPListenAddress string  `json:"udpListenAddress"`
	UDPSendAddress   string  `json:"udpSendAddress"`
}

func (a *API) configureForRace(w http.ResponseWriter, r *http.Request) {
	var req raceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServerIP == "" {
		writeJSON(w, http.StatusBadRequest, reply{Message: missingMessage})
		return
	}
	cfg := model.ServerEndpointConfig{
		SimulatorIP:      req.ServerIP,
		SimulatorPort:    int(req.ServerPort),
		UDPListenAddress: req.UDPListenAddress,
		UDPSendAddress:   req.UDPSendAddress,
	}
	def := endpoint.DefaultConfig()
	if cfg.SimulatorPort == 0 {
		cfg.SimulatorPort = def.SimulatorPort
	}
	if cfg.UDPListenAddress == "" {
		cfg.UDPListenAddress = def.UDPListenAddress
	}
	if cfg.UDPSendAddress == "" {
		cfg.UDPSendAddress = def.UDPSendAddress
	}
	applied, err := a.Switch.Reconfigure(r.Context(), cfg)
	a.writeApplied(w, applied, err, "Assetto Corsa UDP service configured for race")
}

func (a *API) writeApplied(w http.ResponseWriter, cfg model.ServerEndpointConfig, err error, message string) {
	switch {
	case errors.Is(err, endpoint.ErrBusy):
		writeJSON(w, http.StatusConflict, reply{Message: err.Error(), Config: &cfg})
	case err != nil:
		log.Printf("Error configuring Assetto Corsa service: %s\n", err.Error())
		writeJSON(w, http.StatusInternalServerError, reply{Message: "Failed to configure Assetto Corsa service: " + err.Error(), Config: &cfg})
	default:
		writeJSON(w, http.StatusOK, reply{OK: true, Message: message, Config: &cfg})
	}
}

func (a *API) clear(w http.ResponseWriter, r *http.Request) {
	a.Clearer.Clear()
	writeJSON(w, http.StatusOK, reply{OK: true, Message: "Race data cleared"})
}

type notificationsReply struct {
	OK            bool                       `json:"ok"`
	ChatID        string                     `json:"chatId"`
	Notifications map[model.SessionType]bool `json:"notifications"`
	Summary       string                     `json:"summary"`
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	n, err := a.Notifications.ListNotifications(chatID)
	if err != nil {
		log.Printf("Error listing notifications for %s: %s\n", chatID, err.Error())
		writeJSON(w, http.StatusInternalServerError, reply{Message: "Failed to list notifications"})
		return
	}
	writeJSON(w, http.StatusOK, notificationsReply{OK: true, ChatID: chatID, Notifications: n, Summary: n.String()})
}

func (a *API) toggleNotification(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	var req struct {
		Name        string            `json:"name"`
		SessionType model.SessionType `json:"sessionType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionType == "" {
		writeJSON(w, http.StatusBadRequest, reply{Message: missingMessage})
		return
	}
	n, err := a.Notifications.ToggleNotification(chatID, req.Name, req.SessionType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reply{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, notificationsReply{OK: true, ChatID: chatID, Notifications: n, Summary: n.String()})
}

func (a *API) admin(next http.HandlerFunc) http.Handler {
	return RequireAdmin(a.Auth, next)
}

// sendHost keeps the host of the current send address.
func sendHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "0.0.0.0"
	}
	return host
}

// flexInt accepts 9600 as well as "9600".
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return errors.Wrapf(err, "parsing port %q", data)
	}
	*n = flexInt(v)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %s\n", err.Error())
	}
}
