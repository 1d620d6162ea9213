package webserver

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"bsrlivetiming/pkg/hub"
)

const LivePath = "/live-timing-ws"

// ConnectionManager turns websocket upgrades on LivePath into hub
// subscribers. Anything else goes to next.
type ConnectionManager struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	next     http.Handler
}

func NewConnectionManager(h *hub.Hub, next http.Handler) *ConnectionManager {
	return &ConnectionManager{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// viewers are served from any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		next: next,
	}
}

func (cm *ConnectionManager) Claim(r *http.Request) bool {
	return r.URL.Path == LivePath && websocket.IsWebSocketUpgrade(r)
}

func (cm *ConnectionManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !cm.Claim(r) {
		if cm.next == nil {
			http.NotFound(w, r)
			return
		}
		cm.next.ServeHTTP(w, r)
		return
	}
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.Printf("Error upgrading live timing connection from %s: %s\n", r.RemoteAddr, err.Error())
		return
	}
	id := hub.Serve(cm.hub, conn)
	log.Printf("live timing subscriber %s connected from %s\n", id, r.RemoteAddr)
}
