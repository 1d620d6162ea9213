package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 4
)

var (
	ErrClientClosed = errors.New("subscriber connection closed")
	ErrClientSlow   = errors.New("subscriber send buffer full")
)

// Client adapts a websocket connection to Conn. Writes happen on its own
// pump so Send only enqueues.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Serve registers conn in the hub and runs its pumps until the peer goes away.
func Serve(h *Hub, conn *websocket.Conn) string {
	c := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	id := h.Register(c)
	go c.writePump(h, id)
	go c.readPump(h, id)
	return id
}

func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrClientSlow
	}
}

func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Client) readPump(h *Hub, id string) {
	defer h.Unregister(id)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Error reading from subscriber %s: %s\n", id, err.Error())
			}
			return
		}

		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error decoding message from subscriber %s: %s\n", id, err.Error())
			continue
		}
		switch msg.MessageType {
		case model.MessageSubscribe:
			h.Subscribe(id, msg.RaceID)
		default:
			log.Printf("ignoring %q message from subscriber %s\n", msg.MessageType, id)
		}
	}
}

func (c *Client) writePump(h *Hub, id string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("Error writing to subscriber %s: %s\n", id, err.Error())
				h.Unregister(id)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(id)
				return
			}
		}
	}
}
