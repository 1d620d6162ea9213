// Package hub fans the current race state out to every live subscriber.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
)

const DefaultInterval = time.Second

// Conn is a subscriber's transport. Send must not block.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

type SnapshotSource interface {
	Snapshot() model.RaceStateSnapshot
}

// Publisher distributes one serialized tick. The in-process default hands
// it straight to Deliver.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

type subscriber struct {
	conn     Conn
	raceID   model.RaceID
	lastSent time.Time
}

type SubscriberInfo struct {
	ID       string
	RaceID   model.RaceID
	LastSent time.Time
}

type Hub struct {
	source    SnapshotSource
	publisher Publisher
	interval  time.Duration

	mu   sync.Mutex
	subs map[string]*subscriber
}

func NewHub(source SnapshotSource, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Hub{
		source:   source,
		interval: interval,
		subs:     make(map[string]*subscriber),
	}
}

// SetPublisher replaces the in-process delivery. Call before Run.
func (h *Hub) SetPublisher(p Publisher) {
	h.publisher = p
}

func (h *Hub) Register(conn Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.subs[id] = &subscriber{conn: conn}
	n := len(h.subs)
	h.mu.Unlock()
	log.Printf("live subscriber %s registered (%d connected)\n", id, n)
	return id
}

// Unregister removes and closes the subscriber. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := sub.conn.Close(); err != nil {
		log.Printf("Error closing subscriber %s: %s\n", id, err.Error())
	}
	log.Printf("live subscriber %s unregistered (%d connected)\n", id, n)
}

// Subscribe records the race a subscriber asked for. Broadcast stays global:
// every subscriber receives the same payload whatever it asked for.
func (h *Hub) Subscribe(id string, raceID model.RaceID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		sub.raceID = raceID
	}
	h.mu.Unlock()
	if ok {
		log.Printf("live subscriber %s subscribed to race %q\n", id, raceID)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Subscribers() []SubscriberInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SubscriberInfo, 0, len(h.subs))
	for id, sub := range h.subs {
		out = append(out, SubscriberInfo{ID: id, RaceID: sub.raceID, LastSent: sub.lastSent})
	}
	return out
}

// Payload serializes the current snapshot as a LIVE_UPDATE message.
func (h *Hub) Payload() ([]byte, error) {
	msg := model.LiveUpdateMessage{
		MessageType: model.MessageLiveUpdate,
		Data:        h.source.Snapshot(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "serializing live update")
	}
	return b, nil
}

// BroadcastTick takes one snapshot, serializes it once and publishes it.
func (h *Hub) BroadcastTick(ctx context.Context) error {
	payload, err := h.Payload()
	if err != nil {
		return err
	}
	if h.publisher == nil {
		h.Deliver(payload)
		return nil
	}
	return h.publisher.Publish(ctx, payload)
}

// Deliver sends payload to every local subscriber. A failed send drops
// that subscriber and nobody else.
func (h *Hub) Deliver(payload []byte) {
	h.mu.Lock()
	if len(h.subs) == 0 {
		h.mu.Unlock()
		return
	}
	targets := make(map[string]Conn, len(h.subs))
	for id, sub := range h.subs {
		targets[id] = sub.conn
	}
	h.mu.Unlock()

	var failed []string
	sent := make([]string, 0, len(targets))
	for id, conn := range targets {
		if err := conn.Send(payload); err != nil {
			log.Printf("Error sending to subscriber %s: %s\n", id, err.Error())
			failed = append(failed, id)
			continue
		}
		sent = append(sent, id)
	}

	now := time.Now()
	h.mu.Lock()
	for _, id := range sent {
		if sub, ok := h.subs[id]; ok {
			sub.lastSent = now
		}
	}
	h.mu.Unlock()

	for _, id := range failed {
		h.Unregister(id)
	}
}

// Run ticks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.BroadcastTick(ctx); err != nil {
				log.Printf("Error broadcasting live update: %s\n", err.Error())
			}
		}
	}
}

// Close unregisters every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Unregister(id)
	}
}
