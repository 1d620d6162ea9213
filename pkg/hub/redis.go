package hub

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"bsrlivetiming/pkg/caster"
	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/racestate"
)

const DefaultChannel = "bsr:live-timing"

// RedisPublisher sends ticks through a Redis channel so every process
// running a Fanout delivers them to its own subscribers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, payload []byte) error {
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "publishing live update to %s", p.channel)
	}
	return nil
}

type Fanout struct {
	client  *redis.Client
	channel string
	hub     *Hub
	ready   chan struct{}
	cast    caster.ChannelCaster[model.LiveUpdateMessage]

	mu   sync.RWMutex
	last *model.RaceStateSnapshot
}

func NewFanout(client *redis.Client, channel string, hub *Hub) *Fanout {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Fanout{
		client:  client,
		channel: channel,
		hub:     hub,
		ready:   make(chan struct{}),
		cast:    caster.JSONChannelCaster[model.LiveUpdateMessage]{},
	}
}

// Ready is closed once the subscription is confirmed by the server.
func (f *Fanout) Ready() <-chan struct{} {
	return f.ready
}

// Snapshot is the last relayed state, so a process that does not ingest can
// still answer polls. It is the baseline until the first message.
func (f *Fanout) Snapshot() model.RaceStateSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.last == nil {
		return racestate.Baseline()
	}
	return *f.last
}

func (f *Fanout) remember(payload string) {
	msg, err := f.cast.From(payload)
	if err != nil {
		log.Printf("Error parsing relayed live update: %s\n", err.Error())
		return
	}
	f.mu.Lock()
	f.last = &msg.Data
	f.mu.Unlock()
}

// Run delivers every message of the channel to the local hub until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "subscribing to %s", f.channel)
	}
	close(f.ready)
	log.Printf("live updates fan out from redis channel %s\n", f.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.remember(msg.Payload)
			f.hub.Deliver([]byte(msg.Payload))
		}
	}
}
