package pubsub

import (
	"sync"
)

const (
	TopicSessionStarted   = "session-started"
	TopicConnectionStatus = "connection-status"

	subscriptionBuffer = 16
)

// PubSub delivers values per topic. Publish never blocks: a subscriber that
// is not keeping up loses the value.
type PubSub[T any] struct {
	mu     sync.Mutex
	subs   map[string][]chan T
	closed bool
}

func NewPubSub[T any]() *PubSub[T] {
	return &PubSub[T]{
		subs: make(map[string][]chan T),
	}
}

func (ps *PubSub[T]) Subscribe(topic string) <-chan T {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ch := make(chan T, subscriptionBuffer)
	if ps.closed {
		close(ch)
		return ch
	}
	ps.subs[topic] = append(ps.subs[topic], ch)
	return ch
}

func (ps *PubSub[T]) Unsubscribe(topic string, sub <-chan T) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	chans := ps.subs[topic]
	for i, ch := range chans {
		if ch == sub {
			close(ch)
			ps.subs[topic] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (ps *PubSub[T]) Publish(topic string, data T) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return
	}
	for _, ch := range ps.subs[topic] {
		select {
		case ch <- data:
		default:
		}
	}
}

func (ps *PubSub[T]) Close() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return
	}
	ps.closed = true
	for topic, chans := range ps.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(ps.subs, topic)
	}
}
