package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToTopicSubscribers(t *testing.T) {
	ps := NewPubSub[string]()
	a := ps.Subscribe("a")
	b := ps.Subscribe("b")

	ps.Publish("a", "hello")

	require.Len(t, a, 1)
	assert.Equal(t, "hello", <-a)
	assert.Len(t, b, 0)
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	ps := NewPubSub[int]()
	sub := ps.Subscribe("t")
	for i := 0; i < subscriptionBuffer*2; i++ {
		ps.Publish("t", i)
	}
	assert.Len(t, sub, subscriptionBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	ps := NewPubSub[int]()
	sub := ps.Subscribe("t")
	ps.Unsubscribe("t", sub)

	_, ok := <-sub
	assert.False(t, ok)
	ps.Publish("t", 1)
}

func TestCloseClosesEverything(t *testing.T) {
	ps := NewPubSub[int]()
	sub := ps.Subscribe("t")
	ps.Close()
	ps.Close()

	_, ok := <-sub
	assert.False(t, ok)

	late := ps.Subscribe("t")
	_, ok = <-late
	assert.False(t, ok)
}
