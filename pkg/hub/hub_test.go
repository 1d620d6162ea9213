package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/racestate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.payloads...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestBroadcastSendsIdenticalBytes(t *testing.T) {
	store := racestate.NewStore()
	store.Update(func(st *racestate.State) {
		st.SetSession(model.RaceSession{SessionType: model.SessionRace, TrackName: "Spa"})
		st.Car(1).Name = "Ana"
	})
	h := NewHub(store, 0)
	a, b := &fakeConn{}, &fakeConn{}
	h.Register(a)
	h.Register(b)

	require.NoError(t, h.BroadcastTick(context.Background()))

	require.Len(t, a.received(), 1)
	require.Len(t, b.received(), 1)
	assert.Equal(t, a.received()[0], b.received()[0])

	var msg model.LiveUpdateMessage
	require.NoError(t, json.Unmarshal(a.received()[0], &msg))
	assert.Equal(t, model.MessageLiveUpdate, msg.MessageType)
	assert.Equal(t, "Spa", msg.Data.Session.TrackName)
	assert.Equal(t, "Ana", msg.Data.Drivers[0].Name)
}

func TestFailedSendDropsOnlyThatSubscriber(t *testing.T) {
	h := NewHub(racestate.NewStore(), 0)
	one, two, three := &fakeConn{}, &fakeConn{fail: true}, &fakeConn{}
	h.Register(one)
	twoID := h.Register(two)
	h.Register(three)

	require.NoError(t, h.BroadcastTick(context.Background()))

	assert.Len(t, one.received(), 1)
	assert.Len(t, three.received(), 1)
	assert.True(t, two.isClosed())
	assert.Equal(t, 2, h.Len())
	for _, s := range h.Subscribers() {
		assert.NotEqual(t, twoID, s.ID)
		assert.False(t, s.LastSent.IsZero())
	}

	require.NoError(t, h.BroadcastTick(context.Background()))
	assert.Len(t, one.received(), 2)
	assert.Empty(t, two.received())
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	h := NewHub(racestate.NewStore(), 0)
	assert.NoError(t, h.BroadcastTick(context.Background()))
	assert.Zero(t, h.Len())
}

func TestBroadcastWithoutDataSendsBaseline(t *testing.T) {
	h := NewHub(racestate.NewStore(), 0)
	c := &fakeConn{}
	h.Register(c)
	require.NoError(t, h.BroadcastTick(context.Background()))

	var msg model.LiveUpdateMessage
	require.NoError(t, json.Unmarshal(c.received()[0], &msg))
	assert.Equal(t, model.SessionStatusDisconnected, msg.Data.SessionStatus)
	assert.Empty(t, msg.Data.Drivers)
	assert.Equal(t, racestate.Baseline(), msg.Data)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := NewHub(racestate.NewStore(), 0)
	c := &fakeConn{}
	id := h.Register(c)
	h.Unregister(id)
	h.Unregister(id)
	h.Unregister("unknown")
	assert.True(t, c.isClosed())
	assert.Zero(t, h.Len())
}

func TestSubscribeIsRecordedButNotFiltered(t *testing.T) {
	h := NewHub(racestate.NewStore(), 0)
	a, b := &fakeConn{}, &fakeConn{}
	aID := h.Register(a)
	h.Register(b)
	h.Subscribe(aID, "42")

	require.NoError(t, h.BroadcastTick(context.Background()))
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)

	var race model.RaceID
	for _, s := range h.Subscribers() {
		if s.ID == aID {
			race = s.RaceID
		}
	}
	assert.Equal(t, model.RaceID("42"), race)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	h := NewHub(racestate.NewStore(), 5*time.Millisecond)
	c := &fakeConn{}
	h.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(c.received()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	h.Close()
	assert.True(t, c.isClosed())
}

func TestWebsocketSubscribers(t *testing.T) {
	h := NewHub(racestate.NewStore(), 0)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		Serve(h, conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		return conn
	}
	a, b := dial(), dial()
	require.Eventually(t, func() bool { return h.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.WriteJSON(model.SubscribeMessage{MessageType: model.MessageSubscribe, RaceID: "7"}))
	require.Eventually(t, func() bool {
		for _, s := range h.Subscribers() {
			if s.RaceID == "7" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.BroadcastTick(context.Background()))
	read := func(c *websocket.Conn) []byte {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		return data
	}
	pa, pb := read(a), read(b)
	assert.Equal(t, pa, pb)
	assert.Contains(t, string(pa), `"type":"LIVE_UPDATE"`)

	a.Close()
	require.Eventually(t, func() bool { return h.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.Close()
	_, _, err := b.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	b.Close()
}

func TestRedisFanout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := racestate.NewStore()
	store.Update(func(st *racestate.State) { st.Car(3).Name = "Caio" })

	ingesting := NewHub(store, 0)
	ingesting.SetPublisher(NewRedisPublisher(client, ""))
	edge := NewHub(store, 0)
	viewer := &fakeConn{}
	edge.Register(viewer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	fanout := NewFanout(client, "", edge)
	assert.Equal(t, racestate.Baseline(), fanout.Snapshot())
	go func() { done <- fanout.Run(ctx) }()
	select {
	case <-fanout.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("fanout never subscribed")
	}

	require.NoError(t, ingesting.BroadcastTick(ctx))
	require.Eventually(t, func() bool { return len(viewer.received()) == 1 }, 2*time.Second, 5*time.Millisecond)

	want, err := ingesting.Payload()
	require.NoError(t, err)
	var got, exp model.LiveUpdateMessage
	require.NoError(t, json.Unmarshal(viewer.received()[0], &got))
	require.NoError(t, json.Unmarshal(want, &exp))
	assert.Equal(t, exp.Data.Drivers, got.Data.Drivers)
	assert.Equal(t, "Caio", fanout.Snapshot().Drivers[0].Name)

	cancel()
	assert.NoError(t, <-done)
}
