package telemetry

import (
	"encoding/json"
	"math"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bsrlivetiming/pkg/acsp"
	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/pubsub"
	"bsrlivetiming/pkg/racestate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// nameDecoder is a synthetic protocol: byte 0 is the car id, the rest is the driver name.
type nameDecoder struct{}

func (nameDecoder) Decode(b []byte, _ KnownDriver) (Decoded, error) {
	if len(b) < 2 {
		return Decoded{}, errors.New("short datagram")
	}
	id, name := int(b[0]), string(b[1:])
	return Decoded{Patch: func(st *racestate.State) {
		st.Car(id).Name = name
	}}, nil
}

func TestHandleDatagramAppliesPatch(t *testing.T) {
	store := racestate.NewStore()
	in := NewIngestor(store, nameDecoder{}, Config{})

	in.HandleDatagram([]byte("\x07Ana"), nil)

	snap := store.Snapshot()
	require.Len(t, snap.Drivers, 1)
	assert.Equal(t, "Ana", snap.Drivers[0].Name)
	assert.Equal(t, 7, snap.Drivers[0].CarID)
	assert.Equal(t, model.Connected, snap.ConnectionStatus)
	assert.Equal(t, model.Connected, in.Status())
}

func TestShortDatagramLeavesSnapshotUnchanged(t *testing.T) {
	store := racestate.NewStore()
	in := NewIngestor(store, NewACSPDecoder(time.Second), Config{})
	before := store.Snapshot()

	for _, b := range [][]byte{nil, {}, {byte(acsp.CarUpdatePacket)}, {byte(acsp.CarInfoPacket), 1, 1, 9}} {
		assert.NotPanics(t, func() { in.HandleDatagram(b, nil) })
	}
	assert.Equal(t, before, store.Snapshot())
	assert.Equal(t, model.Disconnected, in.Status())

	in.HandleDatagram(acsp.CarInfo{CarID: 2, IsConnected: true, DriverName: "Bia"}.Marshal(), nil)
	after := store.Snapshot()
	in.HandleDatagram([]byte{byte(acsp.LapCompleted)}, nil)
	assert.Equal(t, after, store.Snapshot())
}

func TestNonFiniteCarUpdateIsDropped(t *testing.T) {
	store := racestate.NewStore()
	in := NewIngestor(store, NewACSPDecoder(time.Second), Config{})
	in.HandleDatagram(acsp.CarInfo{CarID: 2, IsConnected: true, DriverName: "Bia"}.Marshal(), nil)
	before := store.Snapshot()

	in.HandleDatagram(acsp.CarUpdate{CarID: 2, Pos: acsp.Vector3{X: float32(math.NaN())}}.Marshal(), nil)
	in.HandleDatagram(acsp.CarUpdate{CarID: 2, NormalizedSplinePos: float32(math.Inf(-1))}.Marshal(), nil)
	assert.Equal(t, before, store.Snapshot())

	in.HandleDatagram(acsp.CarUpdate{CarID: 2, Pos: acsp.Vector3{X: 10, Z: 20}, NormalizedSplinePos: 0.5}.Marshal(), nil)
	_, err := json.Marshal(store.Snapshot())
	require.NoError(t, err)
}

func TestBindRejectsSecondBinding(t *testing.T) {
	in := NewIngestor(racestate.NewStore(), nameDecoder{}, Config{ListenHost: "127.0.0.1"})
	require.NoError(t, in.Bind(0))
	defer in.Unbind()

	err := in.Bind(0)
	var be *BindError
	require.True(t, errors.As(err, &be))
	assert.True(t, errors.Is(err, ErrAddressInUse))
}

func TestBindPortTaken(t *testing.T) {
	taken, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer taken.Close()
	port := taken.LocalAddr().(*net.UDPAddr).Port

	in := NewIngestor(racestate.NewStore(), nameDecoder{}, Config{ListenHost: "127.0.0.1"})
	err = in.Bind(port)
	assert.True(t, errors.Is(err, ErrAddressInUse))
	assert.Zero(t, in.Port())
}

func TestUnbindIsIdempotent(t *testing.T) {
	in := NewIngestor(racestate.NewStore(), nameDecoder{}, Config{ListenHost: "127.0.0.1"})
	assert.NoError(t, in.Unbind())
	require.NoError(t, in.Bind(0))
	assert.NotZero(t, in.Port())
	assert.NoError(t, in.Unbind())
	assert.NoError(t, in.Unbind())
	assert.Zero(t, in.Port())

	require.NoError(t, in.Bind(0))
	assert.NoError(t, in.Unbind())
}

func TestReceivesOverUDP(t *testing.T) {
	store := racestate.NewStore()
	in := NewIngestor(store, nameDecoder{}, Config{ListenHost: "127.0.0.1"})
	require.NoError(t, in.Bind(0))
	defer in.Unbind()

	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: in.Port()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("\x01Caio"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.HasDriver(1) }, 2*time.Second, 10*time.Millisecond)
}

func TestConnectionTimeout(t *testing.T) {
	statuses := pubsub.NewPubSub[model.ConnectionStatus]()
	defer statuses.Close()
	changes := statuses.Subscribe(pubsub.TopicConnectionStatus)

	store := racestate.NewStore()
	in := NewIngestor(store, nameDecoder{}, Config{
		ListenHost:        "127.0.0.1",
		ConnectionTimeout: 40 * time.Millisecond,
		Statuses:          statuses,
	})
	require.NoError(t, in.Bind(0))
	defer in.Unbind()

	in.HandleDatagram([]byte("\x01Ana"), nil)
	assert.Equal(t, model.Connected, <-changes)

	select {
	case status := <-changes:
		assert.Equal(t, model.Disconnected, status)
	case <-time.After(2 * time.Second):
		t.Fatal("connection never timed out")
	}
	assert.Equal(t, model.Disconnected, in.Status())
	assert.Equal(t, model.Disconnected, store.Snapshot().ConnectionStatus)

	in.HandleDatagram([]byte("\x01Ana"), nil)
	assert.Equal(t, model.Connected, <-changes)
}

func TestClearResetsConnection(t *testing.T) {
	statuses := pubsub.NewPubSub[model.ConnectionStatus]()
	defer statuses.Close()
	changes := statuses.Subscribe(pubsub.TopicConnectionStatus)

	store := racestate.NewStore()
	in := NewIngestor(store, nameDecoder{}, Config{Statuses: statuses})
	in.HandleDatagram([]byte("\x01Ana"), nil)
	assert.Equal(t, model.Connected, <-changes)

	in.Clear()
	assert.Equal(t, model.Disconnected, in.Status())
	assert.Equal(t, racestate.Baseline(), store.Snapshot())
	assert.Equal(t, model.Disconnected, <-changes)

	in.HandleDatagram([]byte("\x02Bia"), nil)
	assert.Equal(t, model.Connected, <-changes)
	assert.Equal(t, model.Connected, in.Status())
}

func TestNewSessionIsPublished(t *testing.T) {
	sessions := pubsub.NewPubSub[model.SessionStarted]()
	defer sessions.Close()
	started := sessions.Subscribe(pubsub.TopicSessionStarted)

	in := NewIngestor(racestate.NewStore(), NewACSPDecoder(time.Second), Config{Sessions: sessions})
	in.HandleDatagram(acsp.SessionInfo{Name: "Treino"}.Marshal(), nil)
	assert.Len(t, started, 0)

	in.HandleDatagram(acsp.SessionInfo{New: true, Name: "Corrida", Track: "spa", Kind: acsp.KindRace, Laps: 12}.Marshal(), nil)
	require.Len(t, started, 1)
	ev := <-started
	assert.Equal(t, model.SessionRace, ev.SessionType)
	assert.Equal(t, "spa", ev.TrackName)
	assert.Equal(t, 12, ev.TotalLaps)
}

func TestRequestsReachSimulator(t *testing.T) {
	sim, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sim.Close()

	in := NewIngestor(racestate.NewStore(), NewACSPDecoder(250*time.Millisecond), Config{ListenHost: "127.0.0.1"})
	require.NoError(t, in.SetCommandAddress(sim.LocalAddr().String()))
	require.NoError(t, in.Bind(0))
	defer in.Unbind()

	read := func() []byte {
		buf := make([]byte, 64)
		require.NoError(t, sim.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := sim.ReadFromUDP(buf)
		require.NoError(t, err)
		return buf[:n]
	}
	assert.Equal(t, acsp.RealtimePosIntervalRequest(250*time.Millisecond), read())
	assert.Equal(t, acsp.GetSessionInfoRequest(-1), read())

	_, err = sim.WriteToUDP(acsp.CarUpdate{CarID: 4}.Marshal(), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: in.Port()})
	require.NoError(t, err)
	assert.Equal(t, acsp.GetCarInfoRequest(4), read())
}

func TestSetCommandAddressRejectsGarbage(t *testing.T) {
	in := NewIngestor(racestate.NewStore(), nameDecoder{}, Config{})
	assert.Error(t, in.SetCommandAddress("not an address"))
	assert.NoError(t, in.SetCommandAddress(""))
}
