package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsrlivetiming/pkg/acsp"
	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/racestate"
)

func feed(t *testing.T, in *Ingestor, packets ...acsp.Packet) {
	t.Helper()
	for _, p := range packets {
		in.HandleDatagram(p.Marshal(), nil)
	}
}

func driver(t *testing.T, snap model.RaceStateSnapshot, carID int) model.DriverEntry {
	t.Helper()
	for _, d := range snap.Drivers {
		if d.CarID == carID {
			return d
		}
	}
	t.Fatalf("car %d not in snapshot", carID)
	return model.DriverEntry{}
}

func TestACSPSessionLifecycle(t *testing.T) {
	store := racestate.NewStore()
	in := NewIngestor(store, NewACSPDecoder(time.Second), Config{})

	feed(t, in,
		acsp.SessionInfo{New: true, Name: "Corrida", Track: "ks_interlagos", TrackConfig: "gp", Kind: acsp.KindRace, Laps: 15, AmbientTemp: 21, RoadTemp: 30, WeatherGraphics: "3_clear"},
		acsp.Connection{DriverName: "Ana", DriverGUID: "1", CarID: 0, CarModel: "bmw_m3"},
		acsp.Connection{DriverName: "Bia", DriverGUID: "2", CarID: 1, CarModel: "bmw_m3"},
	)

	snap := store.Snapshot()
	assert.Equal(t, "Race", snap.SessionStatus)
	assert.Equal(t, "ks_interlagos", snap.Session.TrackName)
	assert.Equal(t, 15, snap.SessionInfo.TotalLaps)
	assert.Equal(t, 30.0, snap.TrackConditions.TrackTemp)
	assert.Equal(t, 21.0, snap.TrackConditions.AirTemp)
	assert.Equal(t, model.StatusInGarage, driver(t, snap, 0).Status)

	feed(t, in,
		acsp.Loaded{CarID: 0},
		acsp.Loaded{CarID: 1},
		acsp.CarUpdate{CarID: 0, Velocity: acsp.Vector3{X: 10}, EngineRPM: 6500, NormalizedSplinePos: 0.2, Pos: acsp.Vector3{X: -50, Z: 10}},
		acsp.CarUpdate{CarID: 1, Velocity: acsp.Vector3{Z: 20}, NormalizedSplinePos: 0.6, Pos: acsp.Vector3{X: 50, Z: 90}},
	)
	snap = store.Snapshot()
	require.Len(t, snap.Drivers, 2)
	assert.Equal(t, "Bia", snap.Drivers[0].Name)
	assert.Equal(t, 36.0, driver(t, snap, 0).SpeedKph)
	assert.Equal(t, 72.0, driver(t, snap, 1).SpeedKph)
	assert.Equal(t, 6500, driver(t, snap, 0).RPM)
	assert.Equal(t, -1.0, driver(t, snap, 0).TrackPositionX)
	assert.Equal(t, 1.0, driver(t, snap, 1).TrackPositionY)
	assert.Equal(t, model.StatusRunning, driver(t, snap, 0).Status)
	assert.Equal(t, model.TireUnknown, driver(t, snap, 0).TireCompound)

	feed(t, in, acsp.Lap{
		CarID: 0, LapTime: 95_000,
		Leaderboard: []acsp.LeaderboardEntry{{CarID: 0, BestLap: 95_000, Laps: 1}, {CarID: 1, BestLap: noLapTime, Laps: 0}},
	})
	snap = store.Snapshot()
	assert.Equal(t, "Ana", snap.Drivers[0].Name)
	assert.Equal(t, "1:35.000", snap.Drivers[0].LastLapTime)
	assert.Equal(t, "1:35.000", snap.Drivers[0].BestLapTime)
	assert.Equal(t, 2, snap.Drivers[0].CurrentLap)
	assert.Equal(t, "-", snap.Drivers[1].BestLapTime)

	feed(t, in, acsp.Connection{Closed: true, DriverName: "Ana", CarID: 0})
	snap = store.Snapshot()
	assert.Equal(t, "Bia", snap.Drivers[0].Name)
	assert.Equal(t, model.StatusDisconnected, snap.Drivers[1].Status)
}

func TestACSPNewSessionResetsTiming(t *testing.T) {
	store := racestate.NewStore()
	in := NewIngestor(store, NewACSPDecoder(time.Second), Config{})
	feed(t, in,
		acsp.SessionInfo{New: true, Kind: acsp.KindQualify},
		acsp.CarInfo{CarID: 3, IsConnected: true, DriverName: "Caio"},
		acsp.Lap{CarID: 3, LapTime: 80_000},
		acsp.SessionInfo{New: true, Kind: acsp.KindRace, Laps: 5},
	)
	d := store.Snapshot().Drivers[0]
	assert.Equal(t, "Caio", d.Name)
	assert.Equal(t, "-", d.BestLapTime)
	assert.Equal(t, 1, d.CurrentLap)
}

func TestACSPCutLapIsNotBest(t *testing.T) {
	store := racestate.NewStore()
	in := NewIngestor(store, NewACSPDecoder(time.Second), Config{})
	feed(t, in,
		acsp.SessionInfo{Kind: acsp.KindPractice},
		acsp.Lap{CarID: 1, LapTime: 90_000},
		acsp.Lap{CarID: 1, LapTime: 85_000, Cuts: 2},
	)
	d := store.Snapshot().Drivers[0]
	assert.Equal(t, "1:30.000", d.BestLapTime)
	assert.Equal(t, "1:25.000", d.LastLapTime)
}

func TestACSPSessionClockAdvances(t *testing.T) {
	now := time.Unix(1000, 0)
	dec := NewACSPDecoder(time.Second)
	dec.now = func() time.Time { return now }
	store := racestate.NewStore()
	in := NewIngestor(store, dec, Config{})

	feed(t, in, acsp.SessionInfo{Kind: acsp.KindPractice, TimeMinutes: 10, ElapsedMS: 60_000})
	assert.Equal(t, "1:00", store.Snapshot().SessionTime)

	now = now.Add(30 * time.Second)
	feed(t, in, acsp.CarUpdate{CarID: 1})
	snap := store.Snapshot()
	assert.Equal(t, "1:30", snap.SessionTime)
	assert.Equal(t, "8:30", snap.SessionInfo.RemainingTime)
}

func TestACSPCarInfoRequestedOnce(t *testing.T) {
	now := time.Unix(1000, 0)
	dec := NewACSPDecoder(time.Second)
	dec.now = func() time.Time { return now }
	unknown := func(int) bool { return false }

	d, err := dec.Decode(acsp.CarUpdate{CarID: 9}.Marshal(), unknown)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{acsp.GetCarInfoRequest(9)}, d.Requests)

	d, err = dec.Decode(acsp.CarUpdate{CarID: 9}.Marshal(), unknown)
	require.NoError(t, err)
	assert.Empty(t, d.Requests)

	now = now.Add(carInfoRetry)
	d, err = dec.Decode(acsp.CarUpdate{CarID: 9}.Marshal(), unknown)
	require.NoError(t, err)
	assert.Len(t, d.Requests, 1)

	d, err = dec.Decode(acsp.CarUpdate{CarID: 9}.Marshal(), func(int) bool { return true })
	require.NoError(t, err)
	assert.Empty(t, d.Requests)
}

func TestACSPInformationalPacketsHaveNoPatch(t *testing.T) {
	dec := NewACSPDecoder(time.Second)
	for _, p := range []acsp.Packet{acsp.Version{Protocol: 4}, acsp.Chat{CarID: 1, Message: "oi"}, acsp.SessionEnded{ResultsFile: "x.json"}, acsp.ServerError{Message: "boom"}} {
		d, err := dec.Decode(p.Marshal(), nil)
		require.NoError(t, err)
		assert.Nil(t, d.Patch)
	}
}
