package telemetry

import (
	"log"
	"math"
	"sync"
	"time"

	"bsrlivetiming/pkg/acsp"
	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/racestate"
)

const (
	// noLapTime is what the server sends as best lap before a valid lap.
	noLapTime = 999999999

	carInfoRetry = 5 * time.Second
)

// ACSPDecoder decodes the Assetto Corsa server plugin protocol.
type ACSPDecoder struct {
	posInterval time.Duration
	now         func() time.Time

	mu sync.Mutex
	// session clock: elapsed reported by the last SessionInfo and when it arrived
	elapsedMS int64
	elapsedAt time.Time
	requested map[uint8]time.Time
}

func NewACSPDecoder(posInterval time.Duration) *ACSPDecoder {
	return &ACSPDecoder{
		posInterval: posInterval,
		now:         time.Now,
		requested:   make(map[uint8]time.Time),
	}
}

func (d *ACSPDecoder) Handshake() [][]byte {
	return [][]byte{
		acsp.RealtimePosIntervalRequest(d.posInterval),
		acsp.GetSessionInfoRequest(-1),
	}
}

func (d *ACSPDecoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elapsedMS = 0
	d.elapsedAt = time.Time{}
	d.requested = make(map[uint8]time.Time)
}

func (d *ACSPDecoder) Decode(datagram []byte, known KnownDriver) (Decoded, error) {
	p, err := acsp.Decode(datagram)
	if err != nil {
		return Decoded{}, err
	}

	switch p := p.(type) {
	case acsp.SessionInfo:
		return d.session(p), nil
	case acsp.CarUpdate:
		return d.carUpdate(p, known), nil
	case acsp.CarInfo:
		return Decoded{Patch: func(st *racestate.State) {
			c := st.Car(int(p.CarID))
			c.Name, c.Team, c.Model, c.GUID = p.DriverName, p.DriverTeam, p.Model, p.DriverGUID
			switch {
			case !p.IsConnected:
				c.Status = model.StatusDisconnected
			case c.Status == model.StatusDisconnected:
				c.Status = model.StatusRunning
			}
		}}, nil
	case acsp.Connection:
		return d.connection(p), nil
	case acsp.Loaded:
		return Decoded{Patch: func(st *racestate.State) {
			st.Car(int(p.CarID)).Status = model.StatusRunning
		}}, nil
	case acsp.Lap:
		return Decoded{Patch: func(st *racestate.State) { applyLap(st, p) }}, nil
	case acsp.SessionEnded:
		log.Printf("session ended, results at %s\n", p.ResultsFile)
	case acsp.Version:
		log.Printf("simulator plugin protocol version %d\n", p.Protocol)
	case acsp.ServerError:
		log.Printf("simulator reported error: %s\n", p.Message)
	case acsp.Chat, acsp.ClientEvent:
	}
	return Decoded{}, nil
}

func (d *ACSPDecoder) session(p acsp.SessionInfo) Decoded {
	now := d.now()
	d.mu.Lock()
	d.elapsedMS = max(0, int64(p.ElapsedMS))
	d.elapsedAt = now
	d.mu.Unlock()

	rs := model.RaceSession{
		SessionType:            sessionType(p.Kind),
		SessionName:            p.Name,
		TrackName:              p.Track,
		TrackConfig:            p.TrackConfig,
		TotalLaps:              int(p.Laps),
		SessionDurationSeconds: float64(p.TimeMinutes) * 60,
		ElapsedSeconds:         float64(max(0, p.ElapsedMS)) / 1000,
		AmbientTemperatureC:    float64(p.AmbientTemp),
		TrackTemperatureC:      float64(p.RoadTemp),
		WeatherType:            p.WeatherGraphics,
	}

	out := Decoded{Patch: func(st *racestate.State) {
		if p.New {
			st.ResetTiming()
		}
		st.SetSession(rs)
	}}
	if p.New {
		out.Session = &model.SessionStarted{
			SessionType: rs.SessionType,
			SessionName: rs.SessionName,
			TrackName:   rs.TrackName,
			TotalLaps:   rs.TotalLaps,
			Duration:    rs.SessionDurationSeconds,
		}
	}
	return out
}

func (d *ACSPDecoder) carUpdate(p acsp.CarUpdate, known KnownDriver) Decoded {
	id := int(p.CarID)
	now := d.now()

	var out Decoded
	d.mu.Lock()
	elapsed := float64(-1)
	if !d.elapsedAt.IsZero() {
		elapsed = float64(d.elapsedMS+now.Sub(d.elapsedAt).Milliseconds()) / 1000
	}
	if known != nil && !known(id) {
		if at, ok := d.requested[p.CarID]; !ok || now.Sub(at) >= carInfoRetry {
			d.requested[p.CarID] = now
			out.Requests = append(out.Requests, acsp.GetCarInfoRequest(p.CarID))
		}
	}
	d.mu.Unlock()

	speed := math.Sqrt(float64(p.Velocity.X*p.Velocity.X+p.Velocity.Y*p.Velocity.Y+p.Velocity.Z*p.Velocity.Z)) * 3.6
	out.Patch = func(st *racestate.State) {
		c := st.Car(id)
		c.Spline = float64(p.NormalizedSplinePos)
		c.SpeedKph = math.Round(speed*10) / 10
		c.RPM = int(p.EngineRPM)
		c.SetWorldPosition(st, float64(p.Pos.X), float64(p.Pos.Z))
		if c.Status == model.StatusInGarage && c.SpeedKph > 1 {
			c.Status = model.StatusRunning
		}
		if elapsed >= 0 && !st.Session().IsZero() {
			st.Session().ElapsedSeconds = elapsed
			st.Session().Normalize()
		}
	}
	return out
}

func (d *ACSPDecoder) connection(p acsp.Connection) Decoded {
	id := int(p.CarID)
	if p.Closed {
		d.mu.Lock()
		delete(d.requested, p.CarID)
		d.mu.Unlock()
		return Decoded{Patch: func(st *racestate.State) {
			st.Car(id).Status = model.StatusDisconnected
		}}
	}
	return Decoded{Patch: func(st *racestate.State) {
		// a new driver in a car slot starts from a clean record
		st.RemoveCar(id)
		c := st.Car(id)
		c.Name, c.GUID, c.Model = p.DriverName, p.DriverGUID, p.CarModel
		c.Status = model.StatusInGarage
	}}
}

func applyLap(st *racestate.State, p acsp.Lap) {
	c := st.Car(int(p.CarID))
	c.LastLapMS = int64(p.LapTime)
	c.TotalMS += int64(p.LapTime)
	c.Spline = 0
	if p.Cuts == 0 && (c.BestLapMS == 0 || c.LastLapMS < c.BestLapMS) {
		c.BestLapMS = c.LastLapMS
	}
	c.Laps++

	for _, e := range p.Leaderboard {
		lc := st.Car(int(e.CarID))
		if e.BestLap > 0 && e.BestLap != noLapTime {
			lc.BestLapMS = int64(e.BestLap)
		}
		lc.Laps = int(e.Laps)
	}
}

func sessionType(k acsp.SessionKind) model.SessionType {
	switch k {
	case acsp.KindPractice:
		return model.SessionPractice
	case acsp.KindQualify:
		return model.SessionQualifying
	case acsp.KindRace:
		return model.SessionRace
	default:
		return model.SessionNone
	}
}
