// Package racestate holds the single authoritative in-memory race state.
package racestate

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"bsrlivetiming/pkg/helper"
	"bsrlivetiming/pkg/model"
)

type Store struct {
	mu    sync.RWMutex
	state *State
	now   func() time.Time
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		state: newState(),
		now:   now,
	}
}

// Update applies patch atomically and stamps the state with the current time.
func (s *Store) Update(patch Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patch(s.state)
	s.state.updatedAt = s.now().UnixMilli()
}

// Clear resets the store to the disconnected baseline.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState()
}

func (s *Store) ConnectionStatus() model.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.connection
}

// HasDriver reports whether car id is known with a driver name.
func (s *Store) HasDriver(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.cars[id]
	return ok && c.Name != ""
}

// Snapshot builds a value that shares no memory with the store.
func (s *Store) Snapshot() model.RaceStateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return build(s.state)
}

// Baseline is the snapshot reported before any data is received.
func Baseline() model.RaceStateSnapshot {
	return build(newState())
}

func build(st *State) model.RaceStateSnapshot {
	session := st.session
	cars := ranked(st.cars, session.SessionType)
	drivers := make([]model.DriverEntry, 0, len(cars))
	for i, c := range cars {
		drivers = append(drivers, entry(i+1, c, cars[0], st, session))
	}
	if len(drivers) > 0 && session.SessionType == model.SessionRace {
		session.CurrentLap = max(session.CurrentLap, drivers[0].CurrentLap)
	}
	session.Normalize()

	status := model.SessionStatusDisconnected
	if !session.IsZero() {
		status = string(session.SessionType)
	}

	return model.RaceStateSnapshot{
		SessionStatus:    status,
		ConnectionStatus: st.connection,
		SessionTime:      helper.SecondsToSessionTime(session.ElapsedSeconds),
		Session:          session,
		SessionInfo: model.SessionInfo{
			SessionType:   session.SessionType,
			RemainingTime: helper.SecondsToSessionTime(session.RemainingSeconds),
			TotalLaps:     session.TotalLaps,
			CurrentLap:    session.CurrentLap,
		},
		TrackConditions: model.TrackConditions{
			TrackTemp:     session.TrackTemperatureC,
			AirTemp:       session.AmbientTemperatureC,
			WeatherType:   session.WeatherType,
			WindSpeed:     session.WindSpeedKph,
			WindDirection: helper.WindDirection(session.WindDirectionDegrees),
		},
		Drivers:     drivers,
		LastUpdated: st.updatedAt,
	}
}

// ranked orders cars by running order. Races rank on distance covered,
// other sessions on best lap with timeless cars last. Disconnected cars
// always go to the back.
func ranked(cars map[int]*Car, st model.SessionType) []*Car {
	out := make([]*Car, 0, len(cars))
	for _, c := range cars {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOut, bOut := a.Status == model.StatusDisconnected, b.Status == model.StatusDisconnected
		if aOut != bOut {
			return bOut
		}
		if st == model.SessionRace {
			if a.Laps != b.Laps {
				return a.Laps > b.Laps
			}
			if a.Spline != b.Spline {
				return a.Spline > b.Spline
			}
			if a.TotalMS != b.TotalMS {
				return a.TotalMS < b.TotalMS
			}
			return a.ID < b.ID
		}
		if (a.BestLapMS > 0) != (b.BestLapMS > 0) {
			return a.BestLapMS > 0
		}
		if a.BestLapMS != b.BestLapMS {
			return a.BestLapMS < b.BestLapMS
		}
		return a.ID < b.ID
	})
	return out
}

func entry(pos int, c, leader *Car, st *State, session model.RaceSession) model.DriverEntry {
	number := c.Number
	if number == "" {
		number = strconv.Itoa(c.ID)
	}
	currentLap := c.Laps + 1
	if session.TotalLaps > 0 && currentLap > session.TotalLaps {
		currentLap = session.TotalLaps
	}

	gap := gapToLeader(c, leader, session.SessionType)
	raceTime := gap
	if pos == 1 {
		raceTime = helper.MillisToLapTime(c.TotalMS)
		if session.SessionType != model.SessionRace {
			raceTime = helper.MillisToLapTime(c.BestLapMS)
		}
	}

	var x, y float64
	if c.hasWorld {
		x = normalize(c.WorldX, st.bounds.minX, st.bounds.maxX)
		y = normalize(c.WorldZ, st.bounds.minZ, st.bounds.maxZ)
	}

	return model.DriverEntry{
		Position:         pos,
		CarID:            c.ID,
		CarNumber:        number,
		Name:             c.Name,
		Team:             c.Team,
		Car:              c.Model,
		CurrentLap:       currentLap,
		RaceTime:         raceTime,
		GapToLeader:      gap,
		BestLapTime:      helper.MillisToLapTime(c.BestLapMS),
		LastLapTime:      helper.MillisToLapTime(c.LastLapMS),
		Status:           c.Status,
		PitStopCount:     c.PitStops,
		TireCompound:     c.Tire,
		FuelLevelPercent: max(0, min(100, c.Fuel)),
		SpeedKph:         c.SpeedKph,
		RPM:              c.RPM,
		SteeringAngle:    c.Steering,
		TrackPositionX:   x,
		TrackPositionY:   y,
	}
}

func gapToLeader(c, leader *Car, st model.SessionType) string {
	if c == leader {
		return "-"
	}
	if st != model.SessionRace {
		if c.BestLapMS <= 0 || leader.BestLapMS <= 0 {
			return "-"
		}
		return helper.SecondsToDiff(float64(c.BestLapMS-leader.BestLapMS) / 1000)
	}

	behind := (float64(leader.Laps) + leader.Spline) - (float64(c.Laps) + c.Spline)
	if behind >= 1 {
		return helper.LapsToDiff(int(behind))
	}
	ref := referenceLapMS(leader)
	if ref <= 0 {
		ref = referenceLapMS(c)
	}
	if ref <= 0 || behind <= 0 {
		return "-"
	}
	return helper.SecondsToDiff(behind * float64(ref) / 1000)
}

// referenceLapMS is the lap time used to turn a distance gap into seconds.
func referenceLapMS(c *Car) int64 {
	if c.Laps > 0 && c.TotalMS > 0 {
		return c.TotalMS / int64(c.Laps)
	}
	return c.BestLapMS
}
