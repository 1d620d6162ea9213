package racestate

import (
	"bsrlivetiming/pkg/model"
)

// Car is the mutable per-car record kept by the store. Everything a decoder
// knows about a car goes here; DriverEntry values are derived from it.
type Car struct {
	ID        int
	Number    string
	Name      string
	Team      string
	Model     string
	GUID      string
	Status    model.DriverStatus
	Laps      int
	Spline    float64
	BestLapMS int64
	LastLapMS int64
	// TotalMS is the sum of completed lap times.
	TotalMS   int64
	PitStops  int
	Tire      model.TireCompound
	Fuel      float64
	SpeedKph  float64
	RPM       int
	Steering  float64
	WorldX    float64
	WorldZ    float64
	hasWorld  bool
}

// SetWorldPosition records the car's world coordinates and grows the
// session's bounding box.
func (c *Car) SetWorldPosition(s *State, x, z float64) {
	c.WorldX, c.WorldZ, c.hasWorld = x, z, true
	s.bounds.extend(x, z)
}

// State is what a Patch mutates. It is only reachable from inside
// Store.Update, with the store's write lock held.
type State struct {
	session    model.RaceSession
	cars       map[int]*Car
	connection model.ConnectionStatus
	updatedAt  int64
	bounds     bounds
}

func newState() *State {
	return &State{
		session:    model.RaceSession{SessionType: model.SessionNone},
		cars:       make(map[int]*Car),
		connection: model.Disconnected,
	}
}

// Patch is one atomic change to the store.
type Patch func(s *State)

// SetSession replaces the current session wholesale. Cars survive: the same
// entry list carries from practice into qualifying on the simulator.
func (s *State) SetSession(rs model.RaceSession) {
	rs.Normalize()
	s.session = rs
	s.bounds = bounds{}
	for _, c := range s.cars {
		c.hasWorld = false
	}
}

// ResetTiming forgets laps and lap times of every car, used when a new session starts.
func (s *State) ResetTiming() {
	for _, c := range s.cars {
		c.Laps = 0
		c.Spline = 0
		c.BestLapMS = 0
		c.LastLapMS = 0
		c.TotalMS = 0
		c.PitStops = 0
	}
}

func (s *State) Session() *model.RaceSession {
	return &s.session
}

func (s *State) HasCar(id int) bool {
	_, ok := s.cars[id]
	return ok
}

// Car returns the record for id, creating it if needed.
func (s *State) Car(id int) *Car {
	c, ok := s.cars[id]
	if !ok {
		c = &Car{
			ID:     id,
			Status: model.StatusRunning,
			Tire:   model.TireUnknown,
		}
		s.cars[id] = c
	}
	return c
}

func (s *State) RemoveCar(id int) {
	delete(s.cars, id)
}

func (s *State) SetConnection(status model.ConnectionStatus) {
	s.connection = status
}

type bounds struct {
	set                    bool
	minX, maxX, minZ, maxZ float64
}

func (b *bounds) extend(x, z float64) {
	if !b.set {
		b.minX, b.maxX, b.minZ, b.maxZ, b.set = x, x, z, z, true
		return
	}
	b.minX = min(b.minX, x)
	b.maxX = max(b.maxX, x)
	b.minZ = min(b.minZ, z)
	b.maxZ = max(b.maxZ, z)
}

// normalize maps a world coordinate into [-1,1] over the observed range.
func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	n := 2*(v-lo)/(hi-lo) - 1
	return max(-1, min(1, n))
}
