package model

import "fmt"

type SessionType string

const (
	SessionNone       SessionType = "None"
	SessionPractice   SessionType = "Practice"
	SessionQualifying SessionType = "Qualifying"
	SessionRace       SessionType = "Race"
)

type DriverStatus string

const (
	StatusRunning      DriverStatus = "Running"
	StatusInPit        DriverStatus = "InPit"
	StatusInGarage     DriverStatus = "InGarage"
	StatusDNF          DriverStatus = "DNF"
	StatusDisconnected DriverStatus = "Disconnected"
)

type TireCompound string

const (
	TireSoft    TireCompound = "Soft"
	TireMedium  TireCompound = "Medium"
	TireHard    TireCompound = "Hard"
	TireUnknown TireCompound = "Unknown"
)

type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

// SessionStatusDisconnected is reported as sessionStatus when no session is known.
const SessionStatusDisconnected = "Disconnected"

type RaceSession struct {
	SessionType            SessionType `json:"sessionType"`
	SessionName            string      `json:"sessionName"`
	TrackName              string      `json:"trackName"`
	TrackConfig            string      `json:"trackConfig"`
	TotalLaps              int         `json:"totalLaps"`
	CurrentLap             int         `json:"currentLap"`
	SessionDurationSeconds float64     `json:"sessionDurationSeconds"`
	ElapsedSeconds         float64     `json:"elapsedSeconds"`
	RemainingSeconds       float64     `json:"remainingSeconds"`
	AmbientTemperatureC    float64     `json:"ambientTemperatureC"`
	TrackTemperatureC      float64     `json:"trackTemperatureC"`
	WeatherType            string      `json:"weatherType"`
	WindSpeedKph           float64     `json:"windSpeedKph"`
	WindDirectionDegrees   float64     `json:"windDirectionDegrees"`
}

// Normalize enforces the remaining time and current lap invariants.
func (rs *RaceSession) Normalize() {
	rs.RemainingSeconds = rs.SessionDurationSeconds - rs.ElapsedSeconds
	if rs.RemainingSeconds < 0 {
		rs.RemainingSeconds = 0
	}
	if rs.CurrentLap < 0 {
		rs.CurrentLap = 0
	}
	if rs.TotalLaps > 0 && rs.CurrentLap > rs.TotalLaps {
		rs.CurrentLap = rs.TotalLaps
	}
}

func (rs RaceSession) IsZero() bool {
	return rs.SessionType == "" || rs.SessionType == SessionNone
}

type DriverEntry struct {
	Position         int          `json:"position"`
	CarID            int          `json:"carId"`
	CarNumber        string       `json:"carNumber"`
	Name             string       `json:"name"`
	Team             string       `json:"team"`
	Car              string       `json:"car"`
	CurrentLap       int          `json:"currentLap"`
	RaceTime         string       `json:"raceTime"`
	GapToLeader      string       `json:"gapToLeader"`
	BestLapTime      string       `json:"bestLapTime"`
	LastLapTime      string       `json:"lastLapTime"`
	Status           DriverStatus `json:"status"`
	PitStopCount     int          `json:"pitStopCount"`
	TireCompound     TireCompound `json:"tireCompound"`
	FuelLevelPercent float64      `json:"fuelLevelPercent"`
	SpeedKph         float64      `json:"speedKph"`
	RPM              int          `json:"rpm"`
	SteeringAngle    float64      `json:"steeringAngle"`
	TrackPositionX   float64      `json:"trackPositionX"`
	TrackPositionY   float64      `json:"trackPositionY"`
}

type SessionInfo struct {
	SessionType   SessionType `json:"sessionType"`
	RemainingTime string      `json:"remainingTime"`
	TotalLaps     int         `json:"totalLaps"`
	CurrentLap    int         `json:"currentLap"`
}

type TrackConditions struct {
	TrackTemp     float64 `json:"trackTemp"`
	AirTemp       float64 `json:"airTemp"`
	WeatherType   string  `json:"weatherType"`
	WindSpeed     float64 `json:"windSpeed"`
	WindDirection string  `json:"windDirection"`
}

// RaceStateSnapshot is the unit exchanged between the store, the hub and consumers.
// LastUpdated is unix milliseconds, 0 when nothing has been received.
type RaceStateSnapshot struct {
	SessionStatus    string           `json:"sessionStatus"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	SessionTime      string           `json:"sessionTime"`
	Session          RaceSession      `json:"session"`
	SessionInfo      SessionInfo      `json:"sessionInfo"`
	TrackConditions  TrackConditions  `json:"trackConditions"`
	Drivers          []DriverEntry    `json:"drivers"`
	LastUpdated      int64            `json:"lastUpdated"`
}

type ServerEndpointConfig struct {
	UDPPort          int    `json:"udpPort" yaml:"udp_port"`
	SimulatorIP      string `json:"serverIp" yaml:"simulator_ip"`
	SimulatorPort    int    `json:"serverPort" yaml:"simulator_port"`
	UDPListenAddress string `json:"udpListenAddress" yaml:"udp_listen_address"`
	UDPSendAddress   string `json:"udpSendAddress" yaml:"udp_send_address"`
}

type SessionStarted struct {
	SessionType SessionType `json:"sessionType"`
	SessionName string      `json:"sessionName"`
	TrackName   string      `json:"trackName"`
	TotalLaps   int         `json:"totalLaps"`
	Duration    float64     `json:"duration"`
}

func (ss SessionStarted) String() string {
	laps := "sem limite"
	if ss.TotalLaps > 0 {
		laps = fmt.Sprintf("%d", ss.TotalLaps)
	}
	return fmt.Sprintf("  ▸ Sessão: %s (%s)\n  ▸ Pista: %s\n  ▸ Voltas: %s", ss.SessionType, ss.SessionName, ss.TrackName, laps)
}
