// Package acsp implements the Assetto Corsa dedicated server UDP plugin
// protocol. All integers are little-endian; strings are prefixed with a
// uint8 length and are either single byte ASCII or UTF-32LE ("wide").
package acsp

import "fmt"

type PacketType uint8

const (
	NewSession        PacketType = 50
	NewConnection     PacketType = 51
	ConnectionClosed  PacketType = 52
	CarUpdatePacket   PacketType = 53
	CarInfoPacket     PacketType = 54
	EndSession        PacketType = 55
	VersionPacket     PacketType = 56
	ChatPacket        PacketType = 57
	ClientLoaded      PacketType = 58
	SessionInfoPacket PacketType = 59
	ErrorPacket       PacketType = 60
	LapCompleted      PacketType = 73
	ClientEventPacket PacketType = 130

	RealtimePosInterval PacketType = 200
	GetCarInfo          PacketType = 201
	SendChat            PacketType = 202
	BroadcastChat       PacketType = 203
	GetSessionInfo      PacketType = 204
)

const (
	CollisionWithCar uint8 = 10
	CollisionWithEnv uint8 = 11
)

// MinDatagramSize is the smallest valid datagram: a type byte plus one field byte.
const MinDatagramSize = 2

func (pt PacketType) String() string {
	switch pt {
	case NewSession:
		return "NewSession"
	case NewConnection:
		return "NewConnection"
	case ConnectionClosed:
		return "ConnectionClosed"
	case CarUpdatePacket:
		return "CarUpdate"
	case CarInfoPacket:
		return "CarInfo"
	case EndSession:
		return "EndSession"
	case VersionPacket:
		return "Version"
	case ChatPacket:
		return "Chat"
	case ClientLoaded:
		return "ClientLoaded"
	case SessionInfoPacket:
		return "SessionInfo"
	case ErrorPacket:
		return "Error"
	case LapCompleted:
		return "LapCompleted"
	case ClientEventPacket:
		return "ClientEvent"
	case RealtimePosInterval:
		return "RealtimePosInterval"
	case GetCarInfo:
		return "GetCarInfo"
	case SendChat:
		return "SendChat"
	case BroadcastChat:
		return "BroadcastChat"
	case GetSessionInfo:
		return "GetSessionInfo"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(pt))
	}
}

// SessionKind is the session type byte sent by the server.
type SessionKind uint8

const (
	KindBooking  SessionKind = 0
	KindPractice SessionKind = 1
	KindQualify  SessionKind = 2
	KindRace     SessionKind = 3
)

type Packet interface {
	Type() PacketType
	Marshal() []byte
}

type Vector3 struct {
	X float32
	Y float32
	Z float32
}

type SessionInfo struct {
	// New is true for NewSession, false for a SessionInfo reply.
	New                 bool
	Version             uint8
	SessionIndex        uint8
	CurrentSessionIndex uint8
	SessionCount        uint8
	ServerName          string
	Track               string
	TrackConfig         string
	Name                string
	Kind                SessionKind
	TimeMinutes         uint16
	Laps                uint16
	WaitTime            uint16
	AmbientTemp         uint8
	RoadTemp            uint8
	WeatherGraphics     string
	ElapsedMS           int32
}

func (p SessionInfo) Type() PacketType {
	if p.New {
		return NewSession
	}
	return SessionInfoPacket
}

type CarUpdate struct {
	CarID               uint8
	Pos                 Vector3
	Velocity            Vector3
	Gear                uint8
	EngineRPM           uint16
	NormalizedSplinePos float32
}

func (p CarUpdate) Type() PacketType { return CarUpdatePacket }

type CarInfo struct {
	CarID       uint8
	IsConnected bool
	Model       string
	Skin        string
	DriverName  string
	DriverTeam  string
	DriverGUID  string
}

func (p CarInfo) Type() PacketType { return CarInfoPacket }

type Connection struct {
	// Closed is true for ConnectionClosed, false for NewConnection.
	Closed     bool
	DriverName string
	DriverGUID string
	CarID      uint8
	CarModel   string
	CarSkin    string
}

func (p Connection) Type() PacketType {
	if p.Closed {
		return ConnectionClosed
	}
	return NewConnection
}

type LeaderboardEntry struct {
	CarID    uint8
	BestLap  uint32
	Laps     uint16
	Finished bool
}

type Lap struct {
	CarID       uint8
	LapTime     uint32
	Cuts        uint8
	Leaderboard []LeaderboardEntry
	GripLevel   float32
}

func (p Lap) Type() PacketType { return LapCompleted }

type Loaded struct {
	CarID uint8
}

func (p Loaded) Type() PacketType { return ClientLoaded }

type Version struct {
	Protocol uint8
}

func (p Version) Type() PacketType { return VersionPacket }

type SessionEnded struct {
	ResultsFile string
}

func (p SessionEnded) Type() PacketType { return EndSession }

type Chat struct {
	CarID   uint8
	Message string
}

func (p Chat) Type() PacketType { return ChatPacket }

type ServerError struct {
	Message string
}

func (p ServerError) Type() PacketType { return ErrorPacket }

type ClientEvent struct {
	EventType   uint8
	CarID       uint8
	OtherCarID  uint8
	ImpactSpeed float32
	WorldPos    Vector3
	RelPos      Vector3
}

func (p ClientEvent) Type() PacketType { return ClientEventPacket }
