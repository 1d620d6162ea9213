package acsp

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrUnknownPacket = errors.New("unknown packet type")

// DecodeError reports a datagram that could not be decoded. Nothing is
// returned alongside it, so callers never see a partially decoded packet.
type DecodeError struct {
	Type PacketType
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s datagram (%d bytes): %s", e.Type, e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses one datagram sent by the server plugin interface.
func Decode(b []byte) (Packet, error) {
	if len(b) < MinDatagramSize {
		pt := PacketType(0)
		if len(b) > 0 {
			pt = PacketType(b[0])
		}
		return nil, &DecodeError{Type: pt, Size: len(b), Err: ErrShortPacket}
	}

	pt := PacketType(b[0])
	r := &reader{buf: b, off: 1}
	var p Packet
	switch pt {
	case NewSession, SessionInfoPacket:
		p = readSessionInfo(r, pt == NewSession)
	case CarUpdatePacket:
		p = CarUpdate{
			CarID:               r.uint8(),
			Pos:                 r.vector3(),
			Velocity:            r.vector3(),
			Gear:                r.uint8(),
			EngineRPM:           r.uint16(),
			NormalizedSplinePos: r.float32(),
		}
	case CarInfoPacket:
		p = CarInfo{
			CarID:       r.uint8(),
			IsConnected: r.bool(),
			Model:       r.wideString(),
			Skin:        r.wideString(),
			DriverName:  r.wideString(),
			DriverTeam:  r.wideString(),
			DriverGUID:  r.wideString(),
		}
	case NewConnection, ConnectionClosed:
		p = Connection{
			Closed:     pt == ConnectionClosed,
			DriverName: r.wideString(),
			DriverGUID: r.wideString(),
			CarID:      r.uint8(),
			CarModel:   r.string(),
			CarSkin:    r.string(),
		}
	case LapCompleted:
		p = readLap(r)
	case ClientLoaded:
		p = Loaded{CarID: r.uint8()}
	case VersionPacket:
		p = Version{Protocol: r.uint8()}
	case EndSession:
		p = SessionEnded{ResultsFile: r.wideString()}
	case ChatPacket:
		p = Chat{CarID: r.uint8(), Message: r.wideString()}
	case ErrorPacket:
		p = ServerError{Message: r.wideString()}
	case ClientEventPacket:
		p = readClientEvent(r)
	default:
		return nil, &DecodeError{Type: pt, Size: len(b), Err: ErrUnknownPacket}
	}

	if r.err != nil {
		return nil, &DecodeError{Type: pt, Size: len(b), Err: r.err}
	}
	return p, nil
}

func readSessionInfo(r *reader, isNew bool) SessionInfo {
	return SessionInfo{
		New:                 isNew,
		Version:             r.uint8(),
		SessionIndex:        r.uint8(),
		CurrentSessionIndex: r.uint8(),
		SessionCount:        r.uint8(),
		ServerName:          r.wideString(),
		Track:               r.string(),
		TrackConfig:         r.string(),
		Name:                r.string(),
		Kind:                SessionKind(r.uint8()),
		TimeMinutes:         r.uint16(),
		Laps:                r.uint16(),
		WaitTime:            r.uint16(),
		AmbientTemp:         r.uint8(),
		RoadTemp:            r.uint8(),
		WeatherGraphics:     r.string(),
		ElapsedMS:           r.int32(),
	}
}

func readLap(r *reader) Lap {
	lap := Lap{
		CarID:   r.uint8(),
		LapTime: r.uint32(),
		Cuts:    r.uint8(),
	}
	count := int(r.uint8())
	if r.err == nil && count > 0 {
		lap.Leaderboard = make([]LeaderboardEntry, 0, count)
	}
	for i := 0; i < count && r.err == nil; i++ {
		lap.Leaderboard = append(lap.Leaderboard, LeaderboardEntry{
			CarID:    r.uint8(),
			BestLap:  r.uint32(),
			Laps:     r.uint16(),
			Finished: r.bool(),
		})
	}
	lap.GripLevel = r.float32()
	return lap
}

func readClientEvent(r *reader) ClientEvent {
	ev := ClientEvent{
		EventType: r.uint8(),
		CarID:     r.uint8(),
	}
	if ev.EventType == CollisionWithCar {
		ev.OtherCarID = r.uint8()
	}
	ev.ImpactSpeed = r.float32()
	ev.WorldPos = r.vector3()
	ev.RelPos = r.vector3()
	return ev
}
