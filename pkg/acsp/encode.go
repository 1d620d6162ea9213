package acsp

import "time"

// Requests sent to the server's plugin command address.

// RealtimePosIntervalRequest asks the server to send CarUpdate packets every interval.
func RealtimePosIntervalRequest(interval time.Duration) []byte {
	ms := interval.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms > 0xFFFF {
		ms = 0xFFFF
	}
	w := newWriter(RealtimePosInterval)
	w.uint16(uint16(ms))
	return w.buf
}

func GetCarInfoRequest(carID uint8) []byte {
	w := newWriter(GetCarInfo)
	w.uint8(carID)
	return w.buf
}

// GetSessionInfoRequest asks for a SessionInfo packet. Index -1 is the current session.
func GetSessionInfoRequest(index int16) []byte {
	w := newWriter(GetSessionInfo)
	w.int16(index)
	return w.buf
}

func SendChatRequest(carID uint8, msg string) []byte {
	w := newWriter(SendChat)
	w.uint8(carID)
	w.wideString(msg)
	return w.buf
}

func BroadcastChatRequest(msg string) []byte {
	w := newWriter(BroadcastChat)
	w.wideString(msg)
	return w.buf
}

// Marshal produces the datagram the server would send for each packet.
// Used by replay tooling and tests.

func (p SessionInfo) Marshal() []byte {
	w := newWriter(p.Type())
	w.uint8(p.Version)
	w.uint8(p.SessionIndex)
	w.uint8(p.CurrentSessionIndex)
	w.uint8(p.SessionCount)
	w.wideString(p.ServerName)
	w.string(p.Track)
	w.string(p.TrackConfig)
	w.string(p.Name)
	w.uint8(uint8(p.Kind))
	w.uint16(p.TimeMinutes)
	w.uint16(p.Laps)
	w.uint16(p.WaitTime)
	w.uint8(p.AmbientTemp)
	w.uint8(p.RoadTemp)
	w.string(p.WeatherGraphics)
	w.int32(p.ElapsedMS)
	return w.buf
}

func (p CarUpdate) Marshal() []byte {
	w := newWriter(p.Type())
	w.uint8(p.CarID)
	w.vector3(p.Pos)
	w.vector3(p.Velocity)
	w.uint8(p.Gear)
	w.uint16(p.EngineRPM)
	w.float32(p.NormalizedSplinePos)
	return w.buf
}

func (p CarInfo) Marshal() []byte {
	w := newWriter(p.Type())
	w.uint8(p.CarID)
	w.bool(p.IsConnected)
	w.wideString(p.Model)
	w.wideString(p.Skin)
	w.wideString(p.DriverName)
	w.wideString(p.DriverTeam)
	w.wideString(p.DriverGUID)
	return w.buf
}

func (p Connection) Marshal() []byte {
	w := newWriter(p.Type())
	w.wideString(p.DriverName)
	w.wideString(p.DriverGUID)
	w.uint8(p.CarID)
	w.string(p.CarModel)
	w.string(p.CarSkin)
	return w.buf
}

func (p Lap) Marshal() []byte {
	w := newWriter(p.Type())
	w.uint8(p.CarID)
	w.uint32(p.LapTime)
	w.uint8(p.Cuts)
	w.uint8(uint8(len(p.Leaderboard)))
	for _, e := range p.Leaderboard {
		w.uint8(e.CarID)
		w.uint32(e.BestLap)
		w.uint16(e.Laps)
		w.bool(e.Finished)
	}
	w.float32(p.GripLevel)
	return w.buf
}

func (p Loaded) Marshal() []byte {
	w := newWriter(p.Type())
	w.uint8(p.CarID)
	return w.buf
}

func (p Version) Marshal() []byte {
	w := newWriter(p.Type())
	w.uint8(p.Protocol)
	return w.buf
}

func (p SessionEnded) Marshal() []byte {
	w := newWriter(p.Type())
	w.wideString(p.ResultsFile)
	return w.buf
}

func (p Chat) Marshal() []byte {
	w := newWriter(p.Type())
	w.uint8(p.CarID)
	w.wideString(p.Message)
	return w.buf
}

func (p ServerError) Marshal() []byte {
	w := newWriter(p.Type())
	w.wideString(p.Message)
	return w.buf
}

func (p ClientEvent) Marshal() []byte {
	w := newWriter(p.Type())
	w.uint8(p.EventType)
	w.uint8(p.CarID)
	if p.EventType == CollisionWithCar {
		w.uint8(p.OtherCarID)
	}
	w.float32(p.ImpactSpeed)
	w.vector3(p.WorldPos)
	w.vector3(p.RelPos)
	return w.buf
}
