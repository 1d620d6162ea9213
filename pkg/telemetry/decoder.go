package telemetry

import (
	"bsrlivetiming/pkg/model"
	"bsrlivetiming/pkg/racestate"
)

// Decoded is the outcome of one datagram. Patch may be nil for packets that
// carry nothing for the store.
type Decoded struct {
	Patch racestate.Patch
	// Session is set when the datagram announces a new session.
	Session *model.SessionStarted
	// Requests are sent back to the simulator's command address.
	Requests [][]byte
}

// KnownDriver reports whether the store already has the driver of a car.
type KnownDriver func(carID int) bool

// Decoder turns simulator datagrams into store patches. Decode must not
// return a patch together with an error.
type Decoder interface {
	Decode(datagram []byte, known KnownDriver) (Decoded, error)
}

// Handshaker is implemented by decoders that need requests sent to the
// simulator right after a bind.
type Handshaker interface {
	Handshake() [][]byte
}

// Resetter is implemented by decoders that keep state across datagrams.
type Resetter interface {
	Reset()
}
