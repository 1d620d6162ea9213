package acsp

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrShortPacket = errors.New("packet too short")
	ErrNonFinite   = errors.New("non-finite float")
)

// reader consumes a datagram front to back. The first failed read sticks in
// err and every later read returns zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = errors.Wrapf(ErrShortPacket, "need %d bytes at offset %d, have %d", n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bool() bool {
	return r.uint8() != 0
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) int32() int32 {
	return int32(r.uint32())
}

// float32 rejects NaN and infinities; they cannot be serialized downstream.
func (r *reader) float32() float32 {
	at := r.off
	v := math.Float32frombits(r.uint32())
	if r.err != nil {
		return 0
	}
	if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
		r.err = errors.Wrapf(ErrNonFinite, "at offset %d", at)
		return 0
	}
	return v
}

func (r *reader) vector3() Vector3 {
	return Vector3{X: r.float32(), Y: r.float32(), Z: r.float32()}
}

func (r *reader) string() string {
	n := int(r.uint8())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *reader) wideString() string {
	n := int(r.uint8())
	b := r.take(n * 4)
	if b == nil {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		cp := binary.LittleEndian.Uint32(b[i*4:])
		if cp > math.MaxInt32 {
			cp = 0xFFFD
		}
		sb.WriteRune(rune(cp))
	}
	return sb.String()
}

type writer struct {
	buf []byte
}

func newWriter(pt PacketType) *writer {
	return &writer{buf: []byte{byte(pt)}}
}

func (w *writer) uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) bool(v bool) {
	if v {
		w.uint8(1)
		return
	}
	w.uint8(0)
}

func (w *writer) uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) int16(v int16) {
	w.uint16(uint16(v))
}

func (w *writer) uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) int32(v int32) {
	w.uint32(uint32(v))
}

func (w *writer) float32(v float32) {
	w.uint32(math.Float32bits(v))
}

func (w *writer) vector3(v Vector3) {
	w.float32(v.X)
	w.float32(v.Y)
	w.float32(v.Z)
}

// string truncates to 255 bytes, the limit of the length prefix.
func (w *writer) string(s string) {
	if len(s) > math.MaxUint8 {
		s = s[:math.MaxUint8]
	}
	w.uint8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) wideString(s string) {
	runes := []rune(s)
	if len(runes) > math.MaxUint8 {
		runes = runes[:math.MaxUint8]
	}
	w.uint8(uint8(len(runes)))
	for _, r := range runes {
		w.uint32(uint32(r))
	}
}
