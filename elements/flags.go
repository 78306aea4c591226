package elements

import (
	"errors"

	"github.com/drpcorg/mirror/payload"
)

var ErrTooManyBits = errors.New("elements: flags wider than 32 bits")

// Flags is a bit set sent in the narrowest integer that fits its width:
// one, two or four bytes.
type Flags struct {
	bits  uint8
	value uint32
}

func NewFlags(bitCount int) (*Flags, error) {
	if bitCount <= 0 || bitCount > 32 {
		return nil, ErrTooManyBits
	}
	return &Flags{bits: uint8(bitCount)}, nil
}

func (f *Flags) width() int {
	switch {
	case f.bits <= 8:
		return 1
	case f.bits <= 16:
		return 2
	}
	return 4
}

func (f *Flags) Get(slot int) bool {
	return f.value&(1<<slot) != 0
}

func (f *Flags) Set(slot int, on bool) {
	if on {
		f.value |= 1 << slot
	} else {
		f.value &^= 1 << slot
	}
}

func (f *Flags) Value() uint32 {
	return f.value
}

func (f *Flags) ReadFrom(r *payload.Reader) (err error) {
	var v uint32
	switch f.width() {
	case 1:
		var b uint8
		b, err = r.ReadUint8()
		v = uint32(b)
	case 2:
		var s uint16
		s, err = r.ReadUint16()
		v = uint32(s)
	default:
		v, err = r.ReadUint32()
	}
	if err == nil {
		f.value = v
	}
	return
}

func (f *Flags) WriteTo(w *payload.Writer) {
	switch f.width() {
	case 1:
		w.WriteUint8(uint8(f.value))
	case 2:
		w.WriteUint16(uint16(f.value))
	default:
		w.WriteUint32(f.value)
	}
}
