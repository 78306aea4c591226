// Package payload implements the sequential byte streams that carry
// container and element values inside Create and Update commands.
//
// Values carry no framing of their own: a reader must know what it expects
// next, exactly like the writer that produced the stream. Integers are fixed
// width little-endian or zig-zag varints; strings and blobs are length
// prefixed.
package payload

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrShortRead = errors.New("payload: short read")
	ErrOverflow  = errors.New("payload: varint overflow")
	ErrTooLong   = errors.New("payload: length prefix exceeds stream")
)

// Reader consumes a payload front to back. It never copies the input.
type Reader struct {
	buf []byte
	off int
}

func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Remaining is the count of unread bytes; a fully consumed stream has none.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) Consumed() int {
	return r.off
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortRead
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUint8()
	return b != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	u, err := r.ReadUint64()
	return math.Float64frombits(u), err
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	switch {
	case n == 0:
		return 0, ErrShortRead
	case n < 0:
		return 0, ErrOverflow
	}
	r.off += n
	return v, nil
}

// ReadVarint reads a zig-zag encoded signed integer.
func (r *Reader) ReadVarint() (int64, error) {
	u, err := r.ReadUvarint()
	return ZagZig(u), err
}

func (r *Reader) ReadBytes() ([]byte, error) {
	l, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if l > uint64(r.Remaining()) {
		return nil, ErrTooLong
	}
	return r.next(int(l))
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	return string(b), err
}

// Writer accumulates a payload; the zero value is ready to use.
type Writer struct {
	buf []byte
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

func (w *Writer) WriteUvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *Writer) WriteVarint(v int64) {
	w.WriteUvarint(ZigZag(v))
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteString(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func ZigZag(i int64) uint64 {
	return uint64(i<<1) ^ uint64(i>>63)
}

func ZagZig(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
