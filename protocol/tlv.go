// Record framing is based on ToyTLV (MIT licence) by Victor Grishchenko, 2024.
// Original project: https://github.com/learn-decentralized-systems/toytlv

/*
Package protocol frames mirror traffic as TLV (type-length-value) records.

A record header is one of:

  - tiny, 1 byte: '0'+len, for bodies of 0..9 bytes written with a lowercase type;
    the type is lost and reads back as '0';
  - short, 2 bytes: lowercase type, 1-byte length, bodies up to 255 bytes;
  - long, 5 bytes: uppercase type, 4-byte little-endian length.

Types are the letters A..Z. The encoder picks the smallest header that fits.
Nested records are plain concatenations inside a body:

	batch := Record('B', Record('R'), Record('E'))
	body, rest := Take('B', batch)
*/
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const CaseBit uint8 = 'a' - 'A'

const MaxRecordLen = 0x7fffffff

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadRecord  = errors.New("bad TLV record format")
)

// ProbeHeader reads a record header. lit is 'A'..'Z', '0' for tiny records,
// '-' for garbage and 0 when more bytes are needed.
func ProbeHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	b := data[0]
	switch {
	case b >= '0' && b <= '9':
		return '0', 1, int(b - '0')
	case b >= 'a' && b <= 'z':
		if len(data) < 2 {
			return 0, 0, 0
		}
		return b - CaseBit, 2, int(data[1])
	case b >= 'A' && b <= 'Z':
		if len(data) < 5 {
			return 0, 0, 0
		}
		l := binary.LittleEndian.Uint32(data[1:5])
		if l > MaxRecordLen {
			return '-', 0, 0
		}
		return b, 5, int(l)
	default:
		return '-', 0, 0
	}
}

// AppendHeader appends a header for a body of bodylen bytes. A lowercase
// lit allows the tiny form.
func AppendHeader(into []byte, lit byte, bodylen int) []byte {
	upper := lit &^ CaseBit
	if upper < 'A' || upper > 'Z' {
		panic("TLV record type is A..Z")
	}
	switch {
	case bodylen < 10 && lit&CaseBit != 0:
		return append(into, byte('0'+bodylen))
	case bodylen > 0xff:
		if bodylen > MaxRecordLen {
			panic("oversized TLV record")
		}
		into = append(into, upper)
		return binary.LittleEndian.AppendUint32(into, uint32(bodylen))
	default:
		return append(into, upper|CaseBit, byte(bodylen))
	}
}

// Append writes a complete record made of body parts into the buffer.
func Append(into []byte, lit byte, body ...[]byte) []byte {
	into = AppendHeader(into, lit, totalLen(body))
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

// Record builds a fresh record out of body parts.
func Record(lit byte, body ...[]byte) []byte {
	total := totalLen(body)
	return Append(make([]byte, 0, total+5), lit, body...)
}

// TinyRecord is Record with the tiny form allowed.
func TinyRecord(lit byte, body []byte) []byte {
	return Record((lit&^CaseBit)|CaseBit, body)
}

// Take cuts a record of the given type off the front of data.
// Incomplete input yields (nil, data); a type mismatch yields (nil, nil).
func Take(lit byte, data []byte) (body, rest []byte) {
	body, rest, _ = TakeWary(lit, data)
	return
}

// TakeWary is Take with explicit errors, for untrusted input.
func TakeWary(lit byte, data []byte) (body, rest []byte, err error) {
	flit, hlen, blen := ProbeHeader(data)
	if flit == 0 || hlen+blen > len(data) {
		return nil, data, ErrIncomplete
	}
	if flit == '-' || (flit != lit && flit != '0') {
		return nil, nil, ErrBadRecord
	}
	return data[hlen : hlen+blen], data[hlen+blen:], nil
}

// TakeAnyWary cuts whatever record comes first.
func TakeAnyWary(data []byte) (lit byte, body, rest []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil, ErrIncomplete
	}
	lit = Lit(data)
	if lit == '-' {
		return 0, nil, nil, ErrBadRecord
	}
	body, rest, err = TakeWary(lit, data)
	return
}

// Lit returns the canonical type of a record.
func Lit(rec []byte) byte {
	b := rec[0]
	switch {
	case b >= 'a' && b <= 'z':
		return b - CaseBit
	case b >= 'A' && b <= 'Z':
		return b
	case b >= '0' && b <= '9':
		return '0'
	}
	return '-'
}

// OpenHeader starts a long-form record whose length is not yet known.
// Pair it with CloseHeader once the body is appended.
func OpenHeader(buf []byte, lit byte) (bookmark int, res []byte) {
	lit &^= CaseBit
	if lit < 'A' || lit > 'Z' {
		panic("TLV record type is A..Z")
	}
	res = append(buf, lit, 0, 0, 0, 0)
	return len(res), res
}

func CloseHeader(buf []byte, bookmark int) {
	if bookmark < 5 || len(buf) < bookmark {
		panic("CloseHeader: bad bookmark")
	}
	binary.LittleEndian.PutUint32(buf[bookmark-4:bookmark], uint32(len(buf)-bookmark))
}

// Split cuts every complete record off the front of data and returns the
// unconsumed tail.
func Split(data []byte) (recs Records, rest []byte, err error) {
	rest = data
	for len(rest) > 0 {
		lit, hlen, blen := ProbeHeader(rest)
		if lit == '-' {
			return recs, rest, ErrBadRecord
		}
		if lit == 0 || hlen+blen > len(rest) {
			return recs, rest, nil
		}
		recs = append(recs, rest[:hlen+blen:hlen+blen])
		rest = rest[hlen+blen:]
	}
	return recs, rest, nil
}

// ReadRecord reads exactly one record from a stream. A header announcing
// more than maxLen bytes (header included) is rejected before the body is
// read; maxLen <= 0 means no limit.
func ReadRecord(r *bufio.Reader, maxLen int) ([]byte, error) {
	hdr, err := r.Peek(1)
	if err != nil {
		return nil, err
	}
	hlen := 5
	switch {
	case hdr[0] >= '0' && hdr[0] <= '9':
		hlen = 1
	case hdr[0] >= 'a' && hdr[0] <= 'z':
		hlen = 2
	case hdr[0] >= 'A' && hdr[0] <= 'Z':
	default:
		return nil, ErrBadRecord
	}
	if hdr, err = r.Peek(hlen); err != nil {
		return nil, err
	}
	lit, _, blen := ProbeHeader(hdr)
	if lit == '-' {
		return nil, ErrBadRecord
	}
	if maxLen > 0 && hlen+blen > maxLen {
		return nil, fmt.Errorf("%w: %c record of %d bytes, limit %d", ErrBadRecord, lit, hlen+blen, maxLen)
	}
	rec := make([]byte, hlen+blen)
	if _, err = io.ReadFull(r, rec); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return rec, nil
}

func totalLen(parts [][]byte) (sum int) {
	for _, p := range parts {
		sum += len(p)
	}
	return
}
