/*
Package protocol holds the wire vocabulary shared by clients, the relay and
the archive: the one-byte opcode messages exchanged over websockets and the
TLV records used for serialized moments and roster entries.

# TLV records

A record is a letter type, a length and a body. Three header forms exist:

 1. tiny, 1 byte: '0'+len, for bodies under 10 bytes written with a
    lowercase type; the type is not kept and reads back as '0'
 2. short, 2 bytes: lowercase type, 1-byte length
 3. long, 5 bytes: uppercase type, 4-byte little-endian length

Streamed records are written with OpenHeader/CloseHeader:

	bm, buf := OpenHeader(buf, 'M')
	buf = Append(buf, 'I', id)
	CloseHeader(buf, bm)
*/
package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/drpcorg/mural/mural_errors"
)

const CaseBit uint8 = 'a' - 'A'

var ErrBadRecord = errors.New("mural: bad TLV record")

// ProbeHeader reads a record header. lit is the uppercase type, '0' for a
// tiny record, '-' for garbage and 0 when the header is incomplete.
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
		bl := binary.LittleEndian.Uint32(data[1:5])
		if bl > 0x7fffffff {
			return '-', 0, 0
		}
		return b, 5, int(bl)
	}
	return '-', 0, 0
}

// AppendHeader picks the shortest header form for bodylen. A lowercase lit
// allows the tiny form.
func AppendHeader(into []byte, lit byte, bodylen int) []byte {
	big := lit &^ CaseBit
	if big < 'A' || big > 'Z' {
		panic("TLV record type is A..Z")
	}
	switch {
	case bodylen < 10 && lit&CaseBit != 0:
		return append(into, byte('0'+bodylen))
	case bodylen > 0xff:
		if bodylen > 0x7fffffff {
			panic("oversized TLV record")
		}
		into = append(into, big)
		return binary.LittleEndian.AppendUint32(into, uint32(bodylen))
	}
	return append(into, big|CaseBit, byte(bodylen))
}

func Append(into []byte, lit byte, body ...[]byte) []byte {
	total := 0
	for _, b := range body {
		total += len(b)
	}
	into = AppendHeader(into, lit, total)
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

// TakeWary cuts a record of type lit off the front of data. An incomplete
// record leaves data as rest; a type mismatch is ErrBadRecord. Tiny records
// match any type.
func TakeWary(lit byte, data []byte) (body, rest []byte, err error) {
	flit, hdrlen, bodylen := ProbeHeader(data)
	if flit == 0 || hdrlen+bodylen > len(data) {
		return nil, data, mural_errors.ErrIncomplete
	}
	if flit != lit && flit != '0' {
		return nil, nil, ErrBadRecord
	}
	return data[hdrlen : hdrlen+bodylen], data[hdrlen+bodylen:], nil
}

// OpenHeader starts a long-form record whose length is filled in by
// CloseHeader once the body is appended.
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
		panic("CloseHeader without OpenHeader")
	}
	binary.LittleEndian.PutUint32(buf[bookmark-4:bookmark], uint32(len(buf)-bookmark))
}
