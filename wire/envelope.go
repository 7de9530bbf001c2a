// Package wire implements the strand frame encoding: the shared 10-byte
// envelope (§4.1) and the eleven per-type message codecs that sit on top
// of it. Every multi-byte integer is big-endian; the first byte of every
// frame is a constant zero version marker, and a non-zero first byte (or
// any frame too short to hold its declared fields) is a MalformedFrame
// per §7 — callers get ErrMalformed and must drop the datagram silently.
package wire

import (
	"encoding/binary"
	"errors"
)

// Type is the one-byte frame type tag, directly after the version byte.
type Type byte

const (
	TypeData         Type = 0
	TypeDataFin      Type = 1
	TypeAck          Type = 2
	TypeDial         Type = 3
	TypeDialConf     Type = 4
	TypeConf         Type = 5
	TypeRst          Type = 6
	TypeSkipStream   Type = 7
	TypeFlushStream  Type = 8
	TypeFlushConf    Type = 9
	TypeClose        Type = 10
	TypeCloseConf    Type = 11
)

// HeaderLen is the size of the version byte, type byte, and the two
// 32-bit connection ids that prefix every frame.
const HeaderLen = 1 + 1 + 4 + 4

// version is the constant first byte of every frame on the wire.
const version = 0

// ErrMalformed indicates a frame failed a bounds check, carried an
// unknown type, or had a non-zero version byte. Per §7 the caller drops
// the datagram silently; it is never surfaced to the application.
var ErrMalformed = errors.New("wire: malformed frame")

// Header is the envelope common to every frame.
type Header struct {
	Type      Type
	SrcConnID uint32
	DstConnID uint32
}

// AADLen is the length of the authenticated-but-unencrypted prefix of a
// DATA frame used as AEAD associated data: version, type, src/dst conn
// ids, stream id, and packet number. spec.md §4.6 calls this prefix "18
// bytes" in prose while its own field list sums to 20
// (1+1+4+4+2+8); this implementation follows the explicit field list as
// the more authoritative of the two self-contradictory statements (see
// DESIGN.md).
const AADLen = HeaderLen + 2 + 8

// EncodeHeader writes the 10-byte envelope for typ/src/dst into a fresh
// buffer with cap extra additional bytes reserved after it.
func EncodeHeader(typ Type, src, dst uint32, extra int) []byte {
	b := make([]byte, HeaderLen, HeaderLen+extra)
	b[0] = version
	b[1] = byte(typ)
	binary.BigEndian.PutUint32(b[2:6], src)
	binary.BigEndian.PutUint32(b[6:10], dst)
	return b
}

// DecodeHeader parses the envelope from the front of b and returns the
// header plus the remaining payload bytes.
func DecodeHeader(b []byte) (Header, []byte, error) {
	if len(b) < HeaderLen {
		return Header{}, nil, ErrMalformed
	}
	if b[0] != version {
		return Header{}, nil, ErrMalformed
	}
	h := Header{
		Type:      Type(b[1]),
		SrcConnID: binary.BigEndian.Uint32(b[2:6]),
		DstConnID: binary.BigEndian.Uint32(b[6:10]),
	}
	return h, b[HeaderLen:], nil
}
