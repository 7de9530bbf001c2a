package wire

import "encoding/binary"

// DataFrame is the decoded form of a DATA or DATA+FIN frame. Sealed is
// the AEAD ciphertext followed by its 16-byte GCM tag and, per §4.6, the
// 12-byte nonce trailer the receiver needs to recover the per-packet
// nonce without tracking strict sequencing.
type DataFrame struct {
	Header
	StreamID     uint16
	PacketNumber uint64
	Offset       uint64
	Sealed       []byte
}

// Fin reports whether this frame carries the stream's final fragment,
// encoded as the frame type itself (TypeData vs TypeDataFin) rather than
// a separate flag bit.
func (f DataFrame) Fin() bool { return f.Type == TypeDataFin }

// EncodeData serializes a DATA or DATA+FIN frame. sealed is the already
// AEAD-sealed payload (ciphertext || tag || nonce trailer).
func EncodeData(src, dst uint32, fin bool, streamID uint16, pn, offset uint64, sealed []byte) []byte {
	typ := TypeData
	if fin {
		typ = TypeDataFin
	}
	b := EncodeHeader(typ, src, dst, 2+8+8+2+len(sealed))
	var hdr [2 + 8 + 8 + 2]byte
	binary.BigEndian.PutUint16(hdr[0:2], streamID)
	binary.BigEndian.PutUint64(hdr[2:10], pn)
	binary.BigEndian.PutUint64(hdr[10:18], offset)
	binary.BigEndian.PutUint16(hdr[18:20], uint16(len(sealed)))
	b = append(b, hdr[:]...)
	b = append(b, sealed...)
	return b
}

// DecodeData parses a DATA/DATA+FIN frame's payload (the bytes after the
// envelope). hdr must already have been decoded by DecodeHeader.
func DecodeData(hdr Header, payload []byte) (DataFrame, error) {
	if hdr.Type != TypeData && hdr.Type != TypeDataFin {
		return DataFrame{}, ErrMalformed
	}
	if len(payload) < 2+8+8+2 {
		return DataFrame{}, ErrMalformed
	}
	streamID := binary.BigEndian.Uint16(payload[0:2])
	pn := binary.BigEndian.Uint64(payload[2:10])
	offset := binary.BigEndian.Uint64(payload[10:18])
	length := binary.BigEndian.Uint16(payload[18:20])
	rest := payload[20:]
	if len(rest) != int(length) {
		return DataFrame{}, ErrMalformed
	}
	sealed := make([]byte, len(rest))
	copy(sealed, rest)
	return DataFrame{Header: hdr, StreamID: streamID, PacketNumber: pn, Offset: offset, Sealed: sealed}, nil
}

// AckFrame is the decoded ACK: the largest packet number seen, plus up
// to 171 alternating (acked_run, gap) counts anchored at Largest, per
// §4.2.
type AckFrame struct {
	Header
	Largest uint64
	Ranges  []uint64
}

// EncodeAck serializes an ACK frame. ranges should already be capped to
// the caller's chosen range-count limit (171 by default, §4.2).
func EncodeAck(src, dst uint32, largest uint64, ranges []uint64) []byte {
	b := EncodeHeader(TypeAck, src, dst, 2+8+8*len(ranges))
	var hdr [2 + 8]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(len(ranges)))
	binary.BigEndian.PutUint64(hdr[2:10], largest)
	b = append(b, hdr[:]...)
	for _, r := range ranges {
		var rb [8]byte
		binary.BigEndian.PutUint64(rb[:], r)
		b = append(b, rb[:]...)
	}
	return b
}

// DecodeAck parses an ACK frame's payload.
func DecodeAck(hdr Header, payload []byte) (AckFrame, error) {
	if hdr.Type != TypeAck {
		return AckFrame{}, ErrMalformed
	}
	if len(payload) < 2+8 {
		return AckFrame{}, ErrMalformed
	}
	count := binary.BigEndian.Uint16(payload[0:2])
	largest := binary.BigEndian.Uint64(payload[2:10])
	rest := payload[10:]
	if len(rest) != int(count)*8 {
		return AckFrame{}, ErrMalformed
	}
	ranges := make([]uint64, count)
	for i := range ranges {
		ranges[i] = binary.BigEndian.Uint64(rest[i*8 : i*8+8])
	}
	return AckFrame{Header: hdr, Largest: largest, Ranges: ranges}, nil
}

// SealedFrame carries DIAL or DIALCONF's sealed-box payload verbatim;
// strand never interprets its contents at the wire layer, only scrypto
// does.
type SealedFrame struct {
	Header
	Sealed []byte
}

func encodeSealed(typ Type, src, dst uint32, sealed []byte) []byte {
	b := EncodeHeader(typ, src, dst, len(sealed))
	return append(b, sealed...)
}

// EncodeDial serializes a DIAL frame.
func EncodeDial(src, dst uint32, sealed []byte) []byte { return encodeSealed(TypeDial, src, dst, sealed) }

// EncodeDialConf serializes a DIALCONF frame.
func EncodeDialConf(src, dst uint32, sealed []byte) []byte {
	return encodeSealed(TypeDialConf, src, dst, sealed)
}

// DecodeSealed parses a DIAL/DIALCONF frame's payload.
func DecodeSealed(hdr Header, payload []byte) (SealedFrame, error) {
	if hdr.Type != TypeDial && hdr.Type != TypeDialConf {
		return SealedFrame{}, ErrMalformed
	}
	sealed := make([]byte, len(payload))
	copy(sealed, payload)
	return SealedFrame{Header: hdr, Sealed: sealed}, nil
}

// EncodeEmpty serializes a frame whose type carries its entire meaning:
// CONF, RST, or CLOSECONF.
func EncodeEmpty(typ Type, src, dst uint32) []byte {
	return EncodeHeader(typ, src, dst, 0)
}

// StreamOffsetFrame is the decoded form of SKIPSTREAM or FLUSHSTREAM.
type StreamOffsetFrame struct {
	Header
	StreamID uint16
	Offset   uint64
}

func encodeStreamOffset(typ Type, src, dst uint32, streamID uint16, offset uint64) []byte {
	b := EncodeHeader(typ, src, dst, 2+8)
	var body [2 + 8]byte
	binary.BigEndian.PutUint16(body[0:2], streamID)
	binary.BigEndian.PutUint64(body[2:10], offset)
	return append(b, body[:]...)
}

// EncodeSkipStream serializes a SKIPSTREAM frame.
func EncodeSkipStream(src, dst uint32, streamID uint16, offset uint64) []byte {
	return encodeStreamOffset(TypeSkipStream, src, dst, streamID, offset)
}

// EncodeFlushStream serializes a FLUSHSTREAM frame.
func EncodeFlushStream(src, dst uint32, streamID uint16, offset uint64) []byte {
	return encodeStreamOffset(TypeFlushStream, src, dst, streamID, offset)
}

// DecodeStreamOffset parses a SKIPSTREAM/FLUSHSTREAM frame's payload.
func DecodeStreamOffset(hdr Header, payload []byte) (StreamOffsetFrame, error) {
	if hdr.Type != TypeSkipStream && hdr.Type != TypeFlushStream {
		return StreamOffsetFrame{}, ErrMalformed
	}
	if len(payload) != 2+8 {
		return StreamOffsetFrame{}, ErrMalformed
	}
	streamID := binary.BigEndian.Uint16(payload[0:2])
	offset := binary.BigEndian.Uint64(payload[2:10])
	return StreamOffsetFrame{Header: hdr, StreamID: streamID, Offset: offset}, nil
}

// StreamFrame is the decoded form of FLUSHCONF (stream id only).
type StreamFrame struct {
	Header
	StreamID uint16
}

// EncodeFlushConf serializes a FLUSHCONF frame.
func EncodeFlushConf(src, dst uint32, streamID uint16) []byte {
	b := EncodeHeader(TypeFlushConf, src, dst, 2)
	var body [2]byte
	binary.BigEndian.PutUint16(body[:], streamID)
	return append(b, body[:]...)
}

// DecodeStream parses a FLUSHCONF frame's payload.
func DecodeStream(hdr Header, payload []byte) (StreamFrame, error) {
	if hdr.Type != TypeFlushConf {
		return StreamFrame{}, ErrMalformed
	}
	if len(payload) != 2 {
		return StreamFrame{}, ErrMalformed
	}
	return StreamFrame{Header: hdr, StreamID: binary.BigEndian.Uint16(payload)}, nil
}

// CloseFrame is the decoded form of CLOSE.
type CloseFrame struct {
	Header
	Reason uint16
}

// EncodeClose serializes a CLOSE frame.
func EncodeClose(src, dst uint32, reason uint16) []byte {
	b := EncodeHeader(TypeClose, src, dst, 2)
	var body [2]byte
	binary.BigEndian.PutUint16(body[:], reason)
	return append(b, body[:]...)
}

// DecodeClose parses a CLOSE frame's payload.
func DecodeClose(hdr Header, payload []byte) (CloseFrame, error) {
	if hdr.Type != TypeClose {
		return CloseFrame{}, ErrMalformed
	}
	if len(payload) != 2 {
		return CloseFrame{}, ErrMalformed
	}
	return CloseFrame{Header: hdr, Reason: binary.BigEndian.Uint16(payload)}, nil
}
