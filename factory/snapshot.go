package factory

import (
	"bytes"

	"github.com/fxamacker/cbor/v2"
	"github.com/ugorji/go/codec"

	"github.com/xendarboh/strand/transport"
)

// Snapshot is an operator-facing dump of one transport's live
// congestion/RTT/loss state, independent of the wire protocol itself —
// never sent to a peer, only ever serialized for a local debug
// endpoint or log line.
type Snapshot struct {
	PeerAddr      string  `cbor:"peer_addr" codec:"peer_addr"`
	State         string  `cbor:"state" codec:"state"`
	RTT           float64 `cbor:"rtt" codec:"rtt"`
	BytesInFlight uint64  `cbor:"bytes_in_flight" codec:"bytes_in_flight"`
	PacketsLost   int     `cbor:"packets_lost" codec:"packets_lost"`
}

// NewSnapshot reads t's current state through its normal exported
// accessors (each hops to the dispatch goroutine and back), so a
// snapshot never races the protocol state it describes.
func NewSnapshot(t *transport.Transport) Snapshot {
	return Snapshot{
		PeerAddr:      t.PeerAddr(),
		State:         t.State().String(),
		RTT:           t.GetRTT(),
		BytesInFlight: t.BytesInFlight(),
		PacketsLost:   t.LostPacketCount(),
	}
}

// Snapshot returns the live Snapshot for addr, if a transport is
// currently mapped to it.
func (f *Factory) Snapshot(addr string) (Snapshot, bool) {
	t, ok := f.GetTransport(addr)
	if !ok {
		return Snapshot{}, false
	}
	return NewSnapshot(t), true
}

// EncodeCBOR serializes snap with cbor, the self-describing format this
// package also uses nowhere else — the wire format proper (wire/) is a
// fixed byte layout that cbor would only obscure, so this debug path is
// cbor's one genuine home in this module.
func (snap Snapshot) EncodeCBOR() ([]byte, error) {
	return cbor.Marshal(snap)
}

// DecodeSnapshotCBOR is the inverse of EncodeCBOR.
func DecodeSnapshotCBOR(b []byte) (Snapshot, error) {
	var snap Snapshot
	err := cbor.Unmarshal(b, &snap)
	return snap, err
}

// EncodeMsgpack serializes snap with codec's msgpack handle — a
// distinct wire encoding from EncodeCBOR, for operator tooling that
// prefers msgpack over cbor; the two paths are never mixed for the same
// message.
func (snap Snapshot) EncodeMsgpack() ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshotMsgpack is the inverse of EncodeMsgpack.
func DecodeSnapshotMsgpack(b []byte) (Snapshot, error) {
	var snap Snapshot
	dec := codec.NewDecoder(bytes.NewReader(b), &codec.MsgpackHandle{})
	err := dec.Decode(&snap)
	return snap, err
}
