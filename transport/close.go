package transport

import (
	"github.com/xendarboh/strand/streamio"
	"github.com/xendarboh/strand/wire"
)

// doClose begins the cooperative CLOSE/CLOSECONF handshake with reason
// as the application-supplied close code. Idempotent: a second call
// while already closing or closed is a no-op, since armCloseTimer is
// already retrying the first CLOSE.
func (t *Transport) doClose(reason uint16) {
	if t.state == StateClosing || t.state == StateClosed {
		return
	}
	t.closeReason = reason
	t.state = StateClosing
	t.sendClose()
	t.armCloseTimer()
}

func (t *Transport) sendClose() {
	frame := wire.EncodeClose(t.srcConnID, t.dstConnID, t.closeReason)
	t.sendRaw(frame)
}

func (t *Transport) sendCloseConf() {
	frame := wire.EncodeEmpty(wire.TypeCloseConf, t.srcConnID, t.dstConnID)
	t.sendRaw(frame)
}

func (t *Transport) handleClose(hdr wire.Header, payload []byte) {
	if !t.connIDsMatch(hdr) {
		t.sendRST(hdr.DstConnID, hdr.SrcConnID)
		return
	}
	cf, err := wire.DecodeClose(hdr, payload)
	if err != nil {
		return
	}
	// CLOSECONF is always sent in reply, even to a retransmitted CLOSE
	// after we've already torn down, so the peer's own close timer
	// stops retrying.
	t.sendCloseConf()
	if t.state != StateClosed {
		t.reset(cf.Reason)
	}
}

func (t *Transport) handleCloseConf(hdr wire.Header) {
	if !t.connIDsMatch(hdr) {
		return
	}
	if t.state == StateClosing {
		t.reset(t.closeReason)
	}
}

// reset tears down the connection immediately: every timer is
// invalidated, every stream discarded, and the delegate is told once.
// Called both from the cooperative close handshake and from any
// unrecoverable failure (handshake/TLP/skip/flush/close timeout, RST,
// an AEAD decrypt failure).
func (t *Transport) reset(reason uint16) {
	if t.state == StateClosed {
		return
	}
	t.state = StateClosed
	t.handshakeEpoch++
	t.closeEpoch++
	t.tlpEpoch++
	for id := range t.skipEpoch {
		t.skipEpoch[id]++
	}
	for id := range t.flushEpoch {
		t.flushEpoch[id]++
	}
	t.sendStreams = make(map[uint16]*streamio.SendStream)
	t.recvStreams = make(map[uint16]*streamio.RecvStream)
	t.retiredRecv = newRetiredStreams()
	t.retiredSend = newRetiredStreams()
	t.sendQueue = nil
	t.sentPackets = make(map[uint64]*sentPacketInfo)
	t.lostPackets = make(map[uint64]*sentPacketInfo)
	t.bytesInFlight = 0
	t.cc.BytesInFlight = 0
	if t.delegate != nil {
		t.delegate.DidClose(t, reason)
	}
}
