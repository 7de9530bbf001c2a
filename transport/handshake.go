package transport

import (
	"github.com/xendarboh/strand/scrypto"
	"github.com/xendarboh/strand/wire"
)

// handshakePayload is the plaintext sealed inside DIAL/DIALCONF.
type handshakePayload struct {
	staticPub [32]byte
	ephPub    [32]byte
}

func encodeHandshakePayload(p handshakePayload) []byte {
	out := make([]byte, 0, 64)
	out = append(out, p.staticPub[:]...)
	out = append(out, p.ephPub[:]...)
	return out
}

func decodeHandshakePayload(b []byte) (handshakePayload, bool) {
	if len(b) < 64 {
		return handshakePayload{}, false
	}
	var p handshakePayload
	copy(p.staticPub[:], b[:32])
	copy(p.ephPub[:], b[32:64])
	return p, true
}

// dialConfPayload is the plaintext sealed inside DIALCONF: only the
// ephemeral key is needed, since the static key is already known from
// the DIAL this confirms.
func encodeDialConfPayload(ephPub [32]byte) []byte {
	return append([]byte{}, ephPub[:]...)
}

func decodeDialConfPayload(b []byte) ([32]byte, bool) {
	var out [32]byte
	if len(b) < 32 {
		return out, false
	}
	copy(out[:], b[:32])
	return out, true
}

func (t *Transport) doDial(remoteStatic [32]byte) error {
	if t.state != StateListen {
		return nil
	}
	t.remoteStaticPub = remoteStatic
	t.haveRemoteKey = true
	t.dialled = true

	id, err := randConnID()
	if err != nil {
		return err
	}
	t.srcConnID = id
	t.dstConnID = 0

	t.sendDial()
	t.armHandshakeTimer()
	t.state = StateDialSent
	return nil
}

func (t *Transport) sendDial() {
	payload := encodeHandshakePayload(handshakePayload{staticPub: t.staticPub, ephPub: t.ephemeral.Public})
	box, err := scrypto.Seal(t.remoteStaticPub, payload)
	if err != nil {
		t.log.Errorf("seal dial: %v", err)
		return
	}
	frame := wire.EncodeDial(t.srcConnID, t.dstConnID, scrypto.EncodeSealedBox(box))
	t.sendRaw(frame)
}

func (t *Transport) sendDialConf() {
	payload := encodeDialConfPayload(t.ephemeral.Public)
	box, err := scrypto.Seal(t.remoteStaticPub, payload)
	if err != nil {
		t.log.Errorf("seal dialconf: %v", err)
		return
	}
	frame := wire.EncodeDialConf(t.srcConnID, t.dstConnID, scrypto.EncodeSealedBox(box))
	t.sendRaw(frame)
}

func (t *Transport) sendConf() {
	frame := wire.EncodeEmpty(wire.TypeConf, t.srcConnID, t.dstConnID)
	t.sendRaw(frame)
}

func (t *Transport) sendRST(dst, src uint32) {
	frame := wire.EncodeEmpty(wire.TypeRst, dst, src)
	t.sendRaw(frame)
}

// deriveSession computes this side's directional AEAD keys now that
// both ephemeral public keys are known.
func (t *Transport) deriveSession() error {
	keys, err := scrypto.DeriveDirectionKeys(t.ephemeral.Private, t.ephemeral.Public, t.remoteEphemeral)
	if err != nil {
		return err
	}
	tx, err := scrypto.NewCipher(keys.TX)
	if err != nil {
		return err
	}
	rx, err := scrypto.NewCipher(keys.RX)
	if err != nil {
		return err
	}
	t.txCipher = tx
	t.rxCipher = rx
	t.rxSeen = scrypto.NewNonceFilter()
	return nil
}

func (t *Transport) handleDial(hdr wire.Header, payload []byte) {
	sf, err := wire.DecodeSealed(hdr, payload)
	if err != nil {
		return
	}
	box, err := scrypto.DecodeSealedBox(sf.Sealed)
	if err != nil {
		return
	}
	opened, err := scrypto.Open(t.staticPriv, box)
	if err != nil {
		t.log.Warnf("dial open failed from %s: %v", t.peerAddr, err)
		return
	}
	hp, ok := decodeHandshakePayload(opened)
	if !ok {
		return
	}

	switch t.state {
	case StateListen, StateDialSent:
		// StateDialSent + a DIAL with the peer's src==0 is simultaneous
		// open: treated identically to a fresh Listen-side DIAL.
		t.remoteStaticPub = hp.staticPub
		t.haveRemoteKey = true
		t.remoteEphemeral = hp.ephPub
		t.dstConnID = hdr.SrcConnID
		if t.state == StateListen {
			id, err := randConnID()
			if err != nil {
				return
			}
			t.srcConnID = id
		}
		if err := t.deriveSession(); err != nil {
			t.log.Errorf("derive session: %v", err)
			return
		}
		t.sendDialConf()
		t.armHandshakeTimer()
		t.state = StateDialRcvd
	case StateEstablished:
		// Tolerant to a peer's DIAL retransmit after we've moved on:
		// reply with our current DIALCONF.
		t.sendDialConf()
	}
}

func (t *Transport) handleDialConf(hdr wire.Header, payload []byte) {
	// The dialer doesn't yet know the listener's conn id when it sends
	// DIAL (dstConnID is still 0), so the full symmetric connIDsMatch
	// check can't gate StateDialSent: only the echoed dst_conn_id (the
	// id the peer believes is ours) can be validated here. dstConnID is
	// learned from this DIALCONF's src_conn_id instead.
	if t.state == StateDialSent {
		if hdr.DstConnID != t.srcConnID {
			t.sendRST(hdr.DstConnID, hdr.SrcConnID)
			return
		}
	} else if !t.connIDsMatch(hdr) {
		t.sendRST(hdr.DstConnID, hdr.SrcConnID)
		return
	}
	sf, err := wire.DecodeSealed(hdr, payload)
	if err != nil {
		return
	}
	box, err := scrypto.DecodeSealedBox(sf.Sealed)
	if err != nil {
		return
	}
	opened, err := scrypto.Open(t.staticPriv, box)
	if err != nil {
		t.log.Warnf("dialconf open failed from %s: %v", t.peerAddr, err)
		return
	}
	ephPub, ok := decodeDialConfPayload(opened)
	if !ok {
		return
	}

	switch t.state {
	case StateDialSent:
		t.dstConnID = hdr.SrcConnID
		t.remoteEphemeral = ephPub
		if err := t.deriveSession(); err != nil {
			t.log.Errorf("derive session: %v", err)
			return
		}
		t.sendConf()
		t.cancelHandshakeTimer()
		t.state = StateEstablished
		if t.dialled && t.delegate != nil {
			t.delegate.DidDial(t)
		}
	case StateDialRcvd:
		t.sendConf()
		t.cancelHandshakeTimer()
		t.state = StateEstablished
	case StateEstablished:
		t.sendConf()
	}
}

func (t *Transport) handleConf(hdr wire.Header) {
	if !t.connIDsMatch(hdr) {
		t.sendRST(hdr.DstConnID, hdr.SrcConnID)
		return
	}
	if t.state == StateDialRcvd {
		t.cancelHandshakeTimer()
		t.state = StateEstablished
	}
}

func (t *Transport) handleRST(hdr wire.Header) {
	if hdr.SrcConnID == t.dstConnID && hdr.DstConnID == t.srcConnID {
		t.reset(CloseReasonNormal)
	}
}

// connIDsMatch reports whether an inbound frame's (src,dst) pair is
// consistent with this side's own ids, from the sender's perspective:
// the frame's src_conn_id is the peer's id (our dst) and its
// dst_conn_id is the id the peer believes is ours (our src).
func (t *Transport) connIDsMatch(hdr wire.Header) bool {
	return hdr.SrcConnID == t.dstConnID && hdr.DstConnID == t.srcConnID
}

func (t *Transport) armHandshakeTimer() {
	next, exceeded := backoffNext(t.handshakeBackoff, HandshakeInitialBackoff, HandshakeMaxBackoff)
	if exceeded {
		t.fail(newHandshakeTimeoutError("handshake with %s timed out", t.peerAddr))
		return
	}
	t.handshakeBackoff = next
	t.handshakeEpoch++
	t.tq.Push(deadline(next), timerEvent{kind: timerHandshake, epoch: t.handshakeEpoch})
}

func (t *Transport) cancelHandshakeTimer() {
	t.handshakeBackoff = 0
	t.handshakeEpoch++ // invalidate any in-flight timer fire
}

func (t *Transport) onHandshakeTimer(ev timerEvent) {
	if ev.epoch != t.handshakeEpoch {
		return
	}
	switch t.state {
	case StateDialSent:
		t.sendDial()
	case StateDialRcvd:
		t.sendDialConf()
	default:
		return
	}
	t.armHandshakeTimer()
}
