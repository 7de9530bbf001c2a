package transport

import (
	"encoding/binary"
	"time"

	"github.com/xendarboh/strand/streamio"
	"github.com/xendarboh/strand/wire"
)

func (t *Transport) onDatagram(b []byte) {
	hdr, payload, err := wire.DecodeHeader(b)
	if err != nil {
		return // MalformedFrame: drop silently
	}

	switch hdr.Type {
	case wire.TypeDial:
		t.handleDial(hdr, payload)
	case wire.TypeDialConf:
		t.handleDialConf(hdr, payload)
	case wire.TypeConf:
		t.handleConf(hdr)
	case wire.TypeRst:
		t.handleRST(hdr)
	case wire.TypeData, wire.TypeDataFin:
		t.handleData(hdr, payload)
	case wire.TypeAck:
		t.handleAck(hdr, payload)
	case wire.TypeSkipStream:
		t.handleSkipStream(hdr, payload)
	case wire.TypeFlushStream:
		t.handleFlushStream(hdr, payload)
	case wire.TypeFlushConf:
		t.handleFlushConf(hdr, payload)
	case wire.TypeClose:
		t.handleClose(hdr, payload)
	case wire.TypeCloseConf:
		t.handleCloseConf(hdr)
	}
}

func (t *Transport) handleData(hdr wire.Header, payload []byte) {
	if t.state == StateDialRcvd && t.connIDsMatch(hdr) {
		// Implicit confirmation: a peer sending DATA has clearly seen
		// our DIALCONF, so treat it as CONF and move on.
		t.cancelHandshakeTimer()
		t.state = StateEstablished
	}
	if t.state != StateEstablished {
		return
	}
	if !t.connIDsMatch(hdr) {
		t.sendRST(hdr.DstConnID, hdr.SrcConnID)
		return
	}

	df, err := wire.DecodeData(hdr, payload)
	if err != nil {
		return
	}
	if t.retiredRecv.contains(df.StreamID) {
		// Late frame for a stream already fully delivered and torn down;
		// dropped rather than resurrected at a stale offset.
		return
	}

	aad := dataAAD(hdr, df.StreamID, df.PacketNumber)
	plaintext, err := t.rxCipher.Open(aad, df.Sealed, t.rxSeen)
	if err != nil {
		t.log.Warnf("decrypt failure from %s: %v", t.peerAddr, err)
		t.sendRST(hdr.DstConnID, hdr.SrcConnID)
		t.fail(newDecryptFailureError("aead verify failed on stream %d from %s", df.StreamID, t.peerAddr))
		return
	}

	t.recvAcks.Add(df.PacketNumber)
	t.armAckDelayTimer()

	rs := t.recvStream(df.StreamID)
	rs.OnData(df.Offset, plaintext, df.Fin())
	if rs.Done() {
		delete(t.recvStreams, df.StreamID)
		t.retiredRecv.add(df.StreamID)
	}
}

// dataAAD reproduces the exact authenticated-but-unencrypted prefix a
// DATA frame's AEAD binds to: the envelope plus stream id and packet
// number (wire.AADLen bytes total).
func dataAAD(hdr wire.Header, streamID uint16, pn uint64) []byte {
	b := wire.EncodeHeader(hdr.Type, hdr.SrcConnID, hdr.DstConnID, 2+8)
	var tail [2 + 8]byte
	binary.BigEndian.PutUint16(tail[0:2], streamID)
	binary.BigEndian.PutUint64(tail[2:10], pn)
	return append(b, tail[:]...)
}

func (t *Transport) recvStream(id uint16) *streamio.RecvStream {
	rs, ok := t.recvStreams[id]
	if !ok {
		streamID := id
		rs = streamio.NewRecvStream(id, func(offset uint64, data []byte) int {
			if t.delegate != nil {
				t.delegate.DidRecv(t, streamID, data)
			}
			return 0
		})
		t.recvStreams[id] = rs
	}
	return rs
}

func (t *Transport) sendAck() {
	largest, ranges := t.recvAcks.Encode(AckRangeEncodeCap)
	frame := wire.EncodeAck(t.srcConnID, t.dstConnID, largest, ranges)
	t.sendRaw(frame)
}

func (t *Transport) handleAck(hdr wire.Header, payload []byte) {
	if t.state != StateEstablished || !t.connIDsMatch(hdr) {
		return
	}
	af, err := wire.DecodeAck(hdr, payload)
	if err != nil {
		return
	}
	t.processAck(af)
}

// processAck walks the (largest, ranges) run/gap encoding, folding
// every covered packet number into per-stream acks, bytes-in-flight
// accounting, and the congestion controller, then runs ACK-driven loss
// detection.
func (t *Transport) processAck(af wire.AckFrame) {
	high := af.Largest
	acked := true
	var newestAckedSentTime time.Time

	ackOne := func(pn uint64) {
		info, ok := t.sentPackets[pn]
		if !ok {
			return
		}
		delete(t.sentPackets, pn)
		t.bytesInFlight -= info.length
		t.cc.BytesInFlight = t.bytesInFlight
		if info.sentTime.After(newestAckedSentTime) {
			newestAckedSentTime = info.sentTime
		}
		t.cc.OnAck(info.length, info.sentTime.UnixNano())
		if ss, ok := t.sendStreams[info.streamID]; ok {
			ss.OnAck(info.offset, info.length)
			if ss.Acked() {
				delete(t.sendStreams, info.streamID)
				t.retiredSend.add(info.streamID)
			}
		}
	}

	// af.Ranges alternates acked-run, gap, acked-run, ... anchored at
	// Largest (see ack.Ranges); nothing below the final entry is known,
	// so the loop covers every encoded segment and nothing more.
	for _, run := range af.Ranges {
		low := high - run + 1
		if acked {
			for pn := low; pn <= high; pn++ {
				ackOne(pn)
			}
		}
		high = low - 1
		acked = !acked
	}

	if !newestAckedSentTime.IsZero() {
		t.rtt.Sample(time.Since(newestAckedSentTime).Seconds())
		t.detectAckDrivenLoss(newestAckedSentTime)
		// Ack progress restarts the probe schedule from its initial
		// interval.
		t.cancelTLPTimer()
		if len(t.sentPackets) > 0 {
			t.armTLPTimer()
		}
	}
	t.pace()
}

func (t *Transport) detectAckDrivenLoss(reference time.Time) {
	for pn, info := range t.sentPackets {
		if reference.Sub(info.sentTime) > LossThreshold {
			delete(t.sentPackets, pn)
			t.lostPackets[pn] = info
			t.bytesInFlight -= info.length
			t.cc.BytesInFlight = t.bytesInFlight
			t.cc.OnCongestionEvent(info.sentTime.UnixNano(), time.Now().UnixNano())
		}
	}
}

func (t *Transport) onTLPTimer(ev timerEvent) {
	if ev.epoch != t.tlpEpoch {
		return
	}
	if len(t.sentPackets) == 0 && len(t.sendQueue) == 0 {
		t.tlpInterval = 0
		return
	}
	var mostRecent time.Time
	for pn, info := range t.sentPackets {
		if info.sentTime.After(mostRecent) {
			mostRecent = info.sentTime
		}
		delete(t.sentPackets, pn)
		t.lostPackets[pn] = info
		t.bytesInFlight -= info.length
	}
	t.cc.BytesInFlight = t.bytesInFlight
	if !mostRecent.IsZero() {
		t.cc.OnCongestionEvent(mostRecent.UnixNano(), time.Now().UnixNano())
	}
	t.armTLPTimer()
	t.pace()
}

// doSend enqueues data onto streamID's SendStream, returning the
// north-facing send() result code.
func (t *Transport) doSend(streamID uint16, data []byte) int {
	if t.state != StateEstablished {
		return SendNotEstablished
	}
	ss, ok := t.sendStreams[streamID]
	if !ok {
		ss = streamio.NewSendStream(streamID)
		t.sendStreams[streamID] = ss
		t.sendQueue = append(t.sendQueue, streamID)
	}
	if ss.UnsentAndUnacked()+uint64(len(data)) > MaxSendBacklog {
		return SendBackpressure
	}
	capturedID := streamID
	ss.Enqueue(data, func() {
		if t.delegate != nil {
			t.delegate.DidSend(t, capturedID, len(data))
		}
	})
	t.pace()
	return SendOK
}

// pace is the one-shot pacing tick: send lost packets first, then new
// data, stopping at the per-tick byte batch limit or the congestion
// window, whichever comes first.
func (t *Transport) pace() {
	sentThisTick := 0

	for pn, info := range t.lostPackets {
		if !t.cc.CanSend(info.length) {
			t.armPacingTimer(0)
			return
		}
		ss, ok := t.sendStreams[info.streamID]
		if ok {
			t.retransmit(ss, info)
		}
		delete(t.lostPackets, pn)
		sentThisTick += int(info.length)
		if sentThisTick >= DefaultPacingLimit {
			t.armPacingTimer(time.Millisecond)
			return
		}
	}

	for len(t.sendQueue) > 0 {
		id := t.sendQueue[0]
		ss, ok := t.sendStreams[id]
		if !ok || !ss.HasSendable() {
			t.sendQueue = t.sendQueue[1:]
			continue
		}
		if !t.cc.CanSend(DefaultFragmentSize) {
			t.armPacingTimer(0)
			return
		}
		t.sendNextFragment(ss)
		sentThisTick += DefaultFragmentSize
		if sentThisTick >= DefaultPacingLimit {
			t.armPacingTimer(time.Millisecond)
			return
		}
		// round-robin: move this stream to the back if it still has more.
		t.sendQueue = t.sendQueue[1:]
		if ss.HasSendable() {
			t.sendQueue = append(t.sendQueue, id)
		}
	}
}

func (t *Transport) onPacingTimer() {
	t.pacingArmed = false
	t.pace()
}

func (t *Transport) sendNextFragment(ss *streamio.SendStream) {
	offset, payload, fin, ok := ss.NextFragment(DefaultFragmentSize)
	if !ok {
		return
	}
	t.transmit(ss.ID, offset, payload, fin)
}

func (t *Transport) retransmit(ss *streamio.SendStream, lost *sentPacketInfo) {
	// A retransmit always gets a fresh packet number; its payload is
	// re-read from the stream's own still-buffered bytes at the lost
	// offset/length, since an unacked item is never discarded.
	payload, fin, ok := ss.FragmentAt(lost.offset, int(lost.length))
	if !ok {
		return // already acked and released since being marked lost
	}
	t.transmit(lost.streamID, lost.offset, payload, fin)
}

func (t *Transport) transmit(streamID uint16, offset uint64, payload []byte, fin bool) {
	pn := t.nextPacketNumber
	t.nextPacketNumber++
	frameType := wire.TypeData
	if fin {
		frameType = wire.TypeDataFin
	}
	aad := dataAAD(wire.Header{Type: frameType, SrcConnID: t.srcConnID, DstConnID: t.dstConnID}, streamID, pn)
	sealed := t.txCipher.Seal(aad, payload)
	frame := wire.EncodeData(t.srcConnID, t.dstConnID, fin, streamID, pn, offset, sealed)
	t.sendRaw(frame)

	info := &sentPacketInfo{sentTime: time.Now(), streamID: streamID, offset: offset, length: uint64(len(payload)), fin: fin}
	t.sentPackets[pn] = info
	t.bytesInFlight += info.length
	t.cc.BytesInFlight = t.bytesInFlight
	// Only start the probe timer when none is running; the backoff
	// doubles when the timer fires, not on every send.
	if t.tlpInterval == 0 {
		t.armTLPTimer()
	}
}
