package transport

import "github.com/xendarboh/strand/wire"

// doSkipStream begins the receiver-side SKIP flow: the application has
// given up on ever reading streamID's backlog, so it asks the peer to
// fast-forward its send side, choosing an offset that never discards
// bytes already sitting in the reorder buffer.
func (t *Transport) doSkipStream(streamID uint16) {
	if t.state != StateEstablished {
		return
	}
	rs := t.recvStream(streamID)
	offset := rs.ReadOffset
	if end := rs.LastBufferedEnd(); end > offset {
		offset = end
	}
	rs.WaitFlush = true
	t.sendSkipStream(streamID, offset)
	t.armSkipTimer(streamID)
}

func (t *Transport) sendSkipStream(streamID uint16, offset uint64) {
	frame := wire.EncodeSkipStream(t.srcConnID, t.dstConnID, streamID, offset)
	t.sendRaw(frame)
}

func (t *Transport) handleSkipStream(hdr wire.Header, payload []byte) {
	if t.state != StateEstablished || !t.connIDsMatch(hdr) {
		return
	}
	sf, err := wire.DecodeStreamOffset(hdr, payload)
	if err != nil {
		return
	}

	ss, ok := t.sendStreams[sf.StreamID]
	if !ok || ss.AckedOffset >= sf.Offset {
		// Already sent and acked past the requested point (or nothing
		// was ever queued): confirm without discarding anything.
		var floor uint64
		if ok {
			floor = ss.AckedOffset
		} else {
			floor = sf.Offset
		}
		t.sendFlushStream(sf.StreamID, floor)
		return
	}

	if t.delegate != nil {
		t.delegate.DidRecvSkipStream(t, sf.StreamID)
	}
	t.doFlushStreamTo(sf.StreamID, sf.Offset)
}

// doFlushStream is the sender-initiated FLUSH: the application abandons
// all currently queued and in-flight bytes on streamID, advancing the
// floor to whatever has already been enqueued.
func (t *Transport) doFlushStream(streamID uint16) {
	if t.state != StateEstablished {
		return
	}
	ss, ok := t.sendStreams[streamID]
	target := uint64(0)
	if ok {
		target = ss.QueueOffset
	}
	t.doFlushStreamTo(streamID, target)
}

func (t *Transport) doFlushStreamTo(streamID uint16, target uint64) {
	var floor uint64
	if ss, ok := t.sendStreams[streamID]; ok {
		floor = ss.Flush(target)
		delete(t.sendStreams, streamID)
		t.retiredSend.add(streamID)
	} else {
		floor = target
	}
	t.discardInFlight(streamID)
	t.flushFloor[streamID] = floor
	t.sendFlushStream(streamID, floor)
	t.armFlushTimer(streamID)
}

// discardInFlight drops every sent/lost packet record belonging to
// streamID, since FLUSH abandons the stream's entire in-flight backlog.
func (t *Transport) discardInFlight(streamID uint16) {
	for pn, info := range t.sentPackets {
		if info.streamID == streamID {
			t.bytesInFlight -= info.length
			delete(t.sentPackets, pn)
		}
	}
	for pn, info := range t.lostPackets {
		if info.streamID == streamID {
			delete(t.lostPackets, pn)
		}
	}
	t.cc.BytesInFlight = t.bytesInFlight
}

func (t *Transport) sendFlushStream(streamID uint16, offset uint64) {
	frame := wire.EncodeFlushStream(t.srcConnID, t.dstConnID, streamID, offset)
	t.sendRaw(frame)
}

func (t *Transport) handleFlushStream(hdr wire.Header, payload []byte) {
	if t.state != StateEstablished || !t.connIDsMatch(hdr) {
		return
	}
	sf, err := wire.DecodeStreamOffset(hdr, payload)
	if err != nil {
		return
	}
	if t.retiredRecv.contains(sf.StreamID) {
		// Stream already fully delivered and torn down; confirm without
		// resurrecting a fresh RecvStream.
		t.sendFlushConf(sf.StreamID)
		return
	}
	rs := t.recvStream(sf.StreamID)
	oldOffset, applied := rs.Flush(sf.Offset)
	// Any FLUSHSTREAM for this stream answers our own pending SKIP
	// request, if one was outstanding; harmless no-op otherwise.
	t.cancelSkipTimer(sf.StreamID)
	if !applied {
		// Stale FLUSHSTREAM: the peer is behind what we've already
		// delivered. Dropped without a reply.
		return
	}
	if t.delegate != nil {
		t.delegate.DidRecvFlushStream(t, sf.StreamID, oldOffset, sf.Offset)
	}
	if rs.Done() {
		delete(t.recvStreams, sf.StreamID)
		t.retiredRecv.add(sf.StreamID)
	}
	t.sendFlushConf(sf.StreamID)
}

func (t *Transport) sendFlushConf(streamID uint16) {
	frame := wire.EncodeFlushConf(t.srcConnID, t.dstConnID, streamID)
	t.sendRaw(frame)
}

func (t *Transport) handleFlushConf(hdr wire.Header, payload []byte) {
	if t.state != StateEstablished || !t.connIDsMatch(hdr) {
		return
	}
	sfr, err := wire.DecodeStream(hdr, payload)
	if err != nil {
		return
	}
	t.cancelFlushTimer(sfr.StreamID)
	if t.delegate != nil {
		t.delegate.DidRecvFlushConf(t, sfr.StreamID)
	}
}

func (t *Transport) onSkipTimer(ev timerEvent) {
	if ev.epoch != t.skipEpoch[ev.streamID] {
		return
	}
	rs, ok := t.recvStreams[ev.streamID]
	if !ok || !rs.WaitFlush {
		return
	}
	offset := rs.ReadOffset
	if end := rs.LastBufferedEnd(); end > offset {
		offset = end
	}
	t.sendSkipStream(ev.streamID, offset)
	t.armSkipTimer(ev.streamID)
}

func (t *Transport) onFlushTimer(ev timerEvent) {
	if ev.epoch != t.flushEpoch[ev.streamID] {
		return
	}
	floor, ok := t.flushFloor[ev.streamID]
	if !ok {
		return
	}
	t.sendFlushStream(ev.streamID, floor)
	t.armFlushTimer(ev.streamID)
}

func (t *Transport) cancelSkipTimer(streamID uint16) {
	delete(t.skipBackoff, streamID)
	t.skipEpoch[streamID]++
}

func (t *Transport) cancelFlushTimer(streamID uint16) {
	delete(t.flushBackoff, streamID)
	delete(t.flushFloor, streamID)
	t.flushEpoch[streamID]++
}
