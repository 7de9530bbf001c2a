package transport

import "time"

func deadline(d time.Duration) uint64 {
	return uint64(time.Now().Add(d).UnixNano())
}

func (t *Transport) onTimer(ev timerEvent) {
	switch ev.kind {
	case timerHandshake:
		t.onHandshakeTimer(ev)
	case timerTLP:
		t.onTLPTimer(ev)
	case timerAckDelay:
		t.onAckDelayTimer()
	case timerPacing:
		t.onPacingTimer()
	case timerClose:
		t.onCloseTimer(ev)
	case timerSkip:
		t.onSkipTimer(ev)
	case timerFlush:
		t.onFlushTimer(ev)
	}
}

func (t *Transport) armAckDelayTimer() {
	if t.ackArmed {
		return
	}
	t.ackArmed = true
	t.tq.Push(deadline(AckDelay), timerEvent{kind: timerAckDelay})
}

func (t *Transport) onAckDelayTimer() {
	t.ackArmed = false
	t.sendAck()
}

func (t *Transport) armPacingTimer(delay time.Duration) {
	if t.pacingArmed {
		return
	}
	t.pacingArmed = true
	t.tq.Push(deadline(delay), timerEvent{kind: timerPacing})
}

func (t *Transport) armTLPTimer() {
	next, exceeded := backoffNext(t.tlpInterval, TLPInitialInterval, TLPMaxInterval)
	if exceeded {
		t.fail(newTLPTimeoutError("tlp timer for %s exceeded cap with outstanding work", t.peerAddr))
		return
	}
	t.tlpInterval = next
	t.tlpEpoch++
	t.tq.Push(deadline(next), timerEvent{kind: timerTLP, epoch: t.tlpEpoch})
}

func (t *Transport) cancelTLPTimer() {
	t.tlpInterval = 0
	t.tlpEpoch++
}

func (t *Transport) armCloseTimer() {
	next, exceeded := backoffNext(t.closeBackoff, CloseInitialBackoff, CloseMaxBackoff)
	if exceeded {
		t.fail(newCloseTimeoutError("close handshake with %s timed out", t.peerAddr))
		return
	}
	t.closeBackoff = next
	t.closeEpoch++
	t.tq.Push(deadline(next), timerEvent{kind: timerClose, epoch: t.closeEpoch})
}

func (t *Transport) onCloseTimer(ev timerEvent) {
	if ev.epoch != t.closeEpoch || t.state != StateClosing {
		return
	}
	t.sendClose()
	t.armCloseTimer()
}

func (t *Transport) armSkipTimer(streamID uint16) {
	next, exceeded := backoffNext(t.skipBackoff[streamID], SkipFlushInitialBackoff, SkipFlushMaxBackoff)
	if exceeded {
		t.fail(newSkipTimeoutError("skip_stream(%d) to %s timed out", streamID, t.peerAddr))
		return
	}
	t.skipBackoff[streamID] = next
	t.skipEpoch[streamID]++
	t.tq.Push(deadline(next), timerEvent{kind: timerSkip, streamID: streamID, epoch: t.skipEpoch[streamID]})
}

func (t *Transport) armFlushTimer(streamID uint16) {
	next, exceeded := backoffNext(t.flushBackoff[streamID], SkipFlushInitialBackoff, SkipFlushMaxBackoff)
	if exceeded {
		t.fail(newFlushTimeoutError("flush_stream(%d) to %s timed out", streamID, t.peerAddr))
		return
	}
	t.flushBackoff[streamID] = next
	t.flushEpoch[streamID]++
	t.tq.Push(deadline(next), timerEvent{kind: timerFlush, streamID: streamID, epoch: t.flushEpoch[streamID]})
}
