// Package streamio implements the per-stream send/receive bookkeeping
// that sits between the application's byte-oriented Send/Read calls and
// the transport's packetizer: ordered enqueue with completion
// callbacks, acked-offset tracking via an outstanding-ack map, and
// out-of-order reassembly on the receive side. It generalizes the
// teacher's single combined Stream type (stream/stream.go) into the
// two-sided send/recv split the protocol calls for.
package streamio

// SendState is a SendStream's lifecycle position.
type SendState int

const (
	SendReady SendState = iota
	SendSending
	SendSent
	SendAcked
)

type sendItem struct {
	offset   uint64
	data     []byte
	sent     int
	complete func()
}

// SendStream tracks one stream's outbound byte sequence: an ordered
// queue of application-submitted buffers, how much of it has been
// handed to the packetizer, and how much of that is acked.
type SendStream struct {
	ID    uint16
	State SendState

	items    []*sendItem
	nextItem int

	QueueOffset   uint64
	SentOffset    uint64
	AckedOffset   uint64
	BytesInFlight uint64
	DoneQueueing  bool
	finSent       bool

	outstanding map[uint64]uint64
}

// NewSendStream constructs an empty SendStream ready for Enqueue.
func NewSendStream(id uint16) *SendStream {
	return &SendStream{
		ID:          id,
		outstanding: make(map[uint64]uint64),
	}
}

// Enqueue appends buf as a new DataItem at the current queue offset.
// onComplete, if non-nil, fires once every byte of buf has been
// contiguously acked.
func (s *SendStream) Enqueue(buf []byte, onComplete func()) {
	item := &sendItem{offset: s.QueueOffset, data: buf, complete: onComplete}
	s.items = append(s.items, item)
	s.QueueOffset += uint64(len(buf))
}

// Done marks that the application will enqueue no more data; once the
// last byte is packetized, the final fragment carries the FIN bit.
func (s *SendStream) Done() { s.DoneQueueing = true }

// HasSendable reports whether NextFragment would return data right now.
// A stream that finished queueing with every byte already handed off
// still needs one more (empty) fragment to carry the FIN bit.
func (s *SendStream) HasSendable() bool {
	for i := s.nextItem; i < len(s.items); i++ {
		if s.items[i].sent < len(s.items[i].data) {
			return true
		}
	}
	return s.DoneQueueing && !s.finSent && s.SentOffset == s.QueueOffset
}

// NextFragment returns up to maxLen bytes of the next unsent data,
// advancing internal cursors. ok is false if there is nothing sendable.
func (s *SendStream) NextFragment(maxLen int) (offset uint64, payload []byte, fin bool, ok bool) {
	for s.nextItem < len(s.items) && s.items[s.nextItem].sent >= len(s.items[s.nextItem].data) {
		s.nextItem++
	}
	if s.nextItem >= len(s.items) {
		if s.DoneQueueing && !s.finSent && s.SentOffset == s.QueueOffset {
			s.finSent = true
			s.State = SendSent
			return s.QueueOffset, nil, true, true
		}
		return 0, nil, false, false
	}

	item := s.items[s.nextItem]
	remaining := len(item.data) - item.sent
	n := remaining
	if maxLen > 0 && n > maxLen {
		n = maxLen
	}

	fragOffset := item.offset + uint64(item.sent)
	payload = item.data[item.sent : item.sent+n]
	item.sent += n
	if fragOffset+uint64(n) > s.SentOffset {
		s.SentOffset = fragOffset + uint64(n)
	}

	lastFragOfItem := item.sent == len(item.data)
	isLastItem := s.nextItem == len(s.items)-1
	fin = lastFragOfItem && isLastItem && s.DoneQueueing && s.SentOffset == s.QueueOffset

	if lastFragOfItem {
		s.nextItem++
	}
	if s.State == SendReady {
		s.State = SendSending
	}
	if fin {
		s.State = SendSent
		s.finSent = true
	}
	return fragOffset, payload, fin, true
}

// FragmentAt returns up to maxLen bytes starting at offset, drawn from
// whichever still-buffered item(s) cover it, for retransmitting a
// packet the packetizer already marked lost. Items are only discarded
// once fully acked (see releaseAcked), so any previously-sent offset
// remains available here. ok is false if offset is no longer buffered
// (already acked and released).
func (s *SendStream) FragmentAt(offset uint64, maxLen int) (payload []byte, fin bool, ok bool) {
	if offset == s.QueueOffset && s.DoneQueueing {
		// The lost packet was the trailing zero-length FIN fragment.
		return nil, true, true
	}
	for i, item := range s.items {
		itemEnd := item.offset + uint64(len(item.data))
		if offset < item.offset || offset >= itemEnd {
			continue
		}
		within := offset - item.offset
		remaining := len(item.data) - int(within)
		n := remaining
		if maxLen > 0 && n > maxLen {
			n = maxLen
		}
		payload = item.data[within : within+n]
		lastFragOfItem := within+n == len(item.data)
		isLastItem := i == len(s.items)-1
		fin = lastFragOfItem && isLastItem && s.DoneQueueing && offset+uint64(n) == s.QueueOffset
		return payload, fin, true
	}
	return nil, false, false
}

// OnAck folds an acknowledgement covering [offset, offset+length) into
// the acked-offset tracking, draining contiguous outstanding acks and
// releasing any fully-acked DataItems to their completion callbacks.
func (s *SendStream) OnAck(offset, length uint64) {
	end := offset + length
	switch {
	case offset == s.AckedOffset:
		s.AckedOffset = end
		s.drainOutstanding()
	case offset > s.AckedOffset:
		if existing, ok := s.outstanding[offset]; !ok || length > existing {
			s.outstanding[offset] = length
		}
	default:
		// offset < AckedOffset: stale/duplicate ack, nothing to do.
	}
	s.releaseAcked()
	if s.AckedOffset == s.QueueOffset && s.State == SendSent {
		s.State = SendAcked
	}
}

func (s *SendStream) drainOutstanding() {
	for {
		length, ok := s.outstanding[s.AckedOffset]
		if !ok {
			return
		}
		delete(s.outstanding, s.AckedOffset)
		s.AckedOffset += length
	}
}

func (s *SendStream) releaseAcked() {
	for len(s.items) > 0 {
		item := s.items[0]
		itemEnd := item.offset + uint64(len(item.data))
		if itemEnd > s.AckedOffset {
			return
		}
		if item.complete != nil {
			item.complete()
		}
		s.items = s.items[1:]
		if s.nextItem > 0 {
			s.nextItem--
		}
	}
}

// Flush implements the sender side of FLUSH: abandons every buffered
// item, forcing the stream fully acked as of max(target, AckedOffset)
// so already-acknowledged bytes are never un-acked by a lagging
// target. Returns the floor offset actually applied.
func (s *SendStream) Flush(target uint64) uint64 {
	floor := target
	if s.AckedOffset > floor {
		floor = s.AckedOffset
	}
	s.items = nil
	s.nextItem = 0
	s.outstanding = make(map[uint64]uint64)
	s.QueueOffset = floor
	s.SentOffset = floor
	s.AckedOffset = floor
	s.BytesInFlight = 0
	s.State = SendAcked
	return floor
}

// Acked reports whether every enqueued byte has been acked and no more
// will be enqueued — the transport's cue to remove this stream.
func (s *SendStream) Acked() bool { return s.State == SendAcked }

// UnsentAndUnacked returns the bytes still owed to the peer: enqueued
// but not yet acked, used to enforce the 20MB per-stream send backlog
// limit.
func (s *SendStream) UnsentAndUnacked() uint64 { return s.QueueOffset - s.AckedOffset }
