package streamio

import "sort"

// RecvState is a RecvStream's lifecycle position.
type RecvState int

const (
	RecvOpen RecvState = iota
	RecvSizeKnown
	RecvAllRecv
	RecvRead
)

type recvPacket struct {
	offset uint64
	data   []byte
}

// DeliverFunc hands a contiguous, in-order chunk to the application. A
// negative return aborts further reorder-buffer draining for this call.
type DeliverFunc func(offset uint64, data []byte) int

// RecvStream tracks one stream's inbound byte sequence: an
// out-of-order reassembly buffer and the contiguous read offset
// delivered to the application.
type RecvStream struct {
	ID         uint16
	State      RecvState
	ReadOffset uint64
	Size       uint64
	WaitFlush  bool

	sizeKnown  bool
	highestEnd uint64
	packets    []*recvPacket
	deliver    DeliverFunc
}

// NewRecvStream constructs an empty RecvStream that calls deliver for
// every contiguous chunk it can assemble.
func NewRecvStream(id uint16, deliver DeliverFunc) *RecvStream {
	return &RecvStream{ID: id, deliver: deliver}
}

// OnData folds a received fragment into the stream. fin marks this as
// the final fragment, fixing the stream's total Size.
func (s *RecvStream) OnData(offset uint64, payload []byte, fin bool) {
	length := uint64(len(payload))
	if fin {
		s.Size = offset + length
		s.sizeKnown = true
		if s.State == RecvOpen {
			s.State = RecvSizeKnown
		}
	}
	if end := offset + length; end > s.highestEnd {
		s.highestEnd = end
	}

	if s.State == RecvAllRecv || s.State == RecvRead || s.WaitFlush {
		s.checkRead()
		return
	}

	end := offset + length
	switch {
	case end <= s.ReadOffset:
		// Stale duplicate (including a late FIN); already accounted for.
	case offset <= s.ReadOffset && s.ReadOffset < end:
		skip := s.ReadOffset - offset
		if s.deliverChunk(s.ReadOffset, payload[skip:]) {
			s.drainBuffer()
		}
	default:
		s.buffer(offset, payload)
	}
	s.checkRead()
}

func (s *RecvStream) deliverChunk(offset uint64, data []byte) bool {
	if len(data) == 0 {
		return true
	}
	ret := 0
	if s.deliver != nil {
		ret = s.deliver(offset, data)
	}
	s.ReadOffset += uint64(len(data))
	return ret >= 0
}

func (s *RecvStream) buffer(offset uint64, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	i := sort.Search(len(s.packets), func(i int) bool { return s.packets[i].offset >= offset })
	if i < len(s.packets) && s.packets[i].offset == offset {
		if len(cp) > len(s.packets[i].data) {
			s.packets[i].data = cp
		}
		return
	}
	s.packets = append(s.packets, nil)
	copy(s.packets[i+1:], s.packets[i:])
	s.packets[i] = &recvPacket{offset: offset, data: cp}
}

func (s *RecvStream) drainBuffer() {
	for len(s.packets) > 0 {
		p := s.packets[0]
		end := p.offset + uint64(len(p.data))
		if end <= s.ReadOffset {
			s.packets = s.packets[1:]
			continue
		}
		if p.offset > s.ReadOffset {
			return
		}
		skip := s.ReadOffset - p.offset
		s.packets = s.packets[1:]
		if !s.deliverChunk(s.ReadOffset, p.data[skip:]) {
			return
		}
	}
}

// checkRead transitions AllRecv/Read per the stream's known Size:
// AllRecv once every byte below Size has been received (delivered or
// contiguous in the reorder buffer), Read once all of them are delivered.
func (s *RecvStream) checkRead() {
	if !s.sizeKnown {
		return
	}
	if s.ReadOffset == s.Size {
		s.State = RecvRead
		return
	}
	if s.highestEnd >= s.Size && s.State == RecvSizeKnown {
		next := s.ReadOffset
		for _, p := range s.packets {
			if p.offset > next {
				break
			}
			if end := p.offset + uint64(len(p.data)); end > next {
				next = end
			}
		}
		if next >= s.Size {
			s.State = RecvAllRecv
		}
	}
}

// Done reports whether every byte has been delivered to the
// application — the transport's cue to remove this stream.
func (s *RecvStream) Done() bool { return s.State == RecvRead }

// LastBufferedEnd returns the highest offset+length seen, in the
// reorder buffer or already delivered — used by the SKIP path to choose
// an offset that never loses already-received bytes.
func (s *RecvStream) LastBufferedEnd() uint64 {
	if len(s.packets) == 0 {
		return s.ReadOffset
	}
	last := s.packets[len(s.packets)-1]
	end := last.offset + uint64(len(last.data))
	if end > s.ReadOffset {
		return end
	}
	return s.ReadOffset
}

// Flush implements the receiver side of FLUSHSTREAM: clears the
// reorder buffer and jumps ReadOffset forward to offset, provided
// offset is newer than what's already been delivered. Returns the old
// ReadOffset and whether the flush was applied (false if offset was
// stale and the frame should be dropped without a reply).
func (s *RecvStream) Flush(offset uint64) (oldOffset uint64, applied bool) {
	if offset <= s.ReadOffset {
		return s.ReadOffset, false
	}
	old := s.ReadOffset
	s.packets = nil
	s.ReadOffset = offset
	s.WaitFlush = false
	s.checkRead()
	return old, true
}
