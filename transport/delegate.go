package transport

// Endpoint is the south-facing datagram transport this package
// consumes: a send-bytes-to-address primitive. OnDatagram is how the
// owning Factory feeds inbound datagrams back in; Endpoint itself never
// calls it.
type Endpoint interface {
	Send(b []byte, dstAddr string) error
}

// Delegate receives the north-facing application callbacks a
// StreamTransport fires over its lifetime.
type Delegate interface {
	DidCreateTransport(t *Transport)
	DidDial(t *Transport)
	DidRecv(t *Transport, streamID uint16, data []byte)
	DidSend(t *Transport, streamID uint16, n int)
	DidClose(t *Transport, reason uint16)
	DidRecvSkipStream(t *Transport, streamID uint16)
	DidRecvFlushStream(t *Transport, streamID uint16, oldOffset, newOffset uint64)
	DidRecvFlushConf(t *Transport, streamID uint16)
}

// NopDelegate is a Delegate whose callbacks do nothing, embeddable by
// callers that only care about a subset of the interface.
type NopDelegate struct{}

func (NopDelegate) DidCreateTransport(*Transport)                        {}
func (NopDelegate) DidDial(*Transport)                                   {}
func (NopDelegate) DidRecv(*Transport, uint16, []byte)                   {}
func (NopDelegate) DidSend(*Transport, uint16, int)                      {}
func (NopDelegate) DidClose(*Transport, uint16)                          {}
func (NopDelegate) DidRecvSkipStream(*Transport, uint16)                 {}
func (NopDelegate) DidRecvFlushStream(*Transport, uint16, uint64, uint64) {}
func (NopDelegate) DidRecvFlushConf(*Transport, uint16)                  {}
