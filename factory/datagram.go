package factory

import "github.com/xendarboh/strand/transport"

// endpoint is the per-transport adapter satisfying transport.Endpoint,
// routing every Send back through the Factory's single shared
// PacketConn keyed by the transport's own peer address. Grounded on
// sockatz/common/conn.go's WriteTo(payload, addr net.Addr) pairing,
// generalized here to a string-addressed peer rather than a single
// bound net.Addr.
type endpoint struct {
	factory *Factory
	addr    string
}

var _ transport.Endpoint = (*endpoint)(nil)

func (e *endpoint) Send(b []byte, dstAddr string) error {
	return e.factory.sendTo(dstAddr, b)
}
