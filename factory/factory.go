// Package factory implements TransportFactory: the datagram endpoint a
// process shares across every peer connection, demultiplexing inbound
// datagrams by source address to the owning transport.Transport and
// creating new ones on accept or dial. Grounded on sockatz/common/
// conn.go's QUICProxyConn, which plays the same shared-socket role for
// a single quic-go connection; here the same address-keyed dispatch is
// generalized to a whole map of peer transports.
package factory

import (
	"fmt"
	"net"
	"sync"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/xendarboh/strand/scrypto"
	"github.com/xendarboh/strand/transport"
)

// PacketConn is the south-facing datagram socket a Factory multiplexes
// over; *net.UDPConn satisfies it directly.
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	Close() error
}

// ListenDelegate decides whether to accept an inbound datagram from an
// address this Factory has never seen, and supplies the per-transport
// Delegate for the transport it creates.
type ListenDelegate interface {
	ShouldAccept(addr string) bool
	NewDelegate(addr string) transport.Delegate
}

type inboundDatagram struct {
	b    []byte
	addr string
}

// Factory owns one shared PacketConn and the peer-address -> Transport
// map; see endpoint (datagram.go) for the per-transport south-facing
// adapter this hands each Transport it creates.
type Factory struct {
	conn   PacketConn
	static scrypto.KeyPair
	log    transport.Logger
	listen ListenDelegate

	mu         sync.Mutex
	transports map[string]*transport.Transport
	addrs      map[string]net.Addr

	inbound *channels.InfiniteChannel
	done    chan struct{}
}

// New constructs a Factory bound to conn, using localStatic as every
// transport's long-term identity keypair.
func New(conn PacketConn, localStatic scrypto.KeyPair, log transport.Logger) *Factory {
	return &Factory{
		conn:       conn,
		static:     localStatic,
		log:        log,
		transports: make(map[string]*transport.Transport),
		addrs:      make(map[string]net.Addr),
		inbound:    channels.NewInfiniteChannel(),
		done:       make(chan struct{}),
	}
}

// Listen registers delegate as the accept policy for inbound datagrams
// from unrecognized peers, and starts the socket reader and dispatch
// goroutines.
func (f *Factory) Listen(delegate ListenDelegate) {
	f.listen = delegate
	go f.readLoop()
	go f.dispatchLoop()
}

// readLoop is the only goroutine that touches f.conn.ReadFrom; it does
// nothing but copy bytes off the wire and hand them to the unbounded
// inbound queue, so a transport whose dispatch loop is momentarily busy
// can never cause a dropped or delayed read on the shared socket.
func (f *Factory) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := f.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			if f.log != nil {
				f.log.Warnf("factory: read failed: %v", err)
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		f.inbound.In() <- inboundDatagram{b: cp, addr: addr.String()}
		f.mu.Lock()
		f.addrs[addr.String()] = addr
		f.mu.Unlock()
	}
}

// dispatchLoop drains the inbound queue on its own goroutine, separate
// from readLoop above, so routing to a transport (a channel send that
// blocks only as long as that transport's own dispatch loop is busy)
// never backs up the socket reader.
func (f *Factory) dispatchLoop() {
	for v := range f.inbound.Out() {
		dg := v.(inboundDatagram)
		f.onDatagram(dg.b, dg.addr)
	}
}

func (f *Factory) onDatagram(b []byte, addr string) {
	f.mu.Lock()
	t, ok := f.transports[addr]
	if !ok {
		if f.listen == nil || !f.listen.ShouldAccept(addr) {
			f.mu.Unlock()
			return
		}
		var err error
		t, err = f.newTransportLocked(addr, f.listen.NewDelegate(addr))
		if err != nil {
			f.mu.Unlock()
			if f.log != nil {
				f.log.Errorf("factory: failed to create transport for %s: %v", addr, err)
			}
			return
		}
	}
	f.mu.Unlock()
	t.OnDatagram(b)
}

// newTransportLocked must be called with f.mu held.
func (f *Factory) newTransportLocked(addr string, delegate transport.Delegate) (*transport.Transport, error) {
	if delegate == nil {
		delegate = transport.NopDelegate{}
	}
	ep := &endpoint{factory: f, addr: addr}
	wrapped := &closeTrackingDelegate{Delegate: delegate, factory: f, addr: addr}
	t, err := transport.New(addr, ep, f.static, wrapped, f.log)
	if err != nil {
		return nil, err
	}
	f.transports[addr] = t
	t.Start()
	return t, nil
}

// Dial creates a Transport toward addr (in Listen state) and begins the
// handshake, setting remoteStatic as the expected peer identity. If a
// transport toward addr already exists, it is returned unchanged.
func (f *Factory) Dial(addr string, remoteStatic [32]byte, delegate transport.Delegate) (*transport.Transport, error) {
	netAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("factory: resolve %s: %w", addr, err)
	}

	f.mu.Lock()
	if t, ok := f.transports[addr]; ok {
		f.mu.Unlock()
		return t, nil
	}
	f.addrs[addr] = netAddr
	t, err := f.newTransportLocked(addr, delegate)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := t.Dial(remoteStatic); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransport returns the Transport currently mapped to addr, if any.
func (f *Factory) GetTransport(addr string) (*transport.Transport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transports[addr]
	return t, ok
}

// Peers returns the addresses of every currently-mapped transport.
func (f *Factory) Peers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.transports))
	for addr := range f.transports {
		out = append(out, addr)
	}
	return out
}

// remove drops addr from the peer map, per spec: "on close of a
// transport, remove from the map." Called from closeTrackingDelegate
// once a transport's DidClose fires.
func (f *Factory) remove(addr string) {
	f.mu.Lock()
	delete(f.transports, addr)
	f.mu.Unlock()
}

func (f *Factory) sendTo(addr string, b []byte) error {
	f.mu.Lock()
	netAddr, ok := f.addrs[addr]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("factory: no known address for peer %s", addr)
	}
	_, err := f.conn.WriteTo(b, netAddr)
	return err
}

// Close shuts down every owned transport and the underlying socket.
func (f *Factory) Close() error {
	close(f.done)
	f.inbound.Close()
	f.mu.Lock()
	transports := make([]*transport.Transport, 0, len(f.transports))
	for _, t := range f.transports {
		transports = append(transports, t)
	}
	f.mu.Unlock()
	for _, t := range transports {
		t.Shutdown()
	}
	return f.conn.Close()
}

// closeTrackingDelegate wraps an application Delegate so the Factory
// always hears DidClose first and can drop its peer-map entry, then
// forwards the call through to the application's own delegate.
type closeTrackingDelegate struct {
	transport.Delegate
	factory *Factory
	addr    string
}

func (d *closeTrackingDelegate) DidClose(t *transport.Transport, reason uint16) {
	d.factory.remove(d.addr)
	if d.Delegate != nil {
		d.Delegate.DidClose(t, reason)
	}
}
