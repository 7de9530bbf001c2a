package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xendarboh/strand/scrypto"
	"github.com/xendarboh/strand/transport"
)

// pipeEndpoint wires one Transport's outbound datagrams directly into
// its peer's OnDatagram, standing in for a real UDP socket in tests.
type pipeEndpoint struct {
	to *transport.Transport
}

func (p *pipeEndpoint) Send(b []byte, dstAddr string) error {
	cp := append([]byte(nil), b...)
	p.to.OnDatagram(cp)
	return nil
}

type recvEvent struct {
	streamID uint16
	data     []byte
}

type testDelegate struct {
	transport.NopDelegate
	dialed    chan struct{}
	recv      chan recvEvent
	closed    chan uint16
	skip      chan uint16
	flush     chan [2]uint64
	flushConf chan uint16
}

func newTestDelegate() *testDelegate {
	return &testDelegate{
		dialed:    make(chan struct{}, 1),
		recv:      make(chan recvEvent, 64),
		closed:    make(chan uint16, 1),
		skip:      make(chan uint16, 1),
		flush:     make(chan [2]uint64, 1),
		flushConf: make(chan uint16, 1),
	}
}

func (d *testDelegate) DidDial(t *transport.Transport) { d.dialed <- struct{}{} }
func (d *testDelegate) DidRecv(t *transport.Transport, streamID uint16, data []byte) {
	cp := append([]byte(nil), data...)
	d.recv <- recvEvent{streamID: streamID, data: cp}
}
func (d *testDelegate) DidClose(t *transport.Transport, reason uint16) { d.closed <- reason }
func (d *testDelegate) DidRecvSkipStream(t *transport.Transport, streamID uint16) {
	d.skip <- streamID
}
func (d *testDelegate) DidRecvFlushStream(t *transport.Transport, streamID uint16, oldOffset, newOffset uint64) {
	d.flush <- [2]uint64{oldOffset, newOffset}
}
func (d *testDelegate) DidRecvFlushConf(t *transport.Transport, streamID uint16) {
	d.flushConf <- streamID
}

func newPair(t *testing.T) (a, b *transport.Transport, ad, bd *testDelegate) {
	t.Helper()
	aKeys, err := scrypto.GenerateKeyPair()
	require.NoError(t, err)
	bKeys, err := scrypto.GenerateKeyPair()
	require.NoError(t, err)

	ad = newTestDelegate()
	bd = newTestDelegate()
	aEp := &pipeEndpoint{}
	bEp := &pipeEndpoint{}

	a, err = transport.New("b", aEp, aKeys, ad, nil)
	require.NoError(t, err)
	b, err = transport.New("a", bEp, bKeys, bd, nil)
	require.NoError(t, err)
	aEp.to, bEp.to = b, a

	a.Start()
	b.Start()
	t.Cleanup(func() {
		a.Shutdown()
		b.Shutdown()
	})
	return a, b, ad, bd
}

func waitEstablished(t *testing.T, tr *transport.Transport) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tr.State() == transport.StateEstablished {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("transport never reached established state (stuck at %s)", tr.State())
}

func TestHandshakeEstablishesBothSides(t *testing.T) {
	a, b, _, bd := newPair(t)
	require.NoError(t, b.Dial(a.StaticPublicKey()))

	select {
	case <-bd.dialed:
	case <-time.After(5 * time.Second):
		t.Fatal("DidDial never fired on dialer")
	}
	waitEstablished(t, a)
	require.True(t, a.IsActive())
	require.True(t, b.IsActive())
}

func TestEchoSmallMessage(t *testing.T) {
	a, b, ad, _ := newPair(t)
	require.NoError(t, b.Dial(a.StaticPublicKey()))
	waitEstablished(t, a)
	waitEstablished(t, b)

	msg := []byte("hello from b")
	require.Equal(t, transport.SendOK, b.Send(1, msg))

	select {
	case ev := <-ad.recv:
		require.Equal(t, uint16(1), ev.streamID)
		require.Equal(t, msg, ev.data)
	case <-time.After(5 * time.Second):
		t.Fatal("a never received b's message")
	}
}

func TestFragmentationReassemblesInOrder(t *testing.T) {
	a, b, ad, _ := newPair(t)
	require.NoError(t, b.Dial(a.StaticPublicKey()))
	waitEstablished(t, a)
	waitEstablished(t, b)

	big := make([]byte, transport.DefaultFragmentSize*3+500)
	for i := range big {
		big[i] = byte(i)
	}
	require.Equal(t, transport.SendOK, b.Send(7, big))

	received := make([]byte, 0, len(big))
	deadline := time.After(5 * time.Second)
	for len(received) < len(big) {
		select {
		case ev := <-ad.recv:
			require.Equal(t, uint16(7), ev.streamID)
			received = append(received, ev.data...)
		case <-deadline:
			t.Fatalf("timed out with %d/%d bytes reassembled", len(received), len(big))
		}
	}
	require.Equal(t, big, received)
}

func TestMultipleStreamsAreIndependentlyDelivered(t *testing.T) {
	a, b, ad, _ := newPair(t)
	require.NoError(t, b.Dial(a.StaticPublicKey()))
	waitEstablished(t, a)
	waitEstablished(t, b)

	require.Equal(t, transport.SendOK, b.Send(1, []byte("stream one")))
	require.Equal(t, transport.SendOK, b.Send(2, []byte("stream two")))

	seen := map[uint16]string{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ad.recv:
			seen[ev.streamID] = string(ev.data)
		case <-time.After(5 * time.Second):
			t.Fatalf("only received %d of 2 stream messages", i)
		}
	}
	require.Equal(t, "stream one", seen[1])
	require.Equal(t, "stream two", seen[2])
}

func TestSendBeforeEstablishedIsRejected(t *testing.T) {
	a, _, _, _ := newPair(t)
	require.Equal(t, transport.SendNotEstablished, a.Send(1, []byte("too early")))
}

func TestCloseFiresDidCloseOnBothSides(t *testing.T) {
	a, b, ad, bd := newPair(t)
	require.NoError(t, b.Dial(a.StaticPublicKey()))
	waitEstablished(t, a)
	waitEstablished(t, b)

	b.Close(transport.CloseReasonNormal)

	select {
	case reason := <-bd.closed:
		require.Equal(t, transport.CloseReasonNormal, reason)
	case <-time.After(5 * time.Second):
		t.Fatal("closing side never saw DidClose")
	}
	select {
	case reason := <-ad.closed:
		require.Equal(t, transport.CloseReasonNormal, reason)
	case <-time.After(5 * time.Second):
		t.Fatal("peer never saw DidClose")
	}
}

func TestSkipStreamFlowRunsFlushRoundTrip(t *testing.T) {
	a, b, ad, bd := newPair(t)
	require.NoError(t, b.Dial(a.StaticPublicKey()))
	waitEstablished(t, a)
	waitEstablished(t, b)

	// b sends a backlog on stream 9, then a gives up on reading it.
	require.Equal(t, transport.SendOK, b.Send(9, []byte("payload a does not want")))
	a.SkipStream(9)

	select {
	case streamID := <-bd.skip:
		require.Equal(t, uint16(9), streamID)
	case <-time.After(5 * time.Second):
		t.Fatal("b never saw DidRecvSkipStream")
	}
	select {
	case <-ad.flush:
	case <-time.After(5 * time.Second):
		t.Fatal("a never saw DidRecvFlushStream")
	}
	select {
	case streamID := <-bd.flushConf:
		require.Equal(t, uint16(9), streamID)
	case <-time.After(5 * time.Second):
		t.Fatal("b never saw DidRecvFlushConf")
	}
}

func TestFlushStreamSenderInitiated(t *testing.T) {
	a, b, ad, bd := newPair(t)
	require.NoError(t, b.Dial(a.StaticPublicKey()))
	waitEstablished(t, a)
	waitEstablished(t, b)

	require.Equal(t, transport.SendOK, b.Send(3, []byte("abandon this")))
	b.FlushStream(3)

	select {
	case <-ad.flush:
	case <-time.After(5 * time.Second):
		t.Fatal("a never saw DidRecvFlushStream from sender-initiated flush")
	}
	select {
	case streamID := <-bd.flushConf:
		require.Equal(t, uint16(3), streamID)
	case <-time.After(5 * time.Second):
		t.Fatal("b never saw DidRecvFlushConf")
	}
}
