package factory_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xendarboh/strand/factory"
	"github.com/xendarboh/strand/scrypto"
	"github.com/xendarboh/strand/transport"
)

type acceptAllDelegate struct {
	created chan string
}

func (d *acceptAllDelegate) ShouldAccept(addr string) bool { return true }
func (d *acceptAllDelegate) NewDelegate(addr string) transport.Delegate {
	return &recordingDelegate{addr: addr, created: d.created}
}

type recordingDelegate struct {
	transport.NopDelegate
	addr    string
	created chan string
	recv    chan []byte
}

func (d *recordingDelegate) DidCreateTransport(t *transport.Transport) {
	select {
	case d.created <- d.addr:
	default:
	}
}

func newUDPConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return conn
}

func TestDialCreatesTransportAndListenerAccepts(t *testing.T) {
	serverKeys, err := scrypto.GenerateKeyPair()
	require.NoError(t, err)
	clientKeys, err := scrypto.GenerateKeyPair()
	require.NoError(t, err)

	serverConn := newUDPConn(t)
	clientConn := newUDPConn(t)
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	serverFactory := factory.New(serverConn, serverKeys, nil)
	clientFactory := factory.New(clientConn, clientKeys, nil)
	t.Cleanup(func() { serverFactory.Close(); clientFactory.Close() })

	created := make(chan string, 4)
	serverFactory.Listen(&acceptAllDelegate{created: created})
	clientFactory.Listen(&acceptAllDelegate{created: created})

	recvCh := make(chan struct{ streamID uint16 }, 1)
	clientDelegate := &recordingDelegate{addr: serverConn.LocalAddr().String(), created: created}
	tr, err := clientFactory.Dial(serverConn.LocalAddr().String(), serverKeys.Public, clientDelegate)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tr.IsActive() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, tr.IsActive())

	_, ok := serverFactory.GetTransport(clientConn.LocalAddr().String())
	require.True(t, ok)
	_ = recvCh
}

func TestSnapshotReflectsTransportState(t *testing.T) {
	serverKeys, err := scrypto.GenerateKeyPair()
	require.NoError(t, err)
	clientKeys, err := scrypto.GenerateKeyPair()
	require.NoError(t, err)

	serverConn := newUDPConn(t)
	clientConn := newUDPConn(t)
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	serverFactory := factory.New(serverConn, serverKeys, nil)
	clientFactory := factory.New(clientConn, clientKeys, nil)
	t.Cleanup(func() { serverFactory.Close(); clientFactory.Close() })

	serverFactory.Listen(&acceptAllDelegate{created: make(chan string, 4)})
	clientFactory.Listen(&acceptAllDelegate{created: make(chan string, 4)})

	addr := serverConn.LocalAddr().String()
	tr, err := clientFactory.Dial(addr, serverKeys.Public, nil)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !tr.IsActive() {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, tr.IsActive())

	snap, ok := clientFactory.Snapshot(addr)
	require.True(t, ok)
	require.Equal(t, addr, snap.PeerAddr)
	require.Equal(t, "established", snap.State)

	cborBytes, err := snap.EncodeCBOR()
	require.NoError(t, err)
	decoded, err := factory.DecodeSnapshotCBOR(cborBytes)
	require.NoError(t, err)
	require.Equal(t, snap, decoded)

	msgpackBytes, err := snap.EncodeMsgpack()
	require.NoError(t, err)
	decodedMsgpack, err := factory.DecodeSnapshotMsgpack(msgpackBytes)
	require.NoError(t, err)
	require.Equal(t, snap, decodedMsgpack)
}
