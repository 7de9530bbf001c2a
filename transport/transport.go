// Package transport implements StreamTransport: one instance per peer,
// owning the connection state machine, the handshake and retry timers,
// the congestion-controlled packetizer, and the multiplexed set of
// send/recv streams. It generalizes the single-threaded-cooperative
// dispatch loop the teacher's client2/connection.go drives — one
// goroutine, one select, over datagrams/commands/timers — onto the
// protocol this package implements instead of the teacher's own wire
// format.
package transport

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/xendarboh/strand/ack"
	"github.com/xendarboh/strand/congestion"
	"github.com/xendarboh/strand/internal/timerqueue"
	"github.com/xendarboh/strand/internal/worker"
	"github.com/xendarboh/strand/scrypto"
	"github.com/xendarboh/strand/streamio"
	"github.com/xendarboh/strand/wire"
)

// ConnState is the connection handshake/lifecycle state.
type ConnState int

const (
	StateListen ConnState = iota
	StateDialSent
	StateDialRcvd
	StateEstablished
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateListen:
		return "listen"
	case StateDialSent:
		return "dial_sent"
	case StateDialRcvd:
		return "dial_rcvd"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// DefaultFragmentSize keeps a DATA frame's ciphertext within a safe
	// MTU after a 30-byte header and a 16-byte AEAD tag.
	DefaultFragmentSize = 1350
	// DefaultPacingLimit is the per-pacing-tick byte batch cap.
	DefaultPacingLimit = 400_000
	// MaxSendBacklog is the per-stream unsent+unacked byte limit.
	MaxSendBacklog = 20 * 1024 * 1024
	// AckDelay is how long a newly-received DATA frame waits before an
	// ACK is sent, coalescing multiple arrivals into one frame.
	AckDelay = 25 * time.Millisecond
	// LossThreshold is how far behind the most recently acked packet's
	// sent time another outstanding packet must be to be declared lost.
	LossThreshold = 50 * time.Millisecond
	// HandshakeInitialBackoff/HandshakeMaxBackoff bound the DIAL/
	// DIALCONF retry schedule.
	HandshakeInitialBackoff = 1 * time.Second
	HandshakeMaxBackoff     = 64 * time.Second
	// CloseInitialBackoff/CloseMaxBackoff bound the CLOSE retry schedule.
	CloseInitialBackoff = 1 * time.Second
	CloseMaxBackoff     = 8 * time.Second
	// SkipFlushInitialBackoff/SkipFlushMaxBackoff bound SKIPSTREAM and
	// FLUSHSTREAM retries.
	SkipFlushInitialBackoff = 1 * time.Second
	SkipFlushMaxBackoff     = 64 * time.Second
	// TLPInitialInterval/TLPMaxInterval bound the tail-loss-probe timer.
	TLPInitialInterval = 1 * time.Second
	TLPMaxInterval     = 25 * time.Second

	// AckRangeEncodeCap is how many ranges a single outgoing ACK frame
	// encodes.
	AckRangeEncodeCap = ack.DefaultEncodeCap
)

type sentPacketInfo struct {
	sentTime time.Time
	streamID uint16
	offset   uint64
	length   uint64
	fin      bool
}

type timerKind int

const (
	timerHandshake timerKind = iota
	timerTLP
	timerAckDelay
	timerPacing
	timerClose
	timerSkip
	timerFlush
)

type timerEvent struct {
	kind     timerKind
	streamID uint16
	epoch    uint64 // invalidates a stale fire if the relevant state has moved on
}

// Transport is one peer connection: handshake state, crypto contexts,
// the multiplexed set of streams, and the packetizer/congestion/ack
// machinery that drives them. All exported methods are safe to call
// from any goroutine; internally every state mutation happens on a
// single dispatch goroutine, so the business logic itself never needs
// to lock.
type Transport struct {
	worker.Worker

	endpoint Endpoint
	peerAddr string
	delegate Delegate
	log      Logger

	staticPriv      [32]byte
	staticPub       [32]byte
	remoteStaticPub [32]byte
	haveRemoteKey   bool
	ephemeral       scrypto.KeyPair
	remoteEphemeral [32]byte

	txCipher *scrypto.Cipher
	rxCipher *scrypto.Cipher
	rxSeen   *scrypto.NonceFilter

	state       ConnState
	dialled     bool
	srcConnID   uint32
	dstConnID   uint32
	closeReason uint16

	sendStreams map[uint16]*streamio.SendStream
	recvStreams map[uint16]*streamio.RecvStream
	sendQueue   []uint16
	retiredRecv *retiredStreams
	retiredSend *retiredStreams

	nextPacketNumber uint64
	sentPackets      map[uint64]*sentPacketInfo
	lostPackets      map[uint64]*sentPacketInfo
	bytesInFlight    uint64

	cc  *congestion.Controller
	rtt congestion.RTTEstimator

	recvAcks    ack.Ranges
	ackArmed    bool
	pacingArmed bool

	handshakeBackoff time.Duration
	handshakeEpoch   uint64
	closeBackoff     time.Duration
	closeEpoch       uint64
	tlpInterval      time.Duration
	tlpEpoch         uint64

	skipBackoff  map[uint16]time.Duration
	flushBackoff map[uint16]time.Duration
	skipEpoch    map[uint16]uint64
	flushEpoch   map[uint16]uint64
	flushFloor   map[uint16]uint64

	tq     *timerqueue.TimerQueue
	inCh   chan []byte
	cmdCh  chan func()
	timeCh chan timerEvent

	mu sync.Mutex // not locked by any Transport method
}

// Logger is the minimal structured-logging surface Transport needs;
// *log.Logger from github.com/charmbracelet/log satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// New constructs a Transport in Listen state, bound to peerAddr and
// endpoint, with localStatic as this side's long-term identity keypair.
func New(peerAddr string, endpoint Endpoint, localStatic scrypto.KeyPair, delegate Delegate, log Logger) (*Transport, error) {
	eph, err := scrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = nopLogger{}
	}
	t := &Transport{
		endpoint:    endpoint,
		peerAddr:    peerAddr,
		delegate:    delegate,
		log:         log,
		staticPriv:  localStatic.Private,
		staticPub:   localStatic.Public,
		ephemeral:   eph,
		state:       StateListen,
		sendStreams: make(map[uint16]*streamio.SendStream),
		recvStreams: make(map[uint16]*streamio.RecvStream),
		retiredRecv: newRetiredStreams(),
		retiredSend: newRetiredStreams(),
		sentPackets: make(map[uint64]*sentPacketInfo),
		lostPackets: make(map[uint64]*sentPacketInfo),
		cc:          congestion.NewController(),
		skipBackoff: make(map[uint16]time.Duration),
		flushBackoff: make(map[uint16]time.Duration),
		skipEpoch:    make(map[uint16]uint64),
		flushEpoch:   make(map[uint16]uint64),
		flushFloor:   make(map[uint16]uint64),
		inCh:         make(chan []byte, 64),
		cmdCh:        make(chan func(), 16),
		timeCh:       make(chan timerEvent, 16),
	}
	t.tq = timerqueue.NewTimerQueue(func(v interface{}) {
		if ev, ok := v.(timerEvent); ok {
			select {
			case t.timeCh <- ev:
			case <-t.HaltCh():
			}
		}
	})
	if delegate != nil {
		delegate.DidCreateTransport(t)
	}
	return t, nil
}

// Start launches the background dispatch and timer goroutines. Must be
// called once before Dial/OnDatagram/Send have any effect.
func (t *Transport) Start() {
	t.tq.Start()
	t.Go(t.loop)
}

func randConnID() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Dial begins an outbound handshake toward remoteStatic.
func (t *Transport) Dial(remoteStatic [32]byte) error {
	errCh := make(chan error, 1)
	t.submit(func() {
		errCh <- t.doDial(remoteStatic)
	})
	return <-errCh
}

func (t *Transport) submit(fn func()) {
	select {
	case t.cmdCh <- fn:
	case <-t.HaltCh():
	}
}

// OnDatagram feeds one inbound datagram from the peer into the
// dispatch loop.
func (t *Transport) OnDatagram(b []byte) {
	select {
	case t.inCh <- b:
	case <-t.HaltCh():
	}
}

// StaticPublicKey returns this side's long-term identity public key, to
// be handed to a peer out-of-band before it Dials this transport.
func (t *Transport) StaticPublicKey() [32]byte { return t.staticPub }

// State returns the current connection state.
func (t *Transport) State() ConnState {
	resultCh := make(chan ConnState, 1)
	t.submit(func() { resultCh <- t.state })
	return <-resultCh
}

// IsActive reports whether the transport is in Established state.
func (t *Transport) IsActive() bool { return t.State() == StateEstablished }

// GetRTT returns the current smoothed round-trip estimate in seconds.
func (t *Transport) GetRTT() float64 {
	resultCh := make(chan float64, 1)
	t.submit(func() { resultCh <- t.rtt.RTT })
	return <-resultCh
}

// PeerAddr returns the south-facing address this transport was
// constructed with; immutable for the transport's lifetime.
func (t *Transport) PeerAddr() string { return t.peerAddr }

// BytesInFlight returns the number of sent-but-unacked bytes currently
// outstanding on the wire, for metrics and operator snapshots.
func (t *Transport) BytesInFlight() uint64 {
	resultCh := make(chan uint64, 1)
	t.submit(func() { resultCh <- t.bytesInFlight })
	return <-resultCh
}

// LostPacketCount returns the number of packets currently marked lost
// and awaiting retransmission.
func (t *Transport) LostPacketCount() int {
	resultCh := make(chan int, 1)
	t.submit(func() { resultCh <- len(t.lostPackets) })
	return <-resultCh
}

// Send enqueues bytes onto streamID's SendStream. Returns SendOK,
// SendBackpressure, or SendNotEstablished per the north-facing
// contract.
func (t *Transport) Send(streamID uint16, data []byte) int {
	resultCh := make(chan int, 1)
	t.submit(func() { resultCh <- t.doSend(streamID, data) })
	return <-resultCh
}

// Close begins cooperative shutdown with the given application reason.
func (t *Transport) Close(reason uint16) {
	done := make(chan struct{})
	t.submit(func() { t.doClose(reason); close(done) })
	<-done
}

// SkipStream begins the receiver-side SKIP flow for streamID.
func (t *Transport) SkipStream(streamID uint16) {
	done := make(chan struct{})
	t.submit(func() { t.doSkipStream(streamID); close(done) })
	<-done
}

// FlushStream begins the sender-initiated FLUSH flow for streamID.
func (t *Transport) FlushStream(streamID uint16) {
	done := make(chan struct{})
	t.submit(func() { t.doFlushStream(streamID); close(done) })
	<-done
}

func (t *Transport) loop() {
	if t.dialled {
		t.armHandshakeTimer()
	}
	for {
		select {
		case <-t.HaltCh():
			return
		case b := <-t.inCh:
			t.onDatagram(b)
		case fn := <-t.cmdCh:
			fn()
		case ev := <-t.timeCh:
			t.onTimer(ev)
		}
	}
}

// Shutdown halts the dispatch/timer goroutines without the cooperative
// CLOSE handshake; used once a transport is fully torn down.
func (t *Transport) Shutdown() {
	t.tq.Halt()
	t.Halt()
	t.Wait()
	t.tq.Wait()
}

func (t *Transport) sendRaw(b []byte) {
	if err := t.endpoint.Send(b, t.peerAddr); err != nil {
		t.log.Warnf("send to %s failed: %v", t.peerAddr, err)
	}
}

func (t *Transport) fail(err error) {
	t.log.Errorf("%s: %v", t.peerAddr, err)
	t.reset(t.closeReason)
}

func backoffNext(cur, initial, max time.Duration) (next time.Duration, exceeded bool) {
	if cur == 0 {
		return initial, false
	}
	if cur >= max {
		return cur, true
	}
	doubled := cur * 2
	if doubled > max {
		doubled = max
	}
	return doubled, false
}
