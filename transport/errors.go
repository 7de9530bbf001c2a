package transport

import "fmt"

// HandshakeTimeoutError indicates DIAL/DIALCONF was not confirmed
// before the handshake's exponential backoff reached its cap.
type HandshakeTimeoutError struct{ Err error }

func (e *HandshakeTimeoutError) Error() string { return e.Err.Error() }

func newHandshakeTimeoutError(f string, a ...interface{}) error {
	return &HandshakeTimeoutError{Err: fmt.Errorf(f, a...)}
}

// TLPTimeoutError indicates the tail-loss-probe backoff reached its cap
// with outstanding work, meaning the peer is presumed gone.
type TLPTimeoutError struct{ Err error }

func (e *TLPTimeoutError) Error() string { return e.Err.Error() }

func newTLPTimeoutError(f string, a ...interface{}) error {
	return &TLPTimeoutError{Err: fmt.Errorf(f, a...)}
}

// SkipTimeoutError indicates a SKIPSTREAM retry backoff reached its cap
// without a FLUSHSTREAM reply.
type SkipTimeoutError struct{ Err error }

func (e *SkipTimeoutError) Error() string { return e.Err.Error() }

func newSkipTimeoutError(f string, a ...interface{}) error {
	return &SkipTimeoutError{Err: fmt.Errorf(f, a...)}
}

// FlushTimeoutError indicates a FLUSHSTREAM retry backoff reached its
// cap without a FLUSHCONF reply.
type FlushTimeoutError struct{ Err error }

func (e *FlushTimeoutError) Error() string { return e.Err.Error() }

func newFlushTimeoutError(f string, a ...interface{}) error {
	return &FlushTimeoutError{Err: fmt.Errorf(f, a...)}
}

// CloseTimeoutError indicates no CLOSECONF arrived within the close
// escalation window.
type CloseTimeoutError struct{ Err error }

func (e *CloseTimeoutError) Error() string { return e.Err.Error() }

func newCloseTimeoutError(f string, a ...interface{}) error {
	return &CloseTimeoutError{Err: fmt.Errorf(f, a...)}
}

// DecryptFailureError indicates AEAD verification failed on a DATA
// frame — treated as an integrity breach, not a transient error.
type DecryptFailureError struct{ Err error }

func (e *DecryptFailureError) Error() string { return e.Err.Error() }

func newDecryptFailureError(f string, a ...interface{}) error {
	return &DecryptFailureError{Err: fmt.Errorf(f, a...)}
}

// ConnIDMismatchError indicates a frame carried connection ids
// inconsistent with this transport's own. The caller sends RST for the
// offending ids but must NOT tear down local state: the mismatch may
// belong to a stale peer retransmitting into a since-recycled address.
type ConnIDMismatchError struct{ Err error }

func (e *ConnIDMismatchError) Error() string { return e.Err.Error() }

func newConnIDMismatchError(f string, a ...interface{}) error {
	return &ConnIDMismatchError{Err: fmt.Errorf(f, a...)}
}

// Send return codes, per the north-facing send() contract.
const (
	SendOK             = 0
	SendBackpressure   = -1
	SendNotEstablished = -2
)

// CloseReason values. 0 is normal shutdown; 1 is reserved for
// application-defined blacklist signalling; higher values are free for
// application use.
const (
	CloseReasonNormal      uint16 = 0
	CloseReasonApplication uint16 = 1
)
