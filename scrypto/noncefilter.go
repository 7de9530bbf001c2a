package scrypto

import "encoding/binary"

// noncefilterCap bounds memory for the duplicate-nonce filter. The
// cwnd and ack mechanism keep a direction's outstanding unacked packets
// far below this, so the bound is never load-bearing in practice — it
// only protects against a pathological peer flooding nonces.
const noncefilterCap = 8192

// NonceFilter rejects a previously-seen nonce on a single AEAD
// direction. A plain bounded map stands in for the teacher's
// probabilistic yawning/bloom filter (see DESIGN.md): nonces on a
// direction are a dense counter, so an exact FIFO set of the same order
// of magnitude costs little more than a Bloom filter would and adds no
// false-positive risk.
type NonceFilter struct {
	seen  map[uint64]struct{}
	order []uint64
}

// NewNonceFilter constructs an empty filter.
func NewNonceFilter() *NonceFilter {
	return &NonceFilter{seen: make(map[uint64]struct{})}
}

// Admit reports whether nonce has not been seen before, recording it if
// so. nonce is treated as its low 8 bytes, which is sufficient since a
// direction's nonce is a monotonic counter and never wraps within a
// connection's lifetime.
func (f *NonceFilter) Admit(nonce []byte) bool {
	if len(nonce) < 8 {
		return false
	}
	key := binary.BigEndian.Uint64(nonce[len(nonce)-8:])
	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = struct{}{}
	f.order = append(f.order, key)
	if len(f.order) > noncefilterCap {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.seen, oldest)
	}
	return true
}
