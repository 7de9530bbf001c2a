// Package scrypto implements the handshake key exchange and the
// per-direction AEAD framing that protects DATA frames. It generalizes
// the teacher's stream.go exchange() — HKDF-derived directional keys
// from a shared secret — onto an X25519 ephemeral exchange sealed by
// each side's long-term static key, per the cryptographic framing this
// protocol calls for.
package scrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/katzenpost/chacha20"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of every X25519 key and derived
// directional AEAD key.
const KeySize = 32

// NonceSize is the size of a GCM nonce, carried as a trailer on every
// sealed DATA frame so the receiver can recover it without tracking
// strict packet sequencing.
const NonceSize = 12

var (
	// ErrInvalidKey indicates a peer-supplied public key is the all-zero
	// identity point, which collapses the X25519 shared secret to zero
	// and must never be accepted.
	ErrInvalidKey = errors.New("scrypto: invalid public key")
	// ErrDuplicateNonce indicates a DATA frame reused a nonce already
	// seen on this direction, and must be dropped rather than decrypted.
	ErrDuplicateNonce = errors.New("scrypto: duplicate nonce")
	// ErrOpenFailed indicates AEAD authentication failed.
	ErrOpenFailed = errors.New("scrypto: open failed")
)

// KeyPair is an X25519 keypair.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair produces a fresh X25519 keypair from crypto/rand,
// used both for a transport's long-lived static identity and for a
// fresh ephemeral keypair on every handshake attempt.
func GenerateKeyPair() (KeyPair, error) {
	var priv [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return KeyPair{}, err
	}
	return KeyPairFromPrivate(priv[:])
}

// KeyPairFromPrivate derives the public half of a previously persisted
// 32-byte static private key, for loading an identity back off disk
// instead of generating a fresh one.
func KeyPairFromPrivate(priv []byte) (KeyPair, error) {
	if len(priv) != KeySize {
		return KeyPair{}, errors.New("scrypto: private key must be 32 bytes")
	}
	var kp KeyPair
	copy(kp.Private[:], priv)
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

func isIdentity(pub []byte) bool {
	var zero [KeySize]byte
	return bytes.Equal(pub, zero[:])
}

// sharedSecret computes the X25519 Diffie-Hellman shared secret and
// rejects the identity point, which is an invalid-curve attack that
// would otherwise collapse the secret to an attacker-known value.
func sharedSecret(priv [KeySize]byte, peerPub [KeySize]byte) ([]byte, error) {
	if isIdentity(peerPub[:]) {
		return nil, ErrInvalidKey
	}
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, err
	}
	if isIdentity(secret) {
		return nil, ErrInvalidKey
	}
	return secret, nil
}

// DirectionKeys holds the two derived AEAD keys for a session: rx to
// decrypt frames from the peer, tx to encrypt frames to the peer.
type DirectionKeys struct {
	RX [KeySize]byte
	TX [KeySize]byte
}

const (
	serverToClientLabel = "strand_s2c_keymaterial"
	clientToServerLabel = "strand_c2s_keymaterial"
)

// DeriveDirectionKeys computes the per-direction session keys from an
// X25519 shared secret, with role assigned deterministically by
// comparing the two ephemeral public keys: the side whose ephemeral
// key is lexicographically greater derives as "server". This gives
// both sides matching (rx, tx) pairs without exchanging a role bit.
func DeriveDirectionKeys(localPriv, localPub, remotePub [KeySize]byte) (DirectionKeys, error) {
	secret, err := sharedSecret(localPriv, remotePub)
	if err != nil {
		return DirectionKeys{}, err
	}

	isServer := bytes.Compare(localPub[:], remotePub[:]) > 0
	s2c, err := expand(secret, serverToClientLabel)
	if err != nil {
		return DirectionKeys{}, err
	}
	c2s, err := expand(secret, clientToServerLabel)
	if err != nil {
		return DirectionKeys{}, err
	}

	if isServer {
		return DirectionKeys{RX: c2s, TX: s2c}, nil
	}
	return DirectionKeys{RX: s2c, TX: c2s}, nil
}

func expand(secret []byte, label string) ([KeySize]byte, error) {
	var out [KeySize]byte
	r := hkdf.New(sha256.New, secret, nil, []byte(label))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// nonceBase seeds a chacha20 keystream with key and reads the first
// NonceSize bytes of it as the direction's deterministic initial nonce,
// per the "seed a PRF with the key" construction.
func nonceBase(key [KeySize]byte) ([NonceSize]byte, error) {
	var zeroNonce [chacha20.NonceSize]byte
	c, err := chacha20.NewCipher(key[:], zeroNonce[:])
	if err != nil {
		return [NonceSize]byte{}, err
	}
	var stream [NonceSize]byte
	c.XORKeyStream(stream[:], stream[:])
	return stream, nil
}

// incNonce increments a 12-byte nonce as a big-endian counter, matching
// "the send nonce is incremented by 1 per sent DATA".
func incNonce(n *[NonceSize]byte) {
	for i := len(n) - 1; i >= 0; i-- {
		n[i]++
		if n[i] != 0 {
			return
		}
	}
}

// Cipher is one direction's AEAD context: a precomputed AES-256-GCM
// instance plus the nonce counter for that direction.
type Cipher struct {
	aead  cipher.AEAD
	nonce [NonceSize]byte
}

// NewCipher constructs a direction's AEAD context from its derived key.
func NewCipher(key [KeySize]byte) (*Cipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	base, err := nonceBase(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead, nonce: base}, nil
}

// Seal encrypts plaintext under aad and the current send nonce,
// advances the nonce, and returns ciphertext||tag||nonce (the nonce
// trailer lets the receiver recover it without strict ordering).
func (c *Cipher) Seal(aad, plaintext []byte) []byte {
	sealed := c.aead.Seal(nil, c.nonce[:], plaintext, aad)
	out := make([]byte, 0, len(sealed)+NonceSize)
	out = append(out, sealed...)
	out = append(out, c.nonce[:]...)
	incNonce(&c.nonce)
	return out
}

// Open splits the trailing nonce off sealed, checks it against seen
// (rejecting replays), and authenticates+decrypts the remainder under
// aad.
func (c *Cipher) Open(aad, sealed []byte, seen *NonceFilter) ([]byte, error) {
	if len(sealed) < NonceSize {
		return nil, ErrOpenFailed
	}
	split := len(sealed) - NonceSize
	ciphertext, nonce := sealed[:split], sealed[split:]
	if seen != nil && !seen.Admit(nonce) {
		return nil, ErrDuplicateNonce
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
