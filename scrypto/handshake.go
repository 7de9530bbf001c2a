package scrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrSealedBoxOpenFailed indicates a DIAL/DIALCONF sealed payload
// failed authentication — either a wrong static key or tampering.
var ErrSealedBoxOpenFailed = errors.New("scrypto: sealed box open failed")

const sealedBoxKeyLabel = "strand_sealed_box_keymaterial"

// SealedBox is an anonymous-sender sealed box: a fresh one-shot X25519
// keypair DH'd against the recipient's static public key, with the
// result fed through HKDF to key a nacl secretbox. This is the same
// seal-to-a-public-key idiom the teacher's secretbox usage follows
// throughout, generalized from a shared-secret key to a fresh
// ephemeral key per call so the sender needs no prior session.
type SealedBox struct {
	EphemeralPublic [KeySize]byte
	Box             []byte
}

// Seal produces a SealedBox of plaintext addressed to remoteStatic.
func Seal(remoteStatic [KeySize]byte, plaintext []byte) (SealedBox, error) {
	eph, err := GenerateKeyPair()
	if err != nil {
		return SealedBox{}, err
	}
	secret, err := sharedSecret(eph.Private, remoteStatic)
	if err != nil {
		return SealedBox{}, err
	}
	var key [KeySize]byte
	r := hkdf.New(sha256.New, secret, nil, []byte(sealedBoxKeyLabel))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return SealedBox{}, err
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return SealedBox{}, err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &key)
	return SealedBox{EphemeralPublic: eph.Public, Box: sealed}, nil
}

// Open recovers plaintext from a SealedBox using the recipient's
// static private key.
func Open(staticPriv [KeySize]byte, box SealedBox) ([]byte, error) {
	secret, err := sharedSecret(staticPriv, box.EphemeralPublic)
	if err != nil {
		return nil, ErrSealedBoxOpenFailed
	}
	var key [KeySize]byte
	r := hkdf.New(sha256.New, secret, nil, []byte(sealedBoxKeyLabel))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, err
	}

	if len(box.Box) < 24 {
		return nil, ErrSealedBoxOpenFailed
	}
	var nonce [24]byte
	copy(nonce[:], box.Box[:24])
	plaintext, ok := secretbox.Open(nil, box.Box[24:], &nonce, &key)
	if !ok {
		return nil, ErrSealedBoxOpenFailed
	}
	return plaintext, nil
}

// EncodeSealedBox serializes a SealedBox as ephemeral_pub || box for
// wire transmission inside a DIAL/DIALCONF frame.
func EncodeSealedBox(box SealedBox) []byte {
	out := make([]byte, 0, KeySize+len(box.Box))
	out = append(out, box.EphemeralPublic[:]...)
	out = append(out, box.Box...)
	return out
}

// DecodeSealedBox parses the wire form produced by EncodeSealedBox.
func DecodeSealedBox(b []byte) (SealedBox, error) {
	if len(b) < KeySize {
		return SealedBox{}, ErrSealedBoxOpenFailed
	}
	var box SealedBox
	copy(box.EphemeralPublic[:], b[:KeySize])
	box.Box = append([]byte{}, b[KeySize:]...)
	return box, nil
}
