package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Version is the handshake wire version. A mismatch fails the handshake.
const Version = 1

// Handshake modes.
const (
	ModeFresh  uint8 = 1 // full X25519 key agreement, sequence counters reset
	ModeResume uint8 = 2 // prove possession of the pinned key, counters continue
)

// Hello payload sizes.
const (
	NonceSize   = 16
	ConfirmSize = 32
	HelloSize   = 1 + 1 + 32 + NonceSize + ConfirmSize + 8
)

var (
	ErrVersionMismatch = errors.New("handshake version mismatch")
	ErrBadHello        = errors.New("malformed handshake payload")
	ErrBadConfirm      = errors.New("resume confirmation mismatch")
)

// Hello is the payload of HELLO and HELLO_ACK frames. It travels unsealed;
// the confirm field authenticates resume attempts without exposing the key.
// RecvNext tells the peer which sequence number this side expects next, so a
// resuming peer can replay frames lost in the drop.
type Hello struct {
	Version  uint8
	Mode     uint8
	Pub      [32]byte // X25519 public key (fresh mode)
	Nonce    [NonceSize]byte
	Confirm  [ConfirmSize]byte // HMAC-SHA256(rootKey, nonce) (resume mode)
	RecvNext uint64
}

// EncodeHello serializes a Hello into its fixed wire layout.
func EncodeHello(h *Hello) []byte {
	buf := make([]byte, HelloSize)
	buf[0] = h.Version
	buf[1] = h.Mode
	copy(buf[2:34], h.Pub[:])
	copy(buf[34:50], h.Nonce[:])
	copy(buf[50:82], h.Confirm[:])
	binary.BigEndian.PutUint64(buf[82:90], h.RecvNext)
	return buf
}

// DecodeHello parses a Hello payload, rejecting size and version mismatches.
func DecodeHello(data []byte) (*Hello, error) {
	if len(data) != HelloSize {
		return nil, ErrBadHello
	}
	h := &Hello{Version: data[0], Mode: data[1]}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, h.Version, Version)
	}
	if h.Mode != ModeFresh && h.Mode != ModeResume {
		return nil, ErrBadHello
	}
	copy(h.Pub[:], data[2:34])
	copy(h.Nonce[:], data[34:50])
	copy(h.Confirm[:], data[50:82])
	h.RecvNext = binary.BigEndian.Uint64(data[82:90])
	return h, nil
}

// GenerateKeyPair creates a fresh X25519 keypair for one handshake.
func GenerateKeyPair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	p, e := curve25519.X25519(priv[:], curve25519.Basepoint)
	if e != nil {
		err = e
		return
	}
	copy(pub[:], p)
	return
}

// NewNonce returns a fresh random handshake nonce.
func NewNonce() (n [NonceSize]byte, err error) {
	_, err = rand.Read(n[:])
	return
}

// RootKey computes the session root key from a private key and the peer's
// public key. The root key is what the keystore pins per peer address.
func RootKey(priv, peerPub [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	return secret, nil
}

// SessionKeys derives the two per-direction envelope keys from the root key
// and both handshake nonces. Every connection (fresh or resumed) gets fresh
// direction keys because the nonces change each time.
func SessionKeys(rootKey []byte, hostNonce, clientNonce [NonceSize]byte) (hostToClient, clientToHost []byte, err error) {
	salt := make([]byte, 0, 2*NonceSize)
	salt = append(salt, hostNonce[:]...)
	salt = append(salt, clientNonce[:]...)

	kdf := hkdf.New(sha256.New, rootKey, salt, []byte("bluewire v1 session"))
	keys := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(kdf, keys); err != nil {
		return nil, nil, fmt.Errorf("key derivation: %w", err)
	}
	return keys[:KeySize], keys[KeySize:], nil
}

// ResumeConfirm proves possession of the pinned root key for the given nonce.
func ResumeConfirm(rootKey []byte, nonce [NonceSize]byte) [ConfirmSize]byte {
	mac := hmac.New(sha256.New, rootKey)
	mac.Write(nonce[:])
	var out [ConfirmSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyResumeConfirm checks a resume confirmation in constant time.
func VerifyResumeConfirm(rootKey []byte, nonce [NonceSize]byte, confirm [ConfirmSize]byte) bool {
	expected := ResumeConfirm(rootKey, nonce)
	return hmac.Equal(expected[:], confirm[:])
}
