// Package crypto provides the symmetric envelope and key agreement material
// for a bluewire session. The envelope is stateless about the connection: it
// seals and opens when invoked, and the session decides when that is allowed.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the ChaCha20-Poly1305 key size.
	KeySize = chacha20poly1305.KeySize

	// saltSize is the per-frame random nonce salt carried with the ciphertext.
	saltSize = 4

	// Overhead is the total size a sealed payload grows by: nonce salt plus
	// the Poly1305 authentication tag.
	Overhead = saltSize + chacha20poly1305.Overhead
)

// ErrAuthFailure means a sealed payload failed authentication. It is a
// security event: the session drops and the key is not retried silently.
var ErrAuthFailure = errors.New("payload authentication failed")

// Envelope seals outbound payloads and opens inbound ones. Each direction
// uses its own key, so the per-direction frame sequence is a safe nonce
// component. The nonce for a frame is saltSize random bytes followed by the
// 8-byte big-endian sequence; the salt travels as the sealed payload prefix.
type Envelope struct {
	sealAEAD cipher.AEAD
	openAEAD cipher.AEAD
}

// NewEnvelope builds an envelope from per-direction keys. sendKey seals
// outbound payloads, recvKey opens inbound ones.
func NewEnvelope(sendKey, recvKey []byte) (*Envelope, error) {
	s, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, fmt.Errorf("send key: %w", err)
	}
	o, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, fmt.Errorf("recv key: %w", err)
	}
	return &Envelope{sealAEAD: s, openAEAD: o}, nil
}

// Seal encrypts plaintext for the frame with the given sequence number.
// The result is salt ‖ ciphertext ‖ tag.
func (e *Envelope) Seal(seq uint64, plaintext []byte) ([]byte, error) {
	out := make([]byte, saltSize, saltSize+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(out[:saltSize]); err != nil {
		return nil, fmt.Errorf("nonce salt: %w", err)
	}

	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[:saltSize], out[:saltSize])
	binary.BigEndian.PutUint64(nonce[saltSize:], seq)

	return e.sealAEAD.Seal(out, nonce[:], plaintext, nil), nil
}

// Open decrypts a sealed payload for the frame with the given sequence
// number. Returns ErrAuthFailure when the tag does not verify or the input
// is malformed.
func (e *Envelope) Open(seq uint64, sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, ErrAuthFailure
	}

	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[:saltSize], sealed[:saltSize])
	binary.BigEndian.PutUint64(nonce[saltSize:], seq)

	plaintext, err := e.openAEAD.Open(nil, nonce[:], sealed[saltSize:], nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
