// Package protocol defines the frame format and codec for the bluewire link.
package protocol

// Frame type constants.
const (
	TypeHello    uint8 = 0x01 // key agreement / session resume request (unsealed)
	TypeHelloAck uint8 = 0x02 // key agreement / session resume response (unsealed)
	TypeText     uint8 = 0x10 // UTF-8 text message
	TypeChunk    uint8 = 0x11 // one chunk of a multi-frame transfer
	TypeChunkAck uint8 = 0x12 // cumulative transfer acknowledgement
	TypePing     uint8 = 0x20 // heartbeat request
	TypePong     uint8 = 0x21 // heartbeat response
	TypeBye      uint8 = 0x2F // graceful session close
)

const (
	// HeaderSize is the fixed header size: Type(1) + Seq(8) + Length(4).
	HeaderSize = 13

	// DigestSize is the size of the trailing BLAKE3-256 digest.
	DigestSize = 32

	// MaxPayloadSize bounds the payload length a frame may carry. It is
	// 64 KiB of application data plus the chunk header and seal overhead,
	// so a full transfer chunk still fits in one frame.
	MaxPayloadSize = 64*1024 + 44
)

// Frame is the atomic protocol unit on the wire. Payload holds the bytes as
// they travel: sealed ciphertext once the session key is established,
// plaintext only for HELLO / HELLO_ACK.
type Frame struct {
	Type    uint8
	Seq     uint64 // per-direction, strictly increasing, starts at 0
	Payload []byte
}

// validType reports whether t is a known frame type.
func validType(t uint8) bool {
	switch t {
	case TypeHello, TypeHelloAck, TypeText, TypeChunk, TypeChunkAck,
		TypePing, TypePong, TypeBye:
		return true
	}
	return false
}
