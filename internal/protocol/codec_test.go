package protocol

import (
	"bytes"
	"errors"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for all frame types with various payload sizes.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		frame *Frame
	}{
		{
			name:  "TypeHello with handshake payload",
			frame: &Frame{Type: TypeHello, Seq: 0, Payload: make([]byte, 90)},
		},
		{
			name:  "TypeText with small payload",
			frame: &Frame{Type: TypeText, Seq: 42, Payload: []byte("hello world")},
		},
		{
			name:  "TypePing with no payload",
			frame: &Frame{Type: TypePing, Seq: 7, Payload: nil},
		},
		{
			name:  "TypeChunk with max payload",
			frame: &Frame{Type: TypeChunk, Seq: 999, Payload: make([]byte, MaxPayloadSize)},
		},
		{
			name:  "TypeBye with empty payload",
			frame: &Frame{Type: TypeBye, Seq: 1<<40 + 5, Payload: []byte{}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.frame)

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Type != tc.frame.Type {
				t.Errorf("Type mismatch: got 0x%02x, want 0x%02x", decoded.Type, tc.frame.Type)
			}
			if decoded.Seq != tc.frame.Seq {
				t.Errorf("Seq mismatch: got %d, want %d", decoded.Seq, tc.frame.Seq)
			}
			if !bytes.Equal(decoded.Payload, tc.frame.Payload) {
				t.Errorf("Payload mismatch: got %d bytes, want %d bytes", len(decoded.Payload), len(tc.frame.Payload))
			}
		})
	}
}

// TestDecodeBitFlip verifies that flipping a single bit anywhere in the
// serialized form makes Decode fail. Flips inside the header may surface as
// a type/length error instead of a digest error; flips in payload or digest
// must always be ErrBadDigest.
func TestDecodeBitFlip(t *testing.T) {
	frame := &Frame{Type: TypeText, Seq: 3, Payload: []byte("integrity matters")}
	encoded := Encode(frame)

	for i := 0; i < len(encoded); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(encoded))
			copy(corrupted, encoded)
			corrupted[i] ^= 1 << bit

			_, err := Decode(corrupted)
			if err == nil {
				t.Fatalf("Decode accepted frame with bit %d of byte %d flipped", bit, i)
			}
			if i >= HeaderSize && !errors.Is(err, ErrBadDigest) {
				t.Fatalf("payload/digest flip at byte %d: got %v, want ErrBadDigest", i, err)
			}
		}
	}
}

// TestDecodeOversize verifies that a forged length field above the cap is
// rejected from the header alone.
func TestDecodeOversize(t *testing.T) {
	frame := &Frame{Type: TypeChunk, Seq: 1, Payload: []byte("x")}
	encoded := Encode(frame)
	// Forge an absurd length field.
	encoded[9], encoded[10], encoded[11], encoded[12] = 0xFF, 0xFF, 0xFF, 0xFF

	if _, err := PayloadLen(encoded[:HeaderSize]); !errors.Is(err, ErrOversize) {
		t.Fatalf("PayloadLen: got %v, want ErrOversize", err)
	}
	if _, err := Decode(encoded); !errors.Is(err, ErrOversize) {
		t.Fatalf("Decode: got %v, want ErrOversize", err)
	}
}

// TestDecodeUnknownType verifies rejection of unassigned type tags.
func TestDecodeUnknownType(t *testing.T) {
	frame := &Frame{Type: TypeText, Seq: 1, Payload: []byte("ok")}
	encoded := Encode(frame)
	encoded[0] = 0x7E

	if _, err := Decode(encoded); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("got %v, want ErrUnknownType", err)
	}
}

// TestDecodeTruncated verifies that inputs shorter than a minimal frame fail
// with ErrShortFrame and longer-but-incomplete inputs fail cleanly.
func TestDecodeTruncated(t *testing.T) {
	frame := &Frame{Type: TypeText, Seq: 12, Payload: []byte("truncate me")}
	encoded := Encode(frame)

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", encoded[:HeaderSize]},
		{"missing digest byte", encoded[:len(encoded)-1]},
		{"one extra byte", append(append([]byte{}, encoded...), 0x00)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

// TestEncodedSize pins the wire overhead so the framing cannot drift silently.
func TestEncodedSize(t *testing.T) {
	frame := &Frame{Type: TypePong, Seq: 0, Payload: make([]byte, 100)}
	if got, want := len(Encode(frame)), HeaderSize+100+DigestSize; got != want {
		t.Fatalf("encoded size: got %d, want %d", got, want)
	}
}
