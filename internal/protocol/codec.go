package protocol

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"lukechampine.com/blake3"
)

// Decode failure kinds. Any of them means the byte stream position cannot be
// trusted; the session reacts by resynchronizing (dropping the link).
var (
	ErrShortFrame     = errors.New("frame truncated")
	ErrBadDigest      = errors.New("frame digest mismatch")
	ErrLengthMismatch = errors.New("frame length field does not match payload")
	ErrUnknownType    = errors.New("unknown frame type")
	ErrOversize       = errors.New("frame payload exceeds protocol cap")
)

// Encode serializes a frame: fixed header, payload, then a BLAKE3-256 digest
// over header+payload.
func Encode(f *Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload)+DigestSize)
	buf[0] = f.Type
	binary.BigEndian.PutUint64(buf[1:9], f.Seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)

	sum := blake3.Sum256(buf[:HeaderSize+len(f.Payload)])
	copy(buf[HeaderSize+len(f.Payload):], sum[:])
	return buf
}

// PayloadLen extracts and validates the length field from a frame header.
// It is used by the reassembler to learn how many bytes a frame needs before
// any payload-sized allocation happens, so a forged length field cannot
// trigger a huge allocation.
func PayloadLen(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, ErrShortFrame
	}
	if !validType(header[0]) {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownType, header[0])
	}
	n := binary.BigEndian.Uint32(header[9:13])
	if n > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrOversize, n)
	}
	return int(n), nil
}

// Decode deserializes exactly one frame from data. It is pure: no partial
// state escapes on failure. data must contain the complete frame
// (header + payload + digest) and nothing more.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize+DigestSize {
		return nil, ErrShortFrame
	}

	payloadLen, err := PayloadLen(data[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if len(data) != HeaderSize+payloadLen+DigestSize {
		return nil, ErrLengthMismatch
	}

	body := data[:HeaderSize+payloadLen]
	sum := blake3.Sum256(body)
	if subtle.ConstantTimeCompare(sum[:], data[HeaderSize+payloadLen:]) != 1 {
		return nil, ErrBadDigest
	}

	f := &Frame{
		Type: data[0],
		Seq:  binary.BigEndian.Uint64(data[1:9]),
	}
	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		copy(f.Payload, data[HeaderSize:HeaderSize+payloadLen])
	}
	return f, nil
}
