package stream

import (
	"errors"

	"github.com/hazelv/bluewire/internal/protocol"
)

// maxBuffered caps the reassembly buffer. A peer that streams garbage can
// never make us hold more than a few frames' worth of bytes.
const maxBuffered = 4 * (protocol.HeaderSize + protocol.MaxPayloadSize + protocol.DigestSize)

// ErrBufferOverflow means the peer sent more unparseable bytes than the
// buffer cap allows; the stream position is not recoverable.
var ErrBufferOverflow = errors.New("reassembly buffer overflow")

// Reassembler turns an arbitrarily-chunked byte stream back into frames.
// Feed appends raw bytes; Next parses at most one complete frame from the
// front of the buffer, consuming nothing when more bytes are needed. Any
// parse error means the stream is desynchronized — the session's policy is
// to drop the link and reconnect rather than hunt for the next boundary.
//
// It is goroutine-local (used inside the per-connection read loop) and needs
// no locking.
type Reassembler struct {
	buf []byte
}

func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends raw bytes read from the adapter.
func (r *Reassembler) Feed(p []byte) error {
	if len(r.buf)+len(p) > maxBuffered {
		return ErrBufferOverflow
	}
	r.buf = append(r.buf, p...)
	return nil
}

// Next returns the next complete frame, (nil, nil) when more bytes are
// needed, or a decode error when the buffered bytes cannot be a valid frame.
// On error the buffer is left untouched; the caller discards the whole
// connection anyway.
func (r *Reassembler) Next() (*protocol.Frame, error) {
	if len(r.buf) < protocol.HeaderSize {
		return nil, nil
	}

	payloadLen, err := protocol.PayloadLen(r.buf[:protocol.HeaderSize])
	if err != nil {
		return nil, err
	}

	total := protocol.HeaderSize + payloadLen + protocol.DigestSize
	if len(r.buf) < total {
		return nil, nil
	}

	frame, err := protocol.Decode(r.buf[:total])
	if err != nil {
		return nil, err
	}

	r.buf = append(r.buf[:0], r.buf[total:]...)
	return frame, nil
}

// Buffered returns how many unparsed bytes are held.
func (r *Reassembler) Buffered() int { return len(r.buf) }
