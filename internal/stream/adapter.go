// Package stream sits between a raw link and the frame codec: the adapter
// moves bytes with no protocol knowledge, the reassembler finds frame
// boundaries in them.
package stream

import (
	"errors"
	"io"

	"github.com/hazelv/bluewire/internal/link"
)

// readChunkSize is how much the adapter asks the link for per read.
const readChunkSize = 4096

// TransportError kinds.
type ErrorKind int

const (
	KindIOFault ErrorKind = iota
	KindClosed
)

// TransportError reports a link-level failure. The adapter never retries;
// recovery is the session's job.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Kind == KindClosed {
		return "transport closed: " + e.Err.Error()
	}
	return "transport fault: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Adapter wraps one link instance. It is single-use: a reconnect creates a
// new adapter around the new link.
type Adapter struct {
	lk  link.Link
	buf [readChunkSize]byte
}

func NewAdapter(lk link.Link) *Adapter {
	return &Adapter{lk: lk}
}

// Read blocks until at least one byte arrives or the link fails. The
// returned slice is valid only until the next Read; callers consume it
// immediately (the reassembler copies it into its own buffer).
func (a *Adapter) Read() ([]byte, error) {
	n, err := a.lk.Read(a.buf[:])
	if n > 0 {
		return a.buf[:n], nil
	}
	if err == nil {
		return a.buf[:0], nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil, &TransportError{Kind: KindClosed, Err: err}
	}
	return nil, &TransportError{Kind: KindIOFault, Err: err}
}

// Write flushes p completely or fails with a TransportError.
func (a *Adapter) Write(p []byte) error {
	if _, err := a.lk.Write(p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return &TransportError{Kind: KindClosed, Err: err}
		}
		return &TransportError{Kind: KindIOFault, Err: err}
	}
	return nil
}

func (a *Adapter) Close() error { return a.lk.Close() }

func (a *Adapter) PeerAddr() string { return a.lk.PeerAddr() }
