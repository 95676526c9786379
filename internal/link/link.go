// Package link provides the transport boundary of a bluewire session: an
// already-open bidirectional byte stream between exactly two peers, plus the
// dial/accept machinery that produces one. The protocol core never sees
// anything below this interface.
package link

import (
	"context"
	"io"
)

// Link is one open byte-stream connection to the peer. Reads and writes have
// stream semantics: no message boundaries, partial reads are normal. The
// peer address is a stable identity string used to pin key material.
type Link interface {
	io.ReadWriteCloser
	PeerAddr() string
}

// Provider produces a fresh Link for every connection attempt. The session
// calls Connect again after a drop; the provider owns whatever listening or
// dialing state persists across attempts.
type Provider interface {
	Connect(ctx context.Context) (Link, error)
	Close() error
}

// Dialer is the client-side half: each Dial opens a new outbound link.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
}

// Listener is the host-side half: each Accept yields the next inbound link.
type Listener interface {
	Accept(ctx context.Context) (Link, error)
	Addr() string
	Close() error
}

// dialProvider adapts a Dialer to the Provider contract.
type dialProvider struct{ d Dialer }

// NewDialProvider wraps a Dialer for use by a client-role session.
func NewDialProvider(d Dialer) Provider { return dialProvider{d} }

func (p dialProvider) Connect(ctx context.Context) (Link, error) { return p.d.Dial(ctx) }
func (p dialProvider) Close() error                              { return nil }

// acceptProvider adapts a Listener to the Provider contract.
type acceptProvider struct{ l Listener }

// NewAcceptProvider wraps a Listener for use by a host-role session.
func NewAcceptProvider(l Listener) Provider { return acceptProvider{l} }

func (p acceptProvider) Connect(ctx context.Context) (Link, error) { return p.l.Accept(ctx) }
func (p acceptProvider) Close() error                              { return p.l.Close() }
