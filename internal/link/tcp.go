package link

import (
	"context"
	"fmt"
	"net"
)

// tcpLink wraps a net.Conn as a Link. addr is the peer's stable identity:
// the dial target on outbound links, the remote IP on accepted ones. The
// remote's ephemeral port must not leak into it, or key pinning would miss
// on every reconnect.
type tcpLink struct {
	net.Conn
	addr string
}

func (l tcpLink) PeerAddr() string { return l.addr }

// stableHost strips the port from a network address, falling back to the
// whole string when it has none.
func stableHost(addr net.Addr) string {
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}

// TCPDialer opens outbound TCP links to a fixed peer address. TCP stands in
// for the RFCOMM socket during development and on LANs, with the same
// ordered byte-stream semantics.
type TCPDialer struct {
	Addr string
}

func (d *TCPDialer) Dial(ctx context.Context) (Link, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Addr, err)
	}
	return tcpLink{conn, d.Addr}, nil
}

// TCPListener accepts inbound TCP links.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds a TCP listener on addr (":0" picks a free port).
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept(ctx context.Context) (Link, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return tcpLink{r.conn, stableHost(r.conn.RemoteAddr())}, nil
	case <-ctx.Done():
		// Unblock the pending Accept; the listener is single-purpose and
		// its owner is shutting down.
		l.ln.Close()
		return nil, ctx.Err()
	}
}

func (l *TCPListener) Addr() string { return l.ln.Addr().String() }

func (l *TCPListener) Close() error { return l.ln.Close() }
