package link

import "net"

// pipeLink adapts one end of a net.Pipe as a Link.
type pipeLink struct {
	net.Conn
	addr string
}

func (l pipeLink) PeerAddr() string { return l.addr }

// Pipe returns two synchronously connected in-memory links. Used by tests
// that exercise the protocol stack without a real socket.
func Pipe() (Link, Link) {
	a, b := net.Pipe()
	return pipeLink{a, "pipe:b"}, pipeLink{b, "pipe:a"}
}
