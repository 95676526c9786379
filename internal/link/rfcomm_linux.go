//go:build linux

package link

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultRFCOMMChannel matches the channel the peer binds by convention.
const DefaultRFCOMMChannel = 4

// rfcommLink wraps an RFCOMM socket file descriptor as a Link.
type rfcommLink struct {
	*os.File
	addr string
}

func (l rfcommLink) PeerAddr() string { return l.addr }

// RFCOMMDialer opens outbound RFCOMM links to a Bluetooth device address
// ("AA:BB:CC:DD:EE:FF") on a fixed channel.
type RFCOMMDialer struct {
	Addr    string
	Channel uint8
}

func (d *RFCOMMDialer) Dial(ctx context.Context) (Link, error) {
	bdaddr, err := parseBDAddr(d.Addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}

	sa := &unix.SockaddrRFCOMM{Addr: bdaddr, Channel: d.Channel}
	type result struct{ err error }
	ch := make(chan result, 1)
	go func() { ch <- result{unix.Connect(fd, sa)} }()

	select {
	case r := <-ch:
		if r.err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("rfcomm connect %s ch%d: %w", d.Addr, d.Channel, r.err)
		}
	case <-ctx.Done():
		unix.Close(fd)
		return nil, ctx.Err()
	}

	return rfcommLink{os.NewFile(uintptr(fd), "rfcomm"), strings.ToUpper(d.Addr)}, nil
}

// RFCOMMListener accepts inbound RFCOMM links on a fixed channel.
type RFCOMMListener struct {
	fd      int
	channel uint8
}

// ListenRFCOMM binds an RFCOMM listener on the given channel for any local
// Bluetooth adapter.
func ListenRFCOMM(channel uint8) (*RFCOMMListener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}
	// BDADDR_ANY is the zero address.
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: channel}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm bind ch%d: %w", channel, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm listen: %w", err)
	}
	return &RFCOMMListener{fd: fd, channel: channel}, nil
}

func (l *RFCOMMListener) Accept(ctx context.Context) (Link, error) {
	type result struct {
		fd  int
		sa  unix.Sockaddr
		err error
	}
	ch := make(chan result, 1)
	go func() {
		fd, sa, err := unix.Accept(l.fd)
		ch <- result{fd, sa, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("rfcomm accept: %w", r.err)
		}
		addr := "??:??:??:??:??:??"
		if sa, ok := r.sa.(*unix.SockaddrRFCOMM); ok {
			addr = formatBDAddr(sa.Addr)
		}
		return rfcommLink{os.NewFile(uintptr(r.fd), "rfcomm"), addr}, nil
	case <-ctx.Done():
		unix.Close(l.fd)
		return nil, ctx.Err()
	}
}

func (l *RFCOMMListener) Addr() string { return fmt.Sprintf("rfcomm ch%d", l.channel) }

func (l *RFCOMMListener) Close() error { return unix.Close(l.fd) }

// parseBDAddr converts "AA:BB:CC:DD:EE:FF" into the kernel's little-endian
// bdaddr_t byte order.
func parseBDAddr(s string) ([6]byte, error) {
	var addr [6]byte
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("invalid bluetooth address %q: %w", s, err)
		}
		addr[5-i] = byte(b)
	}
	return addr, nil
}

// formatBDAddr is the inverse of parseBDAddr.
func formatBDAddr(addr [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}
