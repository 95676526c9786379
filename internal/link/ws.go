package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsLink bridges a WebSocket connection to the Link byte-stream contract:
// writes become binary messages, reads drain buffered message bytes.
type wsLink struct {
	conn *websocket.Conn
	addr string

	mu   sync.Mutex // guards leftover between Read calls
	rest []byte
}

func newWSLink(conn *websocket.Conn, addr string) *wsLink {
	return &wsLink{conn: conn, addr: addr}
}

func (l *wsLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.rest) == 0 {
		typ, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		l.rest = data
	}

	n := copy(p, l.rest)
	l.rest = l.rest[n:]
	return n, nil
}

func (l *wsLink) Write(p []byte) (int, error) {
	if err := l.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (l *wsLink) Close() error {
	l.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return l.conn.Close()
}

func (l *wsLink) PeerAddr() string { return l.addr }

// WSDialer opens outbound WebSocket links. The URL should include the PIN as
// a query parameter, e.g. ws://host:port/link?pin=1234.
type WSDialer struct {
	URL string
}

func (d *WSDialer) Dial(ctx context.Context) (Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", d.URL, err)
	}
	return newWSLink(conn, d.URL), nil
}

// WSListener is the host-side WebSocket endpoint. A PIN query parameter
// gates the upgrade; only one peer is served at a time.
type WSListener struct {
	pin      string
	listener net.Listener
	connCh   chan *websocket.Conn
}

// ListenWS starts a WebSocket listener on addr (":0" picks a free port)
// guarded by the given PIN.
func ListenWS(addr, pin string) (*WSListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws listen %s: %w", addr, err)
	}

	l := &WSListener{
		pin:      pin,
		listener: listener,
		connCh:   make(chan *websocket.Conn, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/link", l.handleUpgrade)
	go func() {
		_ = http.Serve(listener, mux)
	}()

	return l, nil
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("pin") != l.pin {
		http.Error(w, "invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only one peer at a time.
	select {
	case l.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

func (l *WSListener) Accept(ctx context.Context) (Link, error) {
	select {
	case conn := <-l.connCh:
		return newWSLink(conn, stableHost(conn.RemoteAddr())), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *WSListener) Addr() string { return l.listener.Addr().String() }

func (l *WSListener) Close() error { return l.listener.Close() }
