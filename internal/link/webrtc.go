package link

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/hazelv/bluewire/internal/util"
)

// STUN servers for ICE candidate gathering. No TURN — the link is meant for
// peers with direct connectivity.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// webrtcLink is a detached, ordered DataChannel exposed as a Link. Ordered
// reliable mode gives the same stream contract as an RFCOMM socket.
type webrtcLink struct {
	io.ReadWriteCloser
	pc   *webrtc.PeerConnection
	addr string
}

func (l *webrtcLink) Close() error {
	return errors.Join(l.ReadWriteCloser.Close(), l.pc.Close())
}

func (l *webrtcLink) PeerAddr() string { return l.addr }

// newPeerChannel creates a PeerConnection with a pre-negotiated DataChannel
// in detach mode. Negotiated mode (ID 0) lets both sides create the channel
// independently; detach hands the channel over as a ReadWriteCloser once it
// opens on openCh.
func newPeerChannel() (*webrtc.PeerConnection, <-chan io.ReadWriteCloser, <-chan struct{}, error) {
	se := webrtc.SettingEngine{}
	se.DetachDataChannels()
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("peer connection: %w", err)
	}

	ordered := true
	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("bluewire", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, nil, nil, fmt.Errorf("data channel: %w", err)
	}

	rawCh := make(chan io.ReadWriteCloser, 1)
	openCh := make(chan struct{})
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			util.LogError("datachannel detach failed: %v", err)
			pc.Close()
			return
		}
		rawCh <- raw
		close(openCh)
	})

	return pc, rawCh, openCh, nil
}

// WebRTCHostProvider negotiates a WebRTC link for each connection attempt.
// It keeps a PIN-guarded WebSocket endpoint alive across attempts so the
// peer can always find it again after a drop.
type WebRTCHostProvider struct {
	ws  *WSListener
	pin string
}

// NewWebRTCHostProvider starts the signaling endpoint on wsAddr with the
// given PIN.
func NewWebRTCHostProvider(wsAddr, pin string) (*WebRTCHostProvider, error) {
	ws, err := ListenWS(wsAddr, pin)
	if err != nil {
		return nil, err
	}
	return &WebRTCHostProvider{ws: ws, pin: pin}, nil
}

// SignalAddr returns the address peers dial for signaling.
func (p *WebRTCHostProvider) SignalAddr() string { return p.ws.Addr() }

func (p *WebRTCHostProvider) Connect(ctx context.Context) (Link, error) {
	select {
	case wsConn := <-p.ws.connCh:
		return p.negotiate(wsConn)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *WebRTCHostProvider) negotiate(wsConn *websocket.Conn) (Link, error) {
	defer wsConn.Close()

	pc, rawCh, openCh, err := newPeerChannel()
	if err != nil {
		return nil, err
	}
	if err := hostExchange(wsConn, pc, openCh); err != nil {
		pc.Close()
		return nil, err
	}
	return &webrtcLink{ReadWriteCloser: <-rawCh, pc: pc, addr: "webrtc:" + p.pin}, nil
}

func (p *WebRTCHostProvider) Close() error { return p.ws.Close() }

// WebRTCDialProvider negotiates a WebRTC link by dialing the host's
// signaling endpoint for each connection attempt.
type WebRTCDialProvider struct {
	URL string // signaling endpoint, e.g. ws://host:port/link?pin=1234
}

func (p *WebRTCDialProvider) Connect(ctx context.Context) (Link, error) {
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling dial %s: %w", p.URL, err)
	}
	defer wsConn.Close()

	pc, rawCh, openCh, err := newPeerChannel()
	if err != nil {
		return nil, err
	}
	if err := clientExchange(wsConn, pc, openCh); err != nil {
		pc.Close()
		return nil, err
	}
	return &webrtcLink{ReadWriteCloser: <-rawCh, pc: pc, addr: p.URL}, nil
}

func (p *WebRTCDialProvider) Close() error { return nil }
