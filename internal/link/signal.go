package link

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/hazelv/bluewire/internal/util"
)

// signalType identifies the kind of signaling message.
type signalType string

const (
	sigOffer     signalType = "offer"
	sigAnswer    signalType = "answer"
	sigCandidate signalType = "candidate"
)

// signalMessage is the JSON structure exchanged over the WebSocket while the
// WebRTC link is negotiated.
type signalMessage struct {
	Type      signalType `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// hostExchange performs the SDP/ICE exchange on the offering side: send an
// offer, apply the answer and remote candidates, return once the data
// channel opens (openCh) or the WebSocket fails.
func hostExchange(wsConn *websocket.Conn, pc *webrtc.PeerConnection, openCh <-chan struct{}) error {
	send := newSignalSender(wsConn, openCh)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		send(signalMessage{Type: sigCandidate, Candidate: string(data)})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	send(signalMessage{Type: sigOffer, SDP: offer.SDP})

	errCh := make(chan error, 1)
	go func() {
		for {
			var msg signalMessage
			if err := wsConn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			switch msg.Type {
			case sigAnswer:
				if err := pc.SetRemoteDescription(webrtc.SessionDescription{
					Type: webrtc.SDPTypeAnswer,
					SDP:  msg.SDP,
				}); err != nil {
					util.LogWarning("SetRemoteDescription failed: %v", err)
				}
			case sigCandidate:
				addCandidate(pc, msg.Candidate)
			}
		}
	}()

	return waitOpen(openCh, errCh, wsConn)
}

// clientExchange performs the SDP/ICE exchange on the answering side.
func clientExchange(wsConn *websocket.Conn, pc *webrtc.PeerConnection, openCh <-chan struct{}) error {
	send := newSignalSender(wsConn, openCh)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		send(signalMessage{Type: sigCandidate, Candidate: string(data)})
	})

	errCh := make(chan error, 1)
	go func() {
		for {
			var msg signalMessage
			if err := wsConn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			switch msg.Type {
			case sigOffer:
				if err := pc.SetRemoteDescription(webrtc.SessionDescription{
					Type: webrtc.SDPTypeOffer,
					SDP:  msg.SDP,
				}); err != nil {
					util.LogWarning("SetRemoteDescription failed: %v", err)
					continue
				}
				answer, err := pc.CreateAnswer(nil)
				if err != nil {
					util.LogWarning("CreateAnswer failed: %v", err)
					continue
				}
				if err := pc.SetLocalDescription(answer); err != nil {
					util.LogWarning("SetLocalDescription failed: %v", err)
					continue
				}
				send(signalMessage{Type: sigAnswer, SDP: answer.SDP})

			case sigCandidate:
				addCandidate(pc, msg.Candidate)
			}
		}
	}()

	return waitOpen(openCh, errCh, wsConn)
}

// newSignalSender serializes WebSocket writes; errors after the channel has
// opened are expected (the WS is closed then) and not logged.
func newSignalSender(wsConn *websocket.Conn, openCh <-chan struct{}) func(signalMessage) {
	var mu sync.Mutex
	return func(msg signalMessage) {
		mu.Lock()
		defer mu.Unlock()
		if err := wsConn.WriteJSON(msg); err != nil {
			select {
			case <-openCh:
			default:
				util.LogWarning("signaling send failed: %v", err)
			}
		}
	}
}

func addCandidate(pc *webrtc.PeerConnection, raw string) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		return
	}
	if err := pc.AddICECandidate(init); err != nil {
		util.LogWarning("AddICECandidate failed: %v", err)
	}
}

// waitOpen blocks until the data channel opens, then closes the signaling
// WebSocket. A WS read error that races with the open is tolerated.
func waitOpen(openCh <-chan struct{}, errCh <-chan error, wsConn *websocket.Conn) error {
	select {
	case <-openCh:
		wsConn.Close()
		return nil
	case err := <-errCh:
		select {
		case <-openCh:
			return nil
		default:
			return fmt.Errorf("signaling read: %w", err)
		}
	}
}
