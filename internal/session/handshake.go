package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazelv/bluewire/internal/crypto"
	"github.com/hazelv/bluewire/internal/protocol"
	"github.com/hazelv/bluewire/internal/stream"
	"github.com/hazelv/bluewire/internal/util"
)

const handshakeTimeout = 10 * time.Second

var (
	errHandshakeTimeout = errors.New("handshake timed out")
	errReplayGap        = errors.New("peer needs frames no longer buffered")
)

// handshakeResult is what a completed handshake hands back to the run loop.
type handshakeResult struct {
	env          *crypto.Envelope
	resumed      bool
	peerRecvNext uint64 // first sequence number the peer has not seen
}

// handshake negotiates connection keys over a freshly connected adapter.
// HELLO and HELLO_ACK travel unsealed with sequence number 0; the digest
// still covers them. The host initiates once the stream opens, the client
// answers.
func (s *Session) handshake(ctx context.Context, ad *stream.Adapter, re *stream.Reassembler) (*handshakeResult, error) {
	if s.cfg.Role == RoleHost {
		return s.hostHandshake(ctx, ad, re)
	}
	return s.clientHandshake(ctx, ad, re)
}

func (s *Session) hostHandshake(ctx context.Context, ad *stream.Adapter, re *stream.Reassembler) (*handshakeResult, error) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	hello := &crypto.Hello{
		Version:  crypto.Version,
		Mode:     crypto.ModeFresh,
		Pub:      pub,
		Nonce:    nonce,
		RecvNext: s.recvNext,
	}
	pinned := s.pinnedKey(ad.PeerAddr())
	if pinned != nil {
		hello.Mode = crypto.ModeResume
		hello.Confirm = crypto.ResumeConfirm(pinned, nonce)
	}

	if err := writeHandshakeFrame(ad, protocol.TypeHello, hello); err != nil {
		return nil, err
	}
	ack, err := readHandshakeFrame(ctx, ad, re, protocol.TypeHelloAck)
	if err != nil {
		return nil, err
	}

	resumed := hello.Mode == crypto.ModeResume && ack.Mode == crypto.ModeResume
	var root []byte
	if resumed {
		if !crypto.VerifyResumeConfirm(pinned, ack.Nonce, ack.Confirm) {
			s.unpinKey(ad.PeerAddr())
			return nil, crypto.ErrBadConfirm
		}
		root = pinned
	} else {
		// Either no pinned key or the client declined resume.
		root, err = crypto.RootKey(priv, ack.Pub)
		if err != nil {
			return nil, err
		}
		s.pinKey(ad.PeerAddr(), root)
	}

	hostToClient, clientToHost, err := crypto.SessionKeys(root, nonce, ack.Nonce)
	if err != nil {
		return nil, err
	}
	env, err := crypto.NewEnvelope(hostToClient, clientToHost)
	if err != nil {
		return nil, err
	}
	return &handshakeResult{env: env, resumed: resumed, peerRecvNext: ack.RecvNext}, nil
}

func (s *Session) clientHandshake(ctx context.Context, ad *stream.Adapter, re *stream.Reassembler) (*handshakeResult, error) {
	hello, err := readHandshakeFrame(ctx, ad, re, protocol.TypeHello)
	if err != nil {
		return nil, err
	}

	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	pinned := s.pinnedKey(ad.PeerAddr())
	resumed := hello.Mode == crypto.ModeResume &&
		pinned != nil &&
		crypto.VerifyResumeConfirm(pinned, hello.Nonce, hello.Confirm)
	if hello.Mode == crypto.ModeResume && !resumed {
		util.LogWarning("peer %s requested resume but no valid pinned key, forcing fresh handshake", ad.PeerAddr())
	}

	ack := &crypto.Hello{
		Version:  crypto.Version,
		Mode:     crypto.ModeFresh,
		Pub:      pub,
		Nonce:    nonce,
		RecvNext: s.recvNext,
	}
	var root []byte
	if resumed {
		ack.Mode = crypto.ModeResume
		ack.Confirm = crypto.ResumeConfirm(pinned, nonce)
		root = pinned
	} else {
		root, err = crypto.RootKey(priv, hello.Pub)
		if err != nil {
			return nil, err
		}
		s.pinKey(ad.PeerAddr(), root)
	}

	if err := writeHandshakeFrame(ad, protocol.TypeHelloAck, ack); err != nil {
		return nil, err
	}

	hostToClient, clientToHost, err := crypto.SessionKeys(root, hello.Nonce, nonce)
	if err != nil {
		return nil, err
	}
	env, err := crypto.NewEnvelope(clientToHost, hostToClient)
	if err != nil {
		return nil, err
	}
	return &handshakeResult{env: env, resumed: resumed, peerRecvNext: hello.RecvNext}, nil
}

// writeHandshakeFrame encodes and sends one unsealed handshake frame.
func writeHandshakeFrame(ad *stream.Adapter, typ uint8, h *crypto.Hello) error {
	f := &protocol.Frame{Type: typ, Seq: 0, Payload: crypto.EncodeHello(h)}
	if err := ad.Write(protocol.Encode(f)); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}
	return nil
}

// readHandshakeFrame waits for exactly one frame of the wanted type. On
// timeout or cancellation the adapter is closed to unblock the read.
func readHandshakeFrame(ctx context.Context, ad *stream.Adapter, re *stream.Reassembler, want uint8) (*crypto.Hello, error) {
	type result struct {
		f   *protocol.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			f, err := re.Next()
			if err != nil {
				ch <- result{nil, err}
				return
			}
			if f != nil {
				ch <- result{f, nil}
				return
			}
			data, err := ad.Read()
			if err != nil {
				ch <- result{nil, err}
				return
			}
			if err := re.Feed(data); err != nil {
				ch <- result{nil, err}
				return
			}
		}
	}()

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("read handshake: %w", r.err)
		}
		if r.f.Type != want {
			return nil, fmt.Errorf("unexpected frame type 0x%02x during handshake", r.f.Type)
		}
		return crypto.DecodeHello(r.f.Payload)
	case <-timer.C:
		ad.Close()
		return nil, errHandshakeTimeout
	case <-ctx.Done():
		ad.Close()
		return nil, ctx.Err()
	}
}

// replayOutstanding retransmits buffered frames the peer never received,
// re-sealed under the new connection keys at their original sequence
// numbers. A gap between what the peer needs and what the buffer retains
// cannot be repaired; the pinned key is dropped so the next attempt starts
// a fresh conversation.
func (s *Session) replayOutstanding(ad *stream.Adapter, env *crypto.Envelope, peerRecvNext uint64) error {
	sent := s.seq.Current()
	if peerRecvNext >= sent {
		return nil
	}
	if oldest, ok := s.replay.OldestSeq(); !ok || oldest > peerRecvNext {
		return fmt.Errorf("%w: peer at %d", errReplayGap, peerRecvNext)
	}

	entries := s.replay.ReplayFrom(peerRecvNext)
	if uint64(len(entries)) != sent-peerRecvNext {
		return fmt.Errorf("%w: need %d frames, have %d", errReplayGap, sent-peerRecvNext, len(entries))
	}
	for _, e := range entries {
		sealed, err := env.Seal(e.seq, e.payload)
		if err != nil {
			return fmt.Errorf("reseal frame %d: %w", e.seq, err)
		}
		f := &protocol.Frame{Type: e.typ, Seq: e.seq, Payload: sealed}
		if err := ad.Write(protocol.Encode(f)); err != nil {
			return fmt.Errorf("replay frame %d: %w", e.seq, err)
		}
	}
	util.LogInfo("replayed %d frames from seq %d", len(entries), peerRecvNext)
	return nil
}
