package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hazelv/bluewire/internal/crypto"
	"github.com/hazelv/bluewire/internal/keystore"
	"github.com/hazelv/bluewire/internal/link"
	"github.com/hazelv/bluewire/internal/protocol"
	"github.com/hazelv/bluewire/internal/stream"
	"github.com/hazelv/bluewire/internal/transfer"
	"github.com/hazelv/bluewire/internal/util"
)

// Heartbeat defaults.
const (
	DefaultHeartbeat  = 5 * time.Second
	DefaultSoftMisses = 3 // ticks without inbound traffic before Degraded
	DefaultHardMisses = 6 // ticks without inbound traffic before reconnect
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrTextTooLong   = errors.New("text exceeds frame capacity")
)

// MaxTextSize is the largest text message that fits one sealed frame.
// Larger payloads go through SendMedia.
const MaxTextSize = protocol.MaxPayloadSize - crypto.Overhead

// Config tunes a session. Zero values fall back to defaults.
type Config struct {
	Role        Role
	Heartbeat   time.Duration
	SoftMisses  int
	HardMisses  int
	MaxAttempts int // consecutive failed connection attempts before giving up
	BackoffBase time.Duration
	BackoffCap  time.Duration
	ReplayBytes int
	Transfer    transfer.Config
	Keys        *keystore.Store // nil disables key pinning and resume
}

func (c *Config) setDefaults() {
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.SoftMisses <= 0 {
		c.SoftMisses = DefaultSoftMisses
	}
	if c.HardMisses <= 0 {
		c.HardMisses = DefaultHardMisses
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.ReplayBytes <= 0 {
		c.ReplayBytes = DefaultReplayBytes
	}
}

// Session is one logical conversation with a peer. It survives connection
// drops: the run loop reconnects, resumes the sealed channel, and replays
// frames the peer never received. Create with New, drive with Run, talk
// with SendText/SendMedia, consume Events.
type Session struct {
	cfg      Config
	provider link.Provider
	mgr      *transfer.Manager

	events chan Event
	outbox chan outFrame

	done      chan struct{} // closed when Run exits
	closeReq  chan struct{} // closed by Close
	closeOnce sync.Once

	state atomic.Int32

	// Conversation state, owned by the run loop. Reset on fresh handshakes,
	// carried across resumed connections.
	seq      *SeqGen
	replay   *replayBuffer
	recvNext uint64
}

// New creates a session over the given connection provider.
func New(provider link.Provider, cfg Config) *Session {
	cfg.setDefaults()
	s := &Session{
		cfg:      cfg,
		provider: provider,
		events:   make(chan Event, 64),
		outbox:   make(chan outFrame, 256),
		done:     make(chan struct{}),
		closeReq: make(chan struct{}),
		seq:      NewSeqGen(),
		replay:   newReplayBuffer(cfg.ReplayBytes),
	}
	s.mgr = transfer.NewManager(cfg.Transfer,
		func(p []byte) error { return s.enqueue(outFrame{typ: protocol.TypeChunk, payload: p}) },
		func(p []byte) error { return s.enqueue(outFrame{typ: protocol.TypeChunkAck, payload: p}) },
		func(id uuid.UUID) {
			s.emit(ErrorEvent{KindTransfer, fmt.Errorf("transfer %s incomplete, discarded", id)})
		},
	)
	return s
}

// Events delivers inbound messages, media, state changes and errors. The
// channel is never closed; StateChanged{New: StateClosed} is the final
// event. Consumers must keep draining it.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// SendText queues a text message. It is delivered exactly once even across
// connection drops, as long as the conversation itself survives.
func (s *Session) SendText(ctx context.Context, text string) error {
	if len(text) > MaxTextSize {
		return fmt.Errorf("%w: %d bytes", ErrTextTooLong, len(text))
	}
	return s.enqueueCtx(ctx, outFrame{typ: protocol.TypeText, payload: []byte(text)})
}

// SendMedia transfers an arbitrarily large payload in chunks and blocks
// until the peer has acknowledged all of them.
func (s *Session) SendMedia(ctx context.Context, data []byte) error {
	return s.mgr.Send(ctx, data)
}

// Close requests a graceful shutdown: a BYE frame is sent best-effort and
// the run loop exits. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeReq)
		select {
		case s.outbox <- outFrame{typ: protocol.TypeBye, last: true}:
		default:
		}
	})
}

// Run drives the session until Close, context cancellation, a remote BYE,
// or too many consecutive connection failures. It owns all conversation
// state; call it exactly once.
func (s *Session) Run(ctx context.Context) error {
	mgrCtx, cancelMgr := context.WithCancel(ctx)
	defer cancelMgr()
	go s.mgr.Run(mgrCtx)

	defer func() {
		s.provider.Close()
		s.setState(StateClosed)
		close(s.done)
	}()

	attempt := 0
	established := false
	for {
		select {
		case <-s.closeReq:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.setState(StateConnecting)
		lk, err := s.provider.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.emit(ErrorEvent{KindTransport, err})
			attempt++
			if err := s.waitRetry(ctx, attempt, established, err); err != nil {
				return err
			}
			continue
		}

		ad := stream.NewAdapter(lk)
		re := stream.NewReassembler()

		s.setState(StateHandshaking)
		hs, err := s.handshake(ctx, ad, re)
		if err != nil {
			ad.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.emit(ErrorEvent{KindHandshake, err})
			attempt++
			if err := s.waitRetry(ctx, attempt, established, err); err != nil {
				return err
			}
			continue
		}

		if hs.resumed {
			util.LogInfo("resumed conversation with %s", ad.PeerAddr())
			if err := s.replayOutstanding(ad, hs.env, hs.peerRecvNext); err != nil {
				// The peer needs frames we no longer have. The conversation
				// cannot continue; drop the pinned key so the next attempt
				// starts fresh.
				s.unpinKey(ad.PeerAddr())
				ad.Close()
				s.emit(ErrorEvent{KindHandshake, err})
				attempt++
				if err := s.waitRetry(ctx, attempt, established, err); err != nil {
					return err
				}
				continue
			}
		} else {
			util.LogInfo("fresh conversation with %s", ad.PeerAddr())
			s.seq = NewSeqGen()
			s.replay = newReplayBuffer(s.cfg.ReplayBytes)
			s.recvNext = 0
			s.mgr.Reset()
		}

		attempt = 0
		established = true
		s.setState(StateEstablished)
		reason, err := s.serve(ctx, ad, re, hs.env)
		ad.Close()

		switch reason {
		case stopBye:
			return nil
		case stopCtx:
			return ctx.Err()
		default:
			util.Stats.AddReconnect()
			if reason == stopCrypto {
				// Authentication failure means tampering or key mismatch.
				// Never resume under the suspect key: the next handshake
				// must negotiate a fresh one.
				s.unpinKey(ad.PeerAddr())
				util.LogError("authentication failure from %s, dropping pinned key: %v", ad.PeerAddr(), err)
			} else {
				util.LogWarning("connection lost (%s): %v", reason.kind(), err)
			}
			s.emit(ErrorEvent{reason.kind(), err})
			attempt = 1
			if err := s.waitRetry(ctx, attempt, established, err); err != nil {
				return err
			}
		}
	}
}

// waitRetry sleeps the backoff for the given consecutive failure count, or
// gives up once too many attempts failed in a row. Failures before the
// session was ever established fall back to Disconnected; afterwards the
// session is Reconnecting.
func (s *Session) waitRetry(ctx context.Context, attempt int, established bool, cause error) error {
	if attempt >= s.cfg.MaxAttempts {
		return fmt.Errorf("giving up after %d attempts: %w", attempt, cause)
	}
	if established {
		s.setState(StateReconnecting)
	} else {
		s.setState(StateDisconnected)
	}
	wait := backoff(attempt-1, s.cfg.BackoffBase, s.cfg.BackoffCap)
	util.LogInfo("retrying in %s (attempt %d/%d)", wait.Round(time.Millisecond), attempt, s.cfg.MaxAttempts)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.closeReq:
		return nil // loop head notices closeReq and returns cleanly
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Per-connection event loop
// ──────────────────────────────────────────────────────────────────────────────

// stopReason says why serve returned.
type stopReason int

const (
	stopNone stopReason = iota - 1
	stopBye
	stopCtx
	stopTransport
	stopFrame
	stopCrypto
	stopTimeout
)

func (r stopReason) kind() ErrorKind {
	switch r {
	case stopFrame:
		return KindFrame
	case stopCrypto:
		return KindCrypto
	case stopTimeout:
		return KindTransport
	default:
		return KindTransport
	}
}

type readResult struct {
	f   *protocol.Frame
	err error
}

// readLoop feeds link bytes through the reassembler and delivers complete
// frames. It exits, after reporting the error, once the adapter fails.
func readLoop(ad *stream.Adapter, re *stream.Reassembler, ch chan<- readResult) {
	defer close(ch)
	for {
		for {
			f, err := re.Next()
			if err != nil {
				ch <- readResult{nil, err}
				return
			}
			if f == nil {
				break
			}
			ch <- readResult{f, nil}
		}
		data, err := ad.Read()
		if err != nil {
			ch <- readResult{nil, err}
			return
		}
		if err := re.Feed(data); err != nil {
			ch <- readResult{nil, err}
			return
		}
	}
}

// serve runs one established connection: dispatches inbound frames, drives
// the heartbeat, and supervises the sender. It joins both goroutines before
// returning so the next connection starts clean.
func (s *Session) serve(ctx context.Context, ad *stream.Adapter, re *stream.Reassembler, env *crypto.Envelope) (stopReason, error) {
	readCh := make(chan readResult, 8)
	go readLoop(ad, re, readCh)

	senderStop := make(chan struct{})
	senderDone := make(chan senderResult, 1)
	go s.sendLoop(ad, env, senderStop, senderDone)

	senderExited := false
	defer func() {
		close(senderStop)
		ad.Close()
		if !senderExited {
			<-senderDone
		}
		for range readCh {
		}
	}()

	hb := time.NewTicker(s.cfg.Heartbeat)
	defer hb.Stop()

	misses := 0
	closeReq := s.closeReq
	var byeFlush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return stopCtx, ctx.Err()

		case <-closeReq:
			closeReq = nil // fire once
			if !s.tryEnqueue(outFrame{typ: protocol.TypeBye, last: true}) {
				return stopBye, nil
			}
			byeFlush = time.After(2 * time.Second)

		case <-byeFlush:
			return stopBye, nil

		case res := <-senderDone:
			senderExited = true
			if res.last {
				return stopBye, nil
			}
			return stopTransport, res.err

		case <-hb.C:
			misses++
			if misses >= s.cfg.HardMisses {
				return stopTimeout, fmt.Errorf("peer silent for %d heartbeat intervals", misses)
			}
			if misses >= s.cfg.SoftMisses && s.State() == StateEstablished {
				s.setState(StateDegraded)
			}
			s.tryEnqueue(outFrame{typ: protocol.TypePing})

		case r, ok := <-readCh:
			if !ok {
				return stopTransport, errors.New("reader stopped")
			}
			if r.err != nil {
				var te *stream.TransportError
				if errors.As(r.err, &te) {
					return stopTransport, r.err
				}
				return stopFrame, r.err
			}

			misses = 0
			if s.State() == StateDegraded {
				s.setState(StateEstablished)
			}

			reason, err := s.dispatch(env, r.f)
			if err != nil {
				return reason, err
			}
			if reason == stopBye {
				return stopBye, nil
			}
		}
	}
}

// dispatch validates and handles one inbound frame. The sequence check runs
// before the envelope is opened: a gap means the stream desynchronized and
// only a reconnect with replay repairs it.
func (s *Session) dispatch(env *crypto.Envelope, f *protocol.Frame) (stopReason, error) {
	switch f.Type {
	case protocol.TypeHello, protocol.TypeHelloAck:
		return stopFrame, fmt.Errorf("handshake frame 0x%02x on established connection", f.Type)
	}
	if f.Seq != s.recvNext {
		return stopFrame, fmt.Errorf("sequence gap: got %d, want %d", f.Seq, s.recvNext)
	}

	pt, err := env.Open(f.Seq, f.Payload)
	if err != nil {
		return stopCrypto, fmt.Errorf("frame %d: %w", f.Seq, err)
	}
	s.recvNext++
	util.Stats.AddFrameRecv(len(pt))

	switch f.Type {
	case protocol.TypeText:
		s.emit(MessageReceived{Text: string(pt)})
	case protocol.TypeChunk:
		done, err := s.mgr.HandleChunk(pt)
		if err != nil {
			s.emit(ErrorEvent{KindTransfer, err})
		} else if done != nil {
			s.emit(MediaReceived{ID: done.ID, Data: done.Data, MimeHint: done.MimeHint})
		}
	case protocol.TypeChunkAck:
		if err := s.mgr.HandleAck(pt); err != nil {
			s.emit(ErrorEvent{KindTransfer, err})
		}
	case protocol.TypePing:
		s.tryEnqueue(outFrame{typ: protocol.TypePong})
	case protocol.TypePong:
		// Heartbeat bookkeeping happened in serve.
	case protocol.TypeBye:
		util.LogInfo("peer said goodbye")
		return stopBye, nil
	default:
		return stopFrame, fmt.Errorf("%w: 0x%02x", protocol.ErrUnknownType, f.Type)
	}
	return stopNone, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Plumbing
// ──────────────────────────────────────────────────────────────────────────────

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old == st {
		return
	}
	util.LogDebug("session state: %s -> %s", old, st)
	s.emit(StateChanged{Old: old, New: st})
}

// emit delivers an event, giving up once the session is finished.
func (s *Session) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

// enqueue blocks until the frame is queued or the session finishes.
func (s *Session) enqueue(f outFrame) error {
	select {
	case s.outbox <- f:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// enqueueCtx is enqueue with caller-controlled cancellation.
func (s *Session) enqueueCtx(ctx context.Context, f outFrame) error {
	select {
	case s.outbox <- f:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryEnqueue queues a control frame without blocking. Dropping one under
// backpressure is harmless; data frames never go through here.
func (s *Session) tryEnqueue(f outFrame) bool {
	select {
	case s.outbox <- f:
		return true
	default:
		return false
	}
}

// pinnedKey returns the root key pinned for a peer, or nil.
func (s *Session) pinnedKey(addr string) []byte {
	if s.cfg.Keys == nil {
		return nil
	}
	key, ok := s.cfg.Keys.Get(addr)
	if !ok {
		return nil
	}
	return key
}

func (s *Session) pinKey(addr string, key []byte) {
	if s.cfg.Keys == nil {
		return
	}
	if err := s.cfg.Keys.Put(addr, key); err != nil {
		util.LogWarning("pinning key for %s: %v", addr, err)
	}
}

func (s *Session) unpinKey(addr string) {
	if s.cfg.Keys == nil {
		return
	}
	if err := s.cfg.Keys.Delete(addr); err != nil {
		util.LogWarning("unpinning key for %s: %v", addr, err)
	}
}
