package session

import (
	"github.com/hazelv/bluewire/internal/crypto"
	"github.com/hazelv/bluewire/internal/protocol"
	"github.com/hazelv/bluewire/internal/stream"
	"github.com/hazelv/bluewire/internal/util"
)

// outFrame is a frame queued for transmission. The sequence number is
// assigned at write time by the sender goroutine, so ordering is decided
// exactly once.
type outFrame struct {
	typ     uint8
	payload []byte
	last    bool // session shuts down after this frame is written
}

// senderResult is the sender goroutine's exit report. Exactly one is sent.
type senderResult struct {
	err  error
	last bool
}

// sendLoop is the single writer for one connection. It drains the session's
// persistent outbox: assigns the sequence number, records the frame for
// replay, seals it, and writes it to the link. Frames left in the outbox
// when a connection dies are picked up by the next connection's sender.
func (s *Session) sendLoop(ad *stream.Adapter, env *crypto.Envelope, stop <-chan struct{}, done chan<- senderResult) {
	for {
		select {
		case <-stop:
			done <- senderResult{}
			return
		case of := <-s.outbox:
			seq := s.seq.Next()
			s.replay.Store(of.typ, seq, of.payload)

			sealed, err := env.Seal(seq, of.payload)
			if err != nil {
				done <- senderResult{err: err}
				return
			}
			f := &protocol.Frame{Type: of.typ, Seq: seq, Payload: sealed}
			if err := ad.Write(protocol.Encode(f)); err != nil {
				done <- senderResult{err: err}
				return
			}
			util.Stats.AddFrameSent(len(of.payload))

			if of.last {
				done <- senderResult{last: true}
				return
			}
		}
	}
}
