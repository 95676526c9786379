package session

import "sync/atomic"

// SeqGen hands out frame sequence numbers. It is shared between the session
// loop (which inspects the current position during resume) and the sender
// goroutine, so all operations are atomic.
type SeqGen struct {
	val atomic.Uint64
}

// NewSeqGen creates a sequence generator. The first call to Next() returns 0.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the next sequence number, monotonically increasing from 0.
func (s *SeqGen) Next() uint64 {
	return s.val.Add(1) - 1
}

// Current returns the next sequence number that Next() would hand out.
func (s *SeqGen) Current() uint64 {
	return s.val.Load()
}
