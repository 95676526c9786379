package session

import "sync"

// DefaultReplayBytes caps the replay buffer's payload memory.
const DefaultReplayBytes = 4 * 1024 * 1024

// replayEntry stores one sent frame's plaintext with its sequence number.
// Frames are re-sealed under the new connection keys when replayed.
type replayEntry struct {
	typ     uint8
	seq     uint64
	payload []byte
}

// replayBuffer is a ring buffer of recently sent frames, kept so a resumed
// connection can retransmit whatever the peer never received. When the
// buffer is full the oldest entries are evicted; a resume that needs an
// evicted frame cannot be honored.
//
// replayBuffer is safe for concurrent use.
type replayBuffer struct {
	mu       sync.Mutex
	entries  []replayEntry
	size     int // current total payload bytes stored
	maxSize  int // maximum total payload bytes
	head     int // index of next write position
	count    int // number of entries stored
	capacity int // slots in ring
}

// newReplayBuffer creates a buffer with the given maximum byte size.
// The byte limit is soft: eviction happens when a store would exceed it.
func newReplayBuffer(maxBytes int) *replayBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultReplayBytes
	}
	// Assume average frame payload ~1KB, clamped to [64, 64K] slots.
	slots := max(64, min(maxBytes/1024, 1<<16))
	return &replayBuffer{
		entries:  make([]replayEntry, slots),
		maxSize:  maxBytes,
		capacity: slots,
	}
}

// Store adds a sent frame. The payload is copied.
func (b *replayBuffer) Store(typ uint8, seq uint64, payload []byte) {
	p := make([]byte, len(payload))
	copy(p, payload)

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count > 0 && b.size+len(p) > b.maxSize {
		b.evictOldest()
	}
	if b.count >= b.capacity {
		b.evictOldest()
	}

	b.entries[b.head] = replayEntry{typ: typ, seq: seq, payload: p}
	b.head = (b.head + 1) % b.capacity
	b.count++
	b.size += len(p)
}

// tail returns the index of the oldest entry. Caller must hold b.mu and
// ensure b.count > 0.
func (b *replayBuffer) tail() int {
	return (b.head - b.count + b.capacity) % b.capacity
}

func (b *replayBuffer) evictOldest() {
	t := b.tail()
	b.size -= len(b.entries[t].payload)
	b.entries[t] = replayEntry{}
	b.count--
}

// ReplayFrom returns every stored frame with sequence number >= from, in
// order. Sequence numbers are stored contiguously, so the result is a
// contiguous run when from is still covered by the buffer.
func (b *replayBuffer) ReplayFrom(from uint64) []replayEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []replayEntry
	t := b.tail()
	for i := 0; i < b.count; i++ {
		e := b.entries[(t+i)%b.capacity]
		if e.seq >= from {
			result = append(result, e)
		}
	}
	return result
}

// OldestSeq returns the oldest retained sequence number. ok is false when
// the buffer is empty.
func (b *replayBuffer) OldestSeq() (seq uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return 0, false
	}
	return b.entries[b.tail()].seq, true
}
