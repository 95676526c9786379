package session

import (
	"bytes"
	"testing"
)

func TestReplayFromReturnsTail(t *testing.T) {
	b := newReplayBuffer(1 << 20)
	for seq := uint64(0); seq < 10; seq++ {
		b.Store(0x10, seq, []byte{byte(seq)})
	}

	entries := b.ReplayFrom(6)
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	for i, e := range entries {
		want := uint64(6 + i)
		if e.seq != want {
			t.Errorf("entry %d: seq %d, want %d", i, e.seq, want)
		}
		if !bytes.Equal(e.payload, []byte{byte(want)}) {
			t.Errorf("entry %d: wrong payload", i)
		}
	}

	if got := b.ReplayFrom(10); got != nil {
		t.Errorf("replay past newest returned %d entries", len(got))
	}
}

func TestReplayStoreCopiesPayload(t *testing.T) {
	b := newReplayBuffer(1 << 20)
	p := []byte("original")
	b.Store(0x10, 0, p)
	p[0] = 'X'

	entries := b.ReplayFrom(0)
	if string(entries[0].payload) != "original" {
		t.Error("buffer aliases the caller's slice")
	}
}

func TestReplayEvictsOldestByBytes(t *testing.T) {
	b := newReplayBuffer(1 << 20)
	b.maxSize = 300 // shrink after construction to force byte eviction

	payload := make([]byte, 100)
	for seq := uint64(0); seq < 5; seq++ {
		b.Store(0x10, seq, payload)
	}

	oldest, ok := b.OldestSeq()
	if !ok {
		t.Fatal("buffer unexpectedly empty")
	}
	if oldest == 0 {
		t.Error("oldest entries were not evicted")
	}
	if b.size > b.maxSize {
		t.Errorf("size %d exceeds limit %d", b.size, b.maxSize)
	}
}

func TestReplayOldestSeqEmpty(t *testing.T) {
	b := newReplayBuffer(1 << 20)
	if _, ok := b.OldestSeq(); ok {
		t.Error("empty buffer reported an oldest seq")
	}
}

func TestSeqGen(t *testing.T) {
	g := NewSeqGen()
	if g.Current() != 0 {
		t.Errorf("initial Current() = %d, want 0", g.Current())
	}
	for want := uint64(0); want < 3; want++ {
		if got := g.Next(); got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}
	if g.Current() != 3 {
		t.Errorf("Current() = %d, want 3", g.Current())
	}
}
