package stream

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/hazelv/bluewire/internal/protocol"
)

// makeFrames builds a deterministic sequence of frames and the concatenated
// wire bytes for them.
func makeFrames(n int) ([]*protocol.Frame, []byte) {
	frames := make([]*protocol.Frame, n)
	var wire []byte
	for i := range frames {
		payload := bytes.Repeat([]byte{byte(i + 1)}, 10*i+1)
		frames[i] = &protocol.Frame{Type: protocol.TypeText, Seq: uint64(i), Payload: payload}
		wire = append(wire, protocol.Encode(frames[i])...)
	}
	return frames, wire
}

// drain pulls every currently-parseable frame out of the reassembler.
func drain(t *testing.T, r *Reassembler) []*protocol.Frame {
	t.Helper()
	var out []*protocol.Frame
	for {
		frame, err := r.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if frame == nil {
			return out
		}
		out = append(out, frame)
	}
}

func assertSameFrames(t *testing.T, got, want []*protocol.Frame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("frame count: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Type != want[i].Type || got[i].Seq != want[i].Seq ||
			!bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Fatalf("frame %d mismatch: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestSingleFeed verifies that one Feed carrying N whole frames yields all N
// in order.
func TestSingleFeed(t *testing.T) {
	frames, wire := makeFrames(8)

	r := NewReassembler()
	if err := r.Feed(wire); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	assertSameFrames(t, drain(t, r), frames)
	if r.Buffered() != 0 {
		t.Fatalf("expected empty buffer, %d bytes left", r.Buffered())
	}
}

// TestByteAtATime verifies chunking-boundary independence in the extreme
// case: the stream arrives one byte per Feed.
func TestByteAtATime(t *testing.T) {
	frames, wire := makeFrames(5)

	r := NewReassembler()
	var got []*protocol.Frame
	for _, b := range wire {
		if err := r.Feed([]byte{b}); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		got = append(got, drain(t, r)...)
	}

	assertSameFrames(t, got, frames)
}

// TestEverySplitOffset slices the wire bytes at every possible single offset
// and checks the frame sequence is identical each time.
func TestEverySplitOffset(t *testing.T) {
	frames, wire := makeFrames(3)

	for cut := 0; cut <= len(wire); cut++ {
		r := NewReassembler()
		if err := r.Feed(wire[:cut]); err != nil {
			t.Fatalf("cut %d: Feed failed: %v", cut, err)
		}
		got := drain(t, r)
		if err := r.Feed(wire[cut:]); err != nil {
			t.Fatalf("cut %d: Feed failed: %v", cut, err)
		}
		got = append(got, drain(t, r)...)

		assertSameFrames(t, got, frames)
	}
}

// TestRandomChunking feeds the stream in random-sized pieces.
func TestRandomChunking(t *testing.T) {
	frames, wire := makeFrames(20)

	rng := rand.New(rand.NewPCG(42, 0))
	r := NewReassembler()
	var got []*protocol.Frame
	for len(wire) > 0 {
		n := min(1+int(rng.Uint32N(97)), len(wire))
		if err := r.Feed(wire[:n]); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		wire = wire[n:]
		got = append(got, drain(t, r)...)
	}

	assertSameFrames(t, got, frames)
}

// TestNeedMoreConsumesNothing verifies that a partial frame leaves the
// buffer intact until the rest arrives.
func TestNeedMoreConsumesNothing(t *testing.T) {
	_, wire := makeFrames(1)

	r := NewReassembler()
	if err := r.Feed(wire[:protocol.HeaderSize+2]); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		frame, err := r.Next()
		if err != nil || frame != nil {
			t.Fatalf("expected need-more, got frame=%v err=%v", frame, err)
		}
		if r.Buffered() != protocol.HeaderSize+2 {
			t.Fatalf("buffer consumed on need-more: %d bytes left", r.Buffered())
		}
	}
}

// TestCorruptPayloadSurfacesBadDigest verifies that corruption inside a
// well-formed header+payload region is reported, not skipped.
func TestCorruptPayloadSurfacesBadDigest(t *testing.T) {
	_, wire := makeFrames(2)
	wire[protocol.HeaderSize] ^= 0xFF // first payload byte of frame 0

	r := NewReassembler()
	if err := r.Feed(wire); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	_, err := r.Next()
	if !errors.Is(err, protocol.ErrBadDigest) {
		t.Fatalf("got %v, want ErrBadDigest", err)
	}
}

// TestGarbageHeaderSurfacesError verifies that a stream positioned on
// garbage fails fast instead of allocating a payload buffer.
func TestGarbageHeaderSurfacesError(t *testing.T) {
	r := NewReassembler()
	garbage := bytes.Repeat([]byte{0xFF}, protocol.HeaderSize)
	if err := r.Feed(garbage); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	if _, err := r.Next(); err == nil {
		t.Fatal("expected error on garbage header")
	}
}

// TestFeedOverflow verifies the buffer cap.
func TestFeedOverflow(t *testing.T) {
	r := NewReassembler()
	if err := r.Feed(make([]byte, maxBuffered)); err != nil {
		t.Fatalf("Feed at cap failed: %v", err)
	}
	if err := r.Feed([]byte{0}); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("got %v, want ErrBufferOverflow", err)
	}
}
