package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noAck([]byte) error { return nil }

// pair wires two managers back to back: everything a sends lands in b's
// chunk handler, and b's acks land in a's ack handler.
func pair(t *testing.T, cfg Config) (a, b *Manager, completed **Completed, chunksSent *int) {
	t.Helper()
	var done *Completed
	sent := 0

	b = NewManager(cfg, noAck, func(p []byte) error { return a.HandleAck(p) }, nil)
	a = NewManager(cfg, func(p []byte) error {
		sent++
		c, err := b.HandleChunk(p)
		if c != nil {
			done = c
		}
		return err
	}, noAck, nil)
	return a, b, &done, &sent
}

func TestChunkCodec(t *testing.T) {
	id := uuid.New()
	c := &Chunk{ID: id, Index: 3, Total: 9, Data: []byte("payload bytes")}

	got, err := DecodeChunk(EncodeChunk(c))
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, uint32(3), got.Index)
	assert.Equal(t, uint32(9), got.Total)
	assert.Equal(t, c.Data, got.Data)
}

func TestDecodeChunkRejectsBadInput(t *testing.T) {
	id := uuid.New()

	_, err := DecodeChunk(make([]byte, chunkHeaderSize-1))
	assert.ErrorIs(t, err, ErrMalformedChunk, "short payload")

	_, err = DecodeChunk(EncodeChunk(&Chunk{ID: id, Index: 0, Total: 0}))
	assert.ErrorIs(t, err, ErrMalformedChunk, "zero total")

	_, err = DecodeChunk(EncodeChunk(&Chunk{ID: id, Index: 5, Total: 5}))
	assert.ErrorIs(t, err, ErrMalformedChunk, "index past total")

	_, err = DecodeChunk(EncodeChunk(&Chunk{ID: id, Index: 0, Total: maxTotalChunks + 1}))
	assert.ErrorIs(t, err, ErrMalformedChunk, "total past cap")
}

func TestAckCodec(t *testing.T) {
	id := uuid.New()
	gotID, next, err := DecodeAck(EncodeAck(id, 42))
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, uint32(42), next)

	_, _, err = DecodeAck([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedAck)
}

func TestNumChunks(t *testing.T) {
	m := NewManager(Config{}, noAck, noAck, nil)

	assert.Equal(t, uint32(1), m.NumChunks(0), "empty payload still sends one chunk")
	assert.Equal(t, uint32(1), m.NumChunks(ChunkDataSize))
	assert.Equal(t, uint32(2), m.NumChunks(ChunkDataSize+1))
	assert.Equal(t, uint32(8), m.NumChunks(500*1024))
}

func TestSendRoundTrip(t *testing.T) {
	a, _, done, sent := pair(t, Config{})

	payload := make([]byte, 500*1024)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	require.NoError(t, a.Send(context.Background(), payload))
	require.NotNil(t, *done)
	assert.Equal(t, 8, *sent)
	assert.Equal(t, payload, (*done).Data)
}

func TestSendRespectsWindow(t *testing.T) {
	// Drop every chunk: with a window of 4 the sender must stop after 4.
	sent := 0
	m := NewManager(Config{Window: 4, Timeout: 50 * time.Millisecond, ChunkSize: 16},
		func([]byte) error { sent++; return nil }, noAck, nil)

	err := m.Send(context.Background(), make([]byte, 16*10))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 4, sent)
}

func TestSendContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(Config{Window: 1, ChunkSize: 16}, noAck, noAck, nil)
	err := m.Send(ctx, make([]byte, 16*4))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDuplicateChunksIdempotent(t *testing.T) {
	var acks []uint32
	m := NewManager(Config{}, noAck, func(p []byte) error {
		_, next, err := DecodeAck(p)
		acks = append(acks, next)
		return err
	}, nil)

	id := uuid.New()
	first := EncodeChunk(&Chunk{ID: id, Index: 0, Total: 2, Data: []byte("aa")})
	second := EncodeChunk(&Chunk{ID: id, Index: 1, Total: 2, Data: []byte("bb")})

	done, err := m.HandleChunk(first)
	require.NoError(t, err)
	assert.Nil(t, done)

	done, err = m.HandleChunk(first) // duplicate
	require.NoError(t, err)
	assert.Nil(t, done)

	done, err = m.HandleChunk(second)
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, []byte("aabb"), done.Data)
	assert.Equal(t, []uint32{1, 1, 2}, acks)
}

func TestOutOfOrderAcksAreCumulative(t *testing.T) {
	var acks []uint32
	m := NewManager(Config{}, noAck, func(p []byte) error {
		_, next, err := DecodeAck(p)
		acks = append(acks, next)
		return err
	}, nil)

	id := uuid.New()
	chunks := [][]byte{
		EncodeChunk(&Chunk{ID: id, Index: 2, Total: 3, Data: []byte("cc")}),
		EncodeChunk(&Chunk{ID: id, Index: 1, Total: 3, Data: []byte("bb")}),
		EncodeChunk(&Chunk{ID: id, Index: 0, Total: 3, Data: []byte("aa")}),
	}

	var done *Completed
	for _, c := range chunks {
		var err error
		done, err = m.HandleChunk(c)
		require.NoError(t, err)
	}
	require.NotNil(t, done)
	assert.Equal(t, []byte("aabbcc"), done.Data)
	// Nothing contiguous until index 0 lands, then everything at once.
	assert.Equal(t, []uint32{0, 0, 3}, acks)
}

func TestUnknownAckIgnored(t *testing.T) {
	m := NewManager(Config{}, noAck, noAck, nil)
	assert.NoError(t, m.HandleAck(EncodeAck(uuid.New(), 7)))
}

func TestTotalChangedMidTransfer(t *testing.T) {
	m := NewManager(Config{}, noAck, noAck, nil)
	id := uuid.New()

	_, err := m.HandleChunk(EncodeChunk(&Chunk{ID: id, Index: 0, Total: 3, Data: []byte("x")}))
	require.NoError(t, err)

	_, err = m.HandleChunk(EncodeChunk(&Chunk{ID: id, Index: 1, Total: 4, Data: []byte("y")}))
	assert.ErrorIs(t, err, ErrMalformedChunk)
}

func TestSweepEvictsStale(t *testing.T) {
	var evicted []uuid.UUID
	m := NewManager(Config{Timeout: time.Second}, noAck, noAck, func(id uuid.UUID) {
		evicted = append(evicted, id)
	})

	id := uuid.New()
	_, err := m.HandleChunk(EncodeChunk(&Chunk{ID: id, Index: 0, Total: 2, Data: []byte("x")}))
	require.NoError(t, err)

	m.sweep(time.Now())
	assert.Empty(t, evicted, "fresh transfer must survive the sweep")

	m.sweep(time.Now().Add(2 * time.Second))
	assert.Equal(t, []uuid.UUID{id}, evicted)

	// The evicted transfer is gone: a late chunk starts a new one.
	m.mu.Lock()
	assert.Empty(t, m.inbound)
	m.mu.Unlock()
}

func TestMimeHint(t *testing.T) {
	a, _, done, _ := pair(t, Config{ChunkSize: 8})

	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 32)...)
	require.NoError(t, a.Send(context.Background(), png))
	require.NotNil(t, *done)
	assert.Equal(t, "image/png", (*done).MimeHint)
}

func TestSendChunkError(t *testing.T) {
	boom := errors.New("link down")
	m := NewManager(Config{ChunkSize: 16}, func([]byte) error { return boom }, noAck, nil)

	err := m.Send(context.Background(), make([]byte, 16))
	assert.ErrorIs(t, err, boom)
}
