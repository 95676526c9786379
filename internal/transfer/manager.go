// Package transfer slices large payloads into chunk frames and reassembles
// them on the receiving side, exposing one logical message per transfer.
package transfer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazelv/bluewire/internal/util"
)

const (
	// ChunkDataSize is how much application data one DATA_CHUNK carries.
	ChunkDataSize = 64 * 1024

	// chunkHeaderSize prefixes every chunk payload: id(16) index(4) total(4).
	chunkHeaderSize = 16 + 4 + 4

	// ackSize is the CHUNK_ACK payload: id(16) next(4).
	ackSize = 16 + 4

	// maxTotalChunks bounds what a peer can make us prepare to buffer
	// (256 MiB of payload at the default chunk size).
	maxTotalChunks = 4096
)

// Defaults, overridable through Config.
const (
	DefaultWindow  = 8
	DefaultTimeout = 60 * time.Second
)

var (
	ErrMalformedChunk = errors.New("malformed chunk payload")
	ErrMalformedAck   = errors.New("malformed chunk ack")
	ErrTimeout        = errors.New("transfer timed out")
)

// Chunk is the decoded form of a DATA_CHUNK payload.
type Chunk struct {
	ID    uuid.UUID
	Index uint32
	Total uint32
	Data  []byte
}

// EncodeChunk serializes a chunk payload.
func EncodeChunk(c *Chunk) []byte {
	buf := make([]byte, chunkHeaderSize+len(c.Data))
	copy(buf[:16], c.ID[:])
	binary.BigEndian.PutUint32(buf[16:20], c.Index)
	binary.BigEndian.PutUint32(buf[20:24], c.Total)
	copy(buf[chunkHeaderSize:], c.Data)
	return buf
}

// DecodeChunk parses a DATA_CHUNK payload, validating its metadata.
func DecodeChunk(payload []byte) (*Chunk, error) {
	if len(payload) < chunkHeaderSize {
		return nil, ErrMalformedChunk
	}
	c := &Chunk{
		Index: binary.BigEndian.Uint32(payload[16:20]),
		Total: binary.BigEndian.Uint32(payload[20:24]),
		Data:  payload[chunkHeaderSize:],
	}
	copy(c.ID[:], payload[:16])
	if c.Total == 0 || c.Total > maxTotalChunks || c.Index >= c.Total {
		return nil, fmt.Errorf("%w: index %d of %d", ErrMalformedChunk, c.Index, c.Total)
	}
	return c, nil
}

// EncodeAck serializes a cumulative ack: next is the count of contiguously
// received chunks from index 0.
func EncodeAck(id uuid.UUID, next uint32) []byte {
	buf := make([]byte, ackSize)
	copy(buf[:16], id[:])
	binary.BigEndian.PutUint32(buf[16:20], next)
	return buf
}

// DecodeAck parses a CHUNK_ACK payload.
func DecodeAck(payload []byte) (uuid.UUID, uint32, error) {
	var id uuid.UUID
	if len(payload) != ackSize {
		return id, 0, ErrMalformedAck
	}
	copy(id[:], payload[:16])
	return id, binary.BigEndian.Uint32(payload[16:20]), nil
}

// Completed is a fully reassembled inbound transfer.
type Completed struct {
	ID       uuid.UUID
	Data     []byte
	MimeHint string
}

// Config tunes the manager.
type Config struct {
	Window    int           // max unacked chunks in flight per outbound transfer
	Timeout   time.Duration // idle time before an incomplete transfer is discarded
	ChunkSize int           // data bytes per chunk (tests shrink this)
}

func (c *Config) setDefaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ChunkSize <= 0 || c.ChunkSize > ChunkDataSize {
		c.ChunkSize = ChunkDataSize
	}
}

type outboundTransfer struct {
	total    uint32
	acked    uint32        // contiguous chunks confirmed by the peer
	progress chan struct{} // pulsed on every ack advance
}

type inboundTransfer struct {
	slots     [][]byte // one entry per chunk index, nil until received
	remaining uint32
	contig    uint32 // chunks received contiguously from index 0
	lastSeen  time.Time
}

// Manager owns all in-flight transfers for one session. Outbound chunk and
// ack payloads leave through the callbacks, which enqueue frames on the
// session's single write path.
type Manager struct {
	cfg      Config
	sendData func(payload []byte) error // DATA_CHUNK out
	sendAck  func(payload []byte) error // CHUNK_ACK out
	onEvict  func(id uuid.UUID)         // incomplete inbound transfer dropped

	mu       sync.Mutex
	outbound map[uuid.UUID]*outboundTransfer
	inbound  map[uuid.UUID]*inboundTransfer
}

// NewManager creates a manager. onEvict may be nil.
func NewManager(cfg Config, sendData, sendAck func([]byte) error, onEvict func(uuid.UUID)) *Manager {
	cfg.setDefaults()
	if onEvict == nil {
		onEvict = func(uuid.UUID) {}
	}
	return &Manager{
		cfg:      cfg,
		sendData: sendData,
		sendAck:  sendAck,
		onEvict:  onEvict,
		outbound: make(map[uuid.UUID]*outboundTransfer),
		inbound:  make(map[uuid.UUID]*inboundTransfer),
	}
}

// NumChunks returns how many chunks a payload of n bytes splits into.
func (m *Manager) NumChunks(n int) uint32 {
	if n == 0 {
		return 1
	}
	return uint32((n + m.cfg.ChunkSize - 1) / m.cfg.ChunkSize)
}

// Send splits payload into chunks and transmits them with a sliding window:
// at most Window chunks may be unacknowledged at any time. It blocks until
// every chunk is acknowledged, the context ends, or no ack progress happens
// for the configured timeout.
func (m *Manager) Send(ctx context.Context, payload []byte) error {
	id := uuid.New()
	total := m.NumChunks(len(payload))

	ob := &outboundTransfer{total: total, progress: make(chan struct{}, 1)}
	m.mu.Lock()
	m.outbound[id] = ob
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.outbound, id)
		m.mu.Unlock()
	}()

	next := uint32(0)
	for {
		m.mu.Lock()
		acked := ob.acked
		m.mu.Unlock()

		if acked >= total {
			return nil
		}

		// Fill the window.
		for next < total && next < acked+uint32(m.cfg.Window) {
			lo := int(next) * m.cfg.ChunkSize
			hi := min(lo+m.cfg.ChunkSize, len(payload))
			chunk := EncodeChunk(&Chunk{ID: id, Index: next, Total: total, Data: payload[lo:hi]})
			if err := m.sendData(chunk); err != nil {
				return fmt.Errorf("send chunk %d/%d: %w", next, total, err)
			}
			next++
		}

		select {
		case <-ob.progress:
		case <-time.After(m.cfg.Timeout):
			return fmt.Errorf("%w: no ack after chunk %d/%d", ErrTimeout, acked, total)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleAck processes a CHUNK_ACK payload. Acks for unknown transfers are
// ignored (the transfer may have just completed or been cancelled).
func (m *Manager) HandleAck(payload []byte) error {
	id, next, err := DecodeAck(payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ob, ok := m.outbound[id]
	if !ok || next <= ob.acked {
		return nil
	}
	ob.acked = min(next, ob.total)
	select {
	case ob.progress <- struct{}{}:
	default:
	}
	return nil
}

// HandleChunk processes a DATA_CHUNK payload. Duplicate chunks are
// idempotently ignored. When the transfer completes, the reassembled payload
// is returned and the transfer entry destroyed.
func (m *Manager) HandleChunk(payload []byte) (*Completed, error) {
	c, err := DecodeChunk(payload)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	ib, ok := m.inbound[c.ID]
	if !ok {
		ib = &inboundTransfer{slots: make([][]byte, c.Total), remaining: c.Total}
		m.inbound[c.ID] = ib
	}
	if uint32(len(ib.slots)) != c.Total {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: total changed mid-transfer", ErrMalformedChunk)
	}
	ib.lastSeen = time.Now()

	if ib.slots[c.Index] == nil {
		data := make([]byte, len(c.Data))
		copy(data, c.Data)
		ib.slots[c.Index] = data
		ib.remaining--
		for ib.contig < c.Total && ib.slots[ib.contig] != nil {
			ib.contig++
		}
	}
	contig := ib.contig
	done := ib.remaining == 0
	if done {
		delete(m.inbound, c.ID)
	}
	m.mu.Unlock()

	if err := m.sendAck(EncodeAck(c.ID, contig)); err != nil {
		return nil, fmt.Errorf("send ack: %w", err)
	}
	if !done {
		return nil, nil
	}

	size := 0
	for _, slot := range ib.slots {
		size += len(slot)
	}
	data := make([]byte, 0, size)
	for _, slot := range ib.slots {
		data = append(data, slot...)
	}
	return &Completed{ID: c.ID, Data: data, MimeHint: http.DetectContentType(data)}, nil
}

// Run evicts inbound transfers that stayed incomplete past the timeout.
// It returns when ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// sweep drops inbound transfers idle past the timeout.
func (m *Manager) sweep(now time.Time) {
	var evicted []uuid.UUID

	m.mu.Lock()
	for id, ib := range m.inbound {
		if now.Sub(ib.lastSeen) > m.cfg.Timeout {
			delete(m.inbound, id)
			evicted = append(evicted, id)
		}
	}
	m.mu.Unlock()

	for _, id := range evicted {
		util.LogWarning("transfer %s evicted: incomplete after %s", id, m.cfg.Timeout)
		m.onEvict(id)
	}
}

// Reset discards every in-flight inbound transfer. Called on session
// teardown; no transfer survives its session.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.inbound = make(map[uuid.UUID]*inboundTransfer)
	m.mu.Unlock()
}
