// Package util provides shared logging and accounting helpers.
package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic counter.
var Stats = &stats{}

type stats struct {
	FramesSent atomic.Int64 // cumulative frames written to the link
	FramesRecv atomic.Int64 // cumulative frames decoded from the link
	BytesSent  atomic.Int64 // cumulative payload bytes sent
	BytesRecv  atomic.Int64 // cumulative payload bytes received
	Reconnects atomic.Int64 // cumulative reconnect attempts since process start
}

func (s *stats) AddFrameSent(n int) { s.FramesSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddFrameRecv(n int) { s.FramesRecv.Add(1); s.BytesRecv.Add(int64(n)) }
func (s *stats) AddReconnect()      { s.Reconnects.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs link statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevReconn int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				reconn := Stats.Reconnects.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				dropC := reconn - prevReconn

				if dropC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, dropC))
				}

				prevSent = sent
				prevRecv = recv
				prevReconn = reconn

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, reconn int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Reconn: %2d",
		formatBytes(inS),
		formatBytes(outS),
		reconn,
	)
}
