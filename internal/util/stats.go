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

// Stats is the process-wide media/match counter.
var Stats = &stats{}

type stats struct {
	Matches   atomic.Int64 // rooms entered since process start
	Skips     atomic.Int64 // user-initiated skips since process start
	BytesSent atomic.Int64 // media bytes written to local tracks
	BytesRecv atomic.Int64 // RTP bytes read from remote tracks
}

func (s *stats) AddMatch()     { s.Matches.Add(1) }
func (s *stats) AddSkip()      { s.Skips.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs media throughput every
// interval while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs

				if inS > 0 || outS > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, Stats.Matches.Load(), Stats.Skips.Load()))
				}

				prevSent = sent
				prevRecv = recv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string such
// as "99.0   B" or " 1.5 KiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// keeps three integer digits at most
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporter line.
func formatStats(inS, outS float64, matches, skips int64) string {
	return fmt.Sprintf("Media in: %s/s | out: %s/s | matches: %d, skips: %d",
		formatBytes(inS),
		formatBytes(outS),
		matches,
		skips,
	)
}
