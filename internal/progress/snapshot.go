package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

const mebibyte = 1024.0 * 1024.0

// Snapshot is a read-only progress summary at one point in time
type Snapshot struct {
	File           string
	FileSize       int64
	FileCopied     int64
	TotalBytes     int64
	BytesMoved     int64
	PercentOfFile  float64
	PercentOfTotal float64
	Elapsed        time.Duration
	ETA            time.Duration
	ETAKnown       bool
	ThroughputMBps float64
}

// Compute derives a Snapshot from the session and the file currently being copied
func Compute(s *Session, file string, fileSize, fileCopied int64, now time.Time) Snapshot {
	total, moved, start := s.Counters()

	snap := Snapshot{
		File:       file,
		FileSize:   fileSize,
		FileCopied: fileCopied,
		TotalBytes: total,
		BytesMoved: moved,
		Elapsed:    now.Sub(start),
	}
	if snap.Elapsed < 0 {
		snap.Elapsed = 0
	}

	snap.PercentOfFile = percent(fileCopied, fileSize)
	snap.PercentOfTotal = percent(moved, total)

	seconds := snap.Elapsed.Seconds()
	if seconds > 0 {
		bytesPerSecond := float64(moved) / seconds
		snap.ThroughputMBps = bytesPerSecond / mebibyte

		if bytesPerSecond > 0 {
			remaining := total - moved
			if remaining < 0 {
				remaining = 0
			}
			eta := float64(remaining) / bytesPerSecond
			if !math.IsInf(eta, 0) && !math.IsNaN(eta) && eta < float64(math.MaxInt64/int64(time.Second)) {
				snap.ETA = time.Duration(eta * float64(time.Second))
				snap.ETAKnown = true
			}
		}
	}

	return snap
}

// percent returns part/whole*100 clamped to [0, 100]; 0 when whole is 0
func percent(part, whole int64) float64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	if part >= whole {
		return 100
	}
	return float64(part) * 100.0 / float64(whole)
}

// String renders the snapshot as the multi-line status text shown to users
func (s Snapshot) String() string {
	eta := "unknown"
	if s.ETAKnown {
		eta = clock(s.ETA)
	}
	return fmt.Sprintf(
		"Copying: %s (%.2f MB/s)\nFile: %.2f%% complete | Total: %.2f%% complete (%s of %s)\nElapsed: %s | ETA: %s",
		s.File, s.ThroughputMBps,
		s.PercentOfFile, s.PercentOfTotal,
		humanize.IBytes(uint64(s.BytesMoved)), humanize.IBytes(uint64(s.TotalBytes)),
		clock(s.Elapsed), eta,
	)
}

// clock formats a duration as hh:mm:ss
func clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
