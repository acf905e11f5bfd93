package store

import (
	"fmt"
	"os"
	"time"
)

// Health reports the result of a store health check.
type Health struct {
	Okay           bool     `json:"okay"`
	ResponseTimeMs float64  `json:"response_time_ms"`
	FileSizeKb     int64    `json:"file_size_kb"`
	WalSizeKb      int64    `json:"wal_size_kb"`
	ShmSizeKb      int64    `json:"shm_size_kb"`
	Warnings       []string `json:"warnings,omitempty"`
}

// slowProbeThreshold flags a health probe that took suspiciously long.
const slowProbeThreshold = 100 * time.Millisecond

// Health probes the database with a trivial query and reports file sizes for
// the database and its WAL/SHM sidecars.
func (s *Store) Health() *Health {
	h := &Health{}

	start := time.Now()
	var one int
	err := s.db.QueryRow("SELECT 1").Scan(&one)
	elapsed := time.Since(start)
	h.ResponseTimeMs = float64(elapsed.Microseconds()) / 1000.0

	if err != nil {
		h.Warnings = append(h.Warnings, fmt.Sprintf("probe query failed: %v", err))
		return h
	}
	h.Okay = true

	h.FileSizeKb = fileSizeKb(s.path)
	h.WalSizeKb = fileSizeKb(s.path + "-wal")
	h.ShmSizeKb = fileSizeKb(s.path + "-shm")

	if h.FileSizeKb == 0 {
		h.Warnings = append(h.Warnings, "database file is missing or empty")
	}
	if h.WalSizeKb > h.FileSizeKb && h.WalSizeKb > 1024 {
		h.Warnings = append(h.Warnings, "WAL is larger than the database; a checkpoint may be overdue")
	}
	if elapsed > slowProbeThreshold {
		h.Warnings = append(h.Warnings, fmt.Sprintf("slow probe: %s", elapsed))
	}

	return h
}

func fileSizeKb(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size() / 1024
}
