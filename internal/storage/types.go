package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Outcome records one admission decision for a candidate response.
// Keep it compact and schema-stable.
type Outcome struct {
	At           time.Time
	Conversation string
	Agent        string
	// Result is "sent" or a suppression reason
	// ("rate_limited", "breaker_open", "duplicate", "empty", "falloff", "paused").
	Result string
}
