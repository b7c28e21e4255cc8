package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the execution journal.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ExecutionEntry records one check-in attempt against the portal.
// Keep it compact and schema-stable.
type ExecutionEntry struct {
	At           time.Time
	Action       string
	ScheduledFor time.Time // zero for immediate executions
	Success      bool
	Message      string
	Manual       bool // true when triggered by a command, false for timers
}
