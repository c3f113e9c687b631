package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DispatchEntry records one per-target write outcome.
// Keep it compact and schema-stable.
type DispatchEntry struct {
	At       time.Time `json:"at"`
	Schedule string    `json:"schedule"`
	Target   string    `json:"target"`
	Value    string    `json:"value"`
	Outcome  string    `json:"outcome"`
	Error    string    `json:"error,omitempty"`
}

// TransitionEntry records one committed property change on a local object.
type TransitionEntry struct {
	At       time.Time `json:"at"`
	Device   uint32    `json:"device"`
	Object   string    `json:"object"`
	Property string    `json:"property"`
	Old      string    `json:"old,omitempty"`
	New      string    `json:"new"`
}
