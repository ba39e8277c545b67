// Package store keeps the command history of the dcon CLI. The default
// implementation uses SQLite (pure Go, no CGO).
package store

import (
	"context"
	"time"
)

// Entry is one command sent to a director.
type Entry struct {
	ID        string        `json:"id"`
	Profile   string        `json:"profile"`
	Director  string        `json:"director"`
	Command   string        `json:"command"`
	APILevel  int           `json:"api_level"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Bytes     int           `json:"bytes"`
	IsError   bool          `json:"is_error"`
	Error     string        `json:"error,omitempty"`
}

// Filter narrows Recent. Zero values match everything.
type Filter struct {
	Profile    string
	ErrorsOnly bool
	Limit      int // 0 means DefaultLimit
}

// DefaultLimit is the number of entries Recent returns when no limit is set.
const DefaultLimit = 50

// Store is the history backend used by the CLI.
type Store interface {
	// Record appends an entry. An empty ID is filled in.
	Record(ctx context.Context, e Entry) error
	// Recent returns the newest entries first.
	Recent(ctx context.Context, f Filter) ([]Entry, error)
	// Prune deletes entries started before cutoff and reports how many.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
