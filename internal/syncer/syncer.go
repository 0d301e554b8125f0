// Package syncer replicates append-only project logs into the memory store.
// Each log entry is applied at most once, keyed by its declared id, and a
// cursor in the project state file records how far the log has been read.
package syncer

import (
	"context"

	"github.com/localrivet/researchmemory/internal/memorystore"
)

// Entry is one item of a source log, already decoded into a typed form.
type Entry interface {
	// Key returns the entry's idempotency key, or a malformed entry error
	// when the entry declares none.
	Key() (string, error)

	// Fingerprint identifies the entry's raw content. It stands in for the
	// key in dead letters of keyless entries.
	Fingerprint() string

	// ToRecord maps the entry to a record. It has no side effects.
	ToRecord() (memorystore.Record, error)
}

// Source is a finite, ordered, read-only log of entries.
type Source interface {
	// Name labels the source in results, logs and dead letters.
	Name() string

	// CursorKey is the project state metadata key holding this source's
	// cursor. Sources without a cursor return "".
	CursorKey() string

	// Scope selects the records this source writes.
	Scope() memorystore.Filter

	// Entries reads the whole log in log order. A missing log returns a not
	// found error; an unreadable one a malformed entry error.
	Entries(ctx context.Context) ([]Entry, error)
}

// Result reports one sync run.
type Result struct {
	Source  string `json:"source"`
	Synced  int    `json:"synced"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`

	// LastID is the cursor after the run, or the last processed key for
	// sources without a cursor. Empty when nothing was ever applied.
	LastID  string `json:"last_id,omitempty"`
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// ProjectResult combines the decision and session runs of a project sync.
type ProjectResult struct {
	Decisions    *Result `json:"decisions"`
	Sessions     *Result `json:"sessions"`
	TotalSynced  int     `json:"total_synced"`
	TotalSkipped int     `json:"total_skipped"`
	TotalErrors  int     `json:"total_errors"`
}

// Status describes how far a source has been applied.
type Status struct {
	Source       string       `json:"source"`
	LastSyncedID string       `json:"last_synced_id,omitempty"`
	LastSyncTime string       `json:"last_sync_time,omitempty"`
	LogCount     int          `json:"log_count"`
	PendingCount int          `json:"pending_count"`
	IndexedCount int          `json:"indexed_count"`
	InSync       bool         `json:"in_sync"`
	DeadLetters  []DeadLetter `json:"dead_letters,omitempty"`
}
