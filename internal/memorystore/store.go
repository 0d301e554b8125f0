// Package memorystore provides the durable record index of the research
// memory service: keyed storage with full-text and external-id lookup paths.
package memorystore

import (
	"context"
	"time"
)

// Record types written by this module. Any other non-empty type is accepted.
const (
	TypeDecision = "decision"
	TypeContext  = "context"
	TypeNote     = "note"
)

// Record statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Record is one stored unit of project memory.
type Record struct {
	// ID is assigned by the store on Put. Unique, monotonic, immutable.
	ID int64 `json:"id"`

	// ExternalID is the idempotency key from the source log; empty means
	// absent. No two active records share a non-empty ExternalID.
	ExternalID string `json:"external_id,omitempty"`

	Type      string `json:"type"`
	Namespace string `json:"namespace"`

	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`

	// Embedding is nil for records excluded from vector search.
	Embedding []float32 `json:"-"`

	Tags        []string `json:"tags,omitempty"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	ProjectName string   `json:"project_name,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows searches and scans. Zero values match everything.
type Filter struct {
	// NamespacePrefix matches whole dot-separated segments: "decisions"
	// matches "decisions" and "decisions.X" but not "decisionsX".
	NamespacePrefix string

	// Type matches Record.Type exactly.
	Type string
}

// Stats summarizes the store contents.
type Stats struct {
	Total          int            `json:"total"`
	Active         int            `json:"active"`
	Archived       int            `json:"archived"`
	WithEmbeddings int            `json:"with_embeddings"`
	ByType         map[string]int `json:"by_type"`
}

// EmbeddingFunc receives one (id, embedding) pair of a scan. Returning an
// error stops the scan and is returned from IterEmbeddings.
type EmbeddingFunc func(id int64, embedding []float32) error

// MemoryStore defines the interface for durable record storage.
type MemoryStore interface {
	// Initialize opens or creates the store at dbPath.
	Initialize(dbPath string) error

	// Close closes the store and releases any resources.
	Close() error

	// Put inserts a new record and returns its id. It fails with a conflict
	// error when the external id is already bound to an active record.
	Put(ctx context.Context, r *Record) (int64, error)

	// Get returns the record with the given id, archived or not, or nil.
	Get(ctx context.Context, id int64) (*Record, error)

	// FindByExternalID returns the record bound to externalID, or nil when
	// none was ever written. Active records win over archived ones.
	FindByExternalID(ctx context.Context, externalID string) (*Record, error)

	// SearchText ranks active records lexically against query. Equal scores
	// order by descending id.
	SearchText(ctx context.Context, query string, filter Filter, limit int) ([]Record, error)

	// IterEmbeddings calls fn for every active record with an embedding.
	// Each call is a fresh, finite scan.
	IterEmbeddings(ctx context.Context, filter Filter, fn EmbeddingFunc) error

	// Count returns the number of active records matching filter.
	Count(ctx context.Context, filter Filter) (int, error)

	// Archive hides a record from search. Get still returns it.
	Archive(ctx context.Context, id int64) error

	// Stats summarizes the store contents.
	Stats(ctx context.Context) (*Stats, error)
}
