// Package tools defines the MCP tool names and the request and response
// schemas of the research memory service.
package tools

const (
	// ToolSyncDecisions is the name of the sync_decisions MCP tool
	ToolSyncDecisions = "sync_decisions"

	// ToolSyncSessions is the name of the sync_sessions MCP tool
	ToolSyncSessions = "sync_sessions"

	// ToolSyncStatus is the name of the sync_status MCP tool
	ToolSyncStatus = "sync_status"

	// ToolSearchMemory is the name of the search_memory MCP tool
	ToolSearchMemory = "search_memory"

	// ToolSearchDecisions is the name of the search_decisions MCP tool
	ToolSearchDecisions = "search_decisions"

	// ToolFindSimilar is the name of the find_similar MCP tool
	ToolFindSimilar = "find_similar"

	// ToolSaveNote is the name of the save_note MCP tool
	ToolSaveNote = "save_note"

	// ToolArchiveMemory is the name of the archive_memory MCP tool
	ToolArchiveMemory = "archive_memory"

	// DefaultSearchLimit is used when a search request gives no limit
	DefaultSearchLimit = 10

	// MaxSearchLimit caps the limit of any search request
	MaxSearchLimit = 100

	// StatusSuccess and StatusError are the values of every response's Status
	StatusSuccess = "success"
	StatusError   = "error"
)

// ClampLimit applies DefaultSearchLimit and MaxSearchLimit to a requested limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// SyncDecisionsRequest defines the input schema for sync_decisions tool
type SyncDecisionsRequest struct {
	// IncludeSessions also syncs the sessions directory
	IncludeSessions bool `json:"include_sessions,omitempty"`
}

// SyncSessionsRequest defines the input schema for sync_sessions tool
type SyncSessionsRequest struct{}

// SyncCounts is the outcome of syncing one source
type SyncCounts struct {
	Source  string `json:"source"`
	Synced  int    `json:"synced"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
	LastID  string `json:"last_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// SyncResponse defines the output schema for sync_decisions and sync_sessions
type SyncResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Results holds one entry per synced source
	Results []SyncCounts `json:"results,omitempty"`

	TotalSynced  int `json:"total_synced"`
	TotalSkipped int `json:"total_skipped"`
	TotalErrors  int `json:"total_errors"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`
}

// SyncStatusRequest defines the input schema for sync_status tool
type SyncStatusRequest struct{}

// SourceStatus reports how far one source has been applied
type SourceStatus struct {
	Source       string `json:"source"`
	LastSyncedID string `json:"last_synced_id,omitempty"`
	LastSyncTime string `json:"last_sync_time,omitempty"`
	LogCount     int    `json:"log_count"`
	PendingCount int    `json:"pending_count"`
	IndexedCount int    `json:"indexed_count"`
	InSync       bool   `json:"in_sync"`
	DeadLetters  int    `json:"dead_letters"`
}

// SyncStatusResponse defines the output schema for sync_status tool
type SyncStatusResponse struct {
	Status  string         `json:"status"`
	Sources []SourceStatus `json:"sources,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SearchMemoryRequest defines the input schema for search_memory tool
type SearchMemoryRequest struct {
	// Query is the free text to search for
	Query string `json:"query"`

	// Limit is the maximum number of results to return
	// If not specified, DefaultSearchLimit will be used
	Limit int `json:"limit,omitempty"`

	// Namespace restricts results to a namespace and its children
	Namespace string `json:"namespace,omitempty"`

	// Type restricts results to one record type
	Type string `json:"type,omitempty"`

	// Intent selects preset weights: citation, decision, methodology or general
	Intent string `json:"intent,omitempty"`

	// LexicalWeight and VectorWeight override the intent when both are set
	LexicalWeight *float64 `json:"lexical_weight,omitempty"`
	VectorWeight  *float64 `json:"vector_weight,omitempty"`
}

// MemoryHit is one search result
type MemoryHit struct {
	ID         int64    `json:"id"`
	ExternalID string   `json:"external_id,omitempty"`
	Type       string   `json:"type"`
	Namespace  string   `json:"namespace"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary,omitempty"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  string   `json:"created_at"`

	LexicalRank   int     `json:"lexical_rank,omitempty"`
	VectorRank    int     `json:"vector_rank,omitempty"`
	Similarity    float64 `json:"similarity,omitempty"`
	CombinedScore float64 `json:"combined_score"`
}

// SearchMemoryResponse defines the output schema for search_memory,
// search_decisions and find_similar
type SearchMemoryResponse struct {
	Status  string      `json:"status"`
	Results []MemoryHit `json:"results"`

	// VectorEnabled is false when results are purely lexical
	VectorEnabled bool `json:"vector_enabled"`

	Error string `json:"error,omitempty"`
}

// SearchDecisionsRequest defines the input schema for search_decisions tool
type SearchDecisionsRequest struct {
	Query string `json:"query"`

	// Checkpoint restricts results to one checkpoint, e.g. CP_METHODOLOGY
	Checkpoint string `json:"checkpoint,omitempty"`

	Limit int `json:"limit,omitempty"`
}

// FindSimilarRequest defines the input schema for find_similar tool
type FindSimilarRequest struct {
	// ID is the record to find neighbours of
	ID    int64 `json:"id"`
	Limit int   `json:"limit,omitempty"`
}

// SaveNoteRequest defines the input schema for save_note tool
type SaveNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`

	// Namespace defaults to "notes"
	Namespace string   `json:"namespace,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Priority  int      `json:"priority,omitempty"`
}

// SaveNoteResponse defines the output schema for save_note tool
type SaveNoteResponse struct {
	Status string `json:"status"`

	// ID is the identifier assigned to the saved note
	ID int64 `json:"id,omitempty"`

	Error string `json:"error,omitempty"`
}

// ArchiveMemoryRequest defines the input schema for archive_memory tool
type ArchiveMemoryRequest struct {
	ID int64 `json:"id"`
}

// ArchiveMemoryResponse defines the output schema for archive_memory tool
type ArchiveMemoryResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
