// Package server provides the MCP tool server and the HTTP API of the
// research memory service. Both are thin front ends over a MemoryService.
package server

import (
	"context"
	"time"

	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/search"
	"github.com/localrivet/researchmemory/internal/syncer"
	"github.com/localrivet/researchmemory/internal/tools"
)

// Frontend is the lifecycle shared by the MCP and HTTP servers.
type Frontend interface {
	// Initialize registers tools or routes.
	Initialize() error

	// Start serves until the transport closes. It blocks.
	Start() error

	// Stop gracefully shuts down the server.
	Stop() error
}

// MemoryService is the set of operations the front ends expose.
type MemoryService interface {
	SyncDecisions(ctx context.Context) (*syncer.Result, error)
	SyncSessions(ctx context.Context) (*syncer.Result, error)
	SyncProject(ctx context.Context) (*syncer.ProjectResult, error)
	SyncStatus(ctx context.Context) ([]*syncer.Status, error)

	Search(ctx context.Context, req search.Request) ([]search.Result, error)
	SearchDecisions(ctx context.Context, query, checkpoint string, topK int) ([]search.Result, error)
	FindSimilar(ctx context.Context, id int64, topK int) ([]search.Result, error)
	VectorEnabled() bool

	// SaveNote stores a caller-written record and returns its id.
	SaveNote(ctx context.Context, note memorystore.Record) (int64, error)

	// Get returns a not found error for unknown ids.
	Get(ctx context.Context, id int64) (*memorystore.Record, error)
	Archive(ctx context.Context, id int64) error
}

// DefaultRequestTimeout bounds a single tool call or HTTP request.
const DefaultRequestTimeout = 30 * time.Second

func toHits(results []search.Result) []tools.MemoryHit {
	hits := make([]tools.MemoryHit, len(results))
	for i, r := range results {
		hits[i] = tools.MemoryHit{
			ID:            r.Record.ID,
			ExternalID:    r.Record.ExternalID,
			Type:          r.Record.Type,
			Namespace:     r.Record.Namespace,
			Title:         r.Record.Title,
			Summary:       r.Record.Summary,
			Content:       r.Record.Content,
			Tags:          r.Record.Tags,
			CreatedAt:     r.Record.CreatedAt.UTC().Format(time.RFC3339),
			LexicalRank:   r.LexicalRank,
			VectorRank:    r.VectorRank,
			Similarity:    r.Similarity,
			CombinedScore: r.CombinedScore,
		}
	}
	return hits
}

func toSyncCounts(r *syncer.Result) tools.SyncCounts {
	return tools.SyncCounts{
		Source:  r.Source,
		Synced:  r.Synced,
		Skipped: r.Skipped,
		Errors:  r.Errors,
		LastID:  r.LastID,
		RunID:   r.RunID,
		Message: r.Message,
	}
}

func syncResponse(results ...*syncer.Result) tools.SyncResponse {
	resp := tools.SyncResponse{Status: tools.StatusSuccess}
	for _, r := range results {
		if r == nil {
			continue
		}
		resp.Results = append(resp.Results, toSyncCounts(r))
		resp.TotalSynced += r.Synced
		resp.TotalSkipped += r.Skipped
		resp.TotalErrors += r.Errors
	}
	return resp
}

func toSourceStatuses(statuses []*syncer.Status) []tools.SourceStatus {
	out := make([]tools.SourceStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, tools.SourceStatus{
			Source:       st.Source,
			LastSyncedID: st.LastSyncedID,
			LastSyncTime: st.LastSyncTime,
			LogCount:     st.LogCount,
			PendingCount: st.PendingCount,
			IndexedCount: st.IndexedCount,
			InSync:       st.InSync,
			DeadLetters:  len(st.DeadLetters),
		})
	}
	return out
}

func searchRequest(req tools.SearchMemoryRequest) search.Request {
	out := search.Request{
		Query:  req.Query,
		TopK:   tools.ClampLimit(req.Limit),
		Intent: search.ParseIntent(req.Intent),
		Filter: memorystore.Filter{
			NamespacePrefix: req.Namespace,
			Type:            req.Type,
		},
	}
	if req.LexicalWeight != nil && req.VectorWeight != nil {
		out.Weights = &search.Weights{Lexical: *req.LexicalWeight, Vector: *req.VectorWeight}
	}
	return out
}

func noteRecord(req tools.SaveNoteRequest) memorystore.Record {
	return memorystore.Record{
		Type:      memorystore.TypeNote,
		Namespace: req.Namespace,
		Title:     req.Title,
		Content:   req.Content,
		Tags:      req.Tags,
		Priority:  req.Priority,
	}
}
