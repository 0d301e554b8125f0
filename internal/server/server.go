package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/localrivet/gomcp/server"
	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/tools"
)

// Common server error types
var (
	ErrServerNotInitialized = errors.New("server not initialized")
	ErrMissingDependencies  = errors.New("one or more required dependencies are nil")
)

// MCPToolServer serves the memory tools to MCP clients over stdio.
type MCPToolServer struct {
	service   MemoryService
	logger    *slog.Logger
	timeout   time.Duration
	mcpServer server.Server
}

// NewMCPToolServer creates a new MCPToolServer instance. A zero timeout uses
// DefaultRequestTimeout.
func NewMCPToolServer(service MemoryService, logger *slog.Logger, timeout time.Duration) *MCPToolServer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &MCPToolServer{
		service: service,
		logger:  logger,
		timeout: timeout,
	}
}

// Initialize registers every tool on a new MCP server.
func (s *MCPToolServer) Initialize() error {
	s.logger.Info("Initializing MCP tool server")

	if s.service == nil {
		return errortypes.ConfigError(ErrMissingDependencies, "server initialization failed")
	}

	srv := server.NewServer("researchmemory")

	srv = srv.Tool(tools.ToolSyncDecisions, "Sync new decisions from the decision log into the memory index",
		s.handleSyncDecisions)
	srv = srv.Tool(tools.ToolSyncSessions, "Sync session files into the memory index",
		s.handleSyncSessions)
	srv = srv.Tool(tools.ToolSyncStatus, "Report how far the decision log and sessions have been synced",
		s.handleSyncStatus)
	srv = srv.Tool(tools.ToolSearchMemory, "Hybrid lexical and semantic search over project memory",
		s.handleSearchMemory)
	srv = srv.Tool(tools.ToolSearchDecisions, "Search synced research decisions, optionally within one checkpoint",
		s.handleSearchDecisions)
	srv = srv.Tool(tools.ToolFindSimilar, "Find memories similar to an existing one",
		s.handleFindSimilar)
	srv = srv.Tool(tools.ToolSaveNote, "Save a free-form note to project memory",
		s.handleSaveNote)
	srv = srv.Tool(tools.ToolArchiveMemory, "Archive a memory so it no longer appears in search",
		s.handleArchiveMemory)

	s.mcpServer = srv
	s.logger.Info("MCP tool server initialized successfully", "tool_count", 8)
	return nil
}

// Start starts the MCP server on the stdio transport.
func (s *MCPToolServer) Start() error {
	if s.mcpServer == nil {
		return errortypes.ConfigError(ErrServerNotInitialized, "cannot start server")
	}

	s.logger.Info("Starting MCP tool server")
	return s.mcpServer.AsStdio().Run()
}

// Stop gracefully shuts down the MCP server.
func (s *MCPToolServer) Stop() error {
	s.logger.Info("Stopping MCP tool server")
	// The server will exit when stdin is closed
	return nil
}

func (s *MCPToolServer) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// failure logs err and returns the message sent back to the client.
func (s *MCPToolServer) failure(err error) string {
	errortypes.LogError(s.logger, err)
	return err.Error()
}

func (s *MCPToolServer) handleSyncDecisions(ctx *server.Context, req tools.SyncDecisionsRequest) (tools.SyncResponse, error) {
	s.logger.Info("Processing sync_decisions request", "include_sessions", req.IncludeSessions)

	rctx, cancel := s.requestContext()
	defer cancel()

	if req.IncludeSessions {
		res, err := s.service.SyncProject(rctx)
		if err != nil {
			return tools.SyncResponse{Status: tools.StatusError, Error: s.failure(err)}, nil
		}
		return syncResponse(res.Decisions, res.Sessions), nil
	}

	res, err := s.service.SyncDecisions(rctx)
	if err != nil {
		return tools.SyncResponse{Status: tools.StatusError, Error: s.failure(err)}, nil
	}
	return syncResponse(res), nil
}

func (s *MCPToolServer) handleSyncSessions(ctx *server.Context, req tools.SyncSessionsRequest) (tools.SyncResponse, error) {
	s.logger.Info("Processing sync_sessions request")

	rctx, cancel := s.requestContext()
	defer cancel()

	res, err := s.service.SyncSessions(rctx)
	if err != nil {
		return tools.SyncResponse{Status: tools.StatusError, Error: s.failure(err)}, nil
	}
	return syncResponse(res), nil
}

func (s *MCPToolServer) handleSyncStatus(ctx *server.Context, req tools.SyncStatusRequest) (tools.SyncStatusResponse, error) {
	rctx, cancel := s.requestContext()
	defer cancel()

	statuses, err := s.service.SyncStatus(rctx)
	if err != nil {
		return tools.SyncStatusResponse{Status: tools.StatusError, Error: s.failure(err)}, nil
	}
	return tools.SyncStatusResponse{Status: tools.StatusSuccess, Sources: toSourceStatuses(statuses)}, nil
}

func (s *MCPToolServer) handleSearchMemory(ctx *server.Context, req tools.SearchMemoryRequest) (tools.SearchMemoryResponse, error) {
	s.logger.Info("Processing search_memory request", "query_len", len(req.Query), "limit", req.Limit, "intent", req.Intent)

	rctx, cancel := s.requestContext()
	defer cancel()

	results, err := s.service.Search(rctx, searchRequest(req))
	if err != nil {
		return tools.SearchMemoryResponse{Status: tools.StatusError, Results: []tools.MemoryHit{}, Error: s.failure(err)}, nil
	}

	s.logger.Info("Search complete", "count", len(results))
	return tools.SearchMemoryResponse{
		Status:        tools.StatusSuccess,
		Results:       toHits(results),
		VectorEnabled: s.service.VectorEnabled(),
	}, nil
}

func (s *MCPToolServer) handleSearchDecisions(ctx *server.Context, req tools.SearchDecisionsRequest) (tools.SearchMemoryResponse, error) {
	s.logger.Info("Processing search_decisions request", "checkpoint", req.Checkpoint, "limit", req.Limit)

	rctx, cancel := s.requestContext()
	defer cancel()

	results, err := s.service.SearchDecisions(rctx, req.Query, req.Checkpoint, tools.ClampLimit(req.Limit))
	if err != nil {
		return tools.SearchMemoryResponse{Status: tools.StatusError, Results: []tools.MemoryHit{}, Error: s.failure(err)}, nil
	}
	return tools.SearchMemoryResponse{
		Status:        tools.StatusSuccess,
		Results:       toHits(results),
		VectorEnabled: s.service.VectorEnabled(),
	}, nil
}

func (s *MCPToolServer) handleFindSimilar(ctx *server.Context, req tools.FindSimilarRequest) (tools.SearchMemoryResponse, error) {
	s.logger.Info("Processing find_similar request", "id", req.ID, "limit", req.Limit)

	if req.ID <= 0 {
		err := errortypes.ValidationError(errors.New("id must be positive"), "invalid find_similar request")
		return tools.SearchMemoryResponse{Status: tools.StatusError, Results: []tools.MemoryHit{}, Error: s.failure(err)}, nil
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	results, err := s.service.FindSimilar(rctx, req.ID, tools.ClampLimit(req.Limit))
	if err != nil {
		return tools.SearchMemoryResponse{Status: tools.StatusError, Results: []tools.MemoryHit{}, Error: s.failure(err)}, nil
	}
	return tools.SearchMemoryResponse{
		Status:        tools.StatusSuccess,
		Results:       toHits(results),
		VectorEnabled: s.service.VectorEnabled(),
	}, nil
}

func (s *MCPToolServer) handleSaveNote(ctx *server.Context, req tools.SaveNoteRequest) (tools.SaveNoteResponse, error) {
	s.logger.Info("Processing save_note request", "title", req.Title, "content_len", len(req.Content))

	rctx, cancel := s.requestContext()
	defer cancel()

	id, err := s.service.SaveNote(rctx, noteRecord(req))
	if err != nil {
		return tools.SaveNoteResponse{Status: tools.StatusError, Error: s.failure(err)}, nil
	}

	s.logger.Info("Successfully saved note", "id", id)
	return tools.SaveNoteResponse{Status: tools.StatusSuccess, ID: id}, nil
}

func (s *MCPToolServer) handleArchiveMemory(ctx *server.Context, req tools.ArchiveMemoryRequest) (tools.ArchiveMemoryResponse, error) {
	s.logger.Info("Processing archive_memory request", "id", req.ID)

	if req.ID <= 0 {
		err := errortypes.ValidationError(errors.New("id must be positive"), "invalid archive_memory request")
		return tools.ArchiveMemoryResponse{Status: tools.StatusError, Error: s.failure(err)}, nil
	}

	rctx, cancel := s.requestContext()
	defer cancel()

	if err := s.service.Archive(rctx, req.ID); err != nil {
		errortypes.LogError(s.logger, err)
		return tools.ArchiveMemoryResponse{Status: tools.StatusError, Error: err.Error()}, nil
	}

	s.logger.Info("Successfully archived memory", "id", req.ID)
	return tools.ArchiveMemoryResponse{Status: tools.StatusSuccess}, nil
}
