// Package researchmemory syncs a research project's decision log into a
// searchable memory index and serves hybrid lexical and semantic retrieval
// over it, to MCP clients, HTTP callers and embedding Go programs.
package researchmemory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/localrivet/researchmemory/internal/config"
	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/logger"
	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/search"
	"github.com/localrivet/researchmemory/internal/server"
	"github.com/localrivet/researchmemory/internal/summarizer"
	"github.com/localrivet/researchmemory/internal/syncer"
	"github.com/localrivet/researchmemory/internal/telemetry"
	"github.com/localrivet/researchmemory/internal/vector"
)

// Config represents the configuration for the research memory service.
type Config = config.Config

// Re-exported so embedding programs need not import internal packages.
type (
	Record        = memorystore.Record
	SearchRequest = search.Request
	SearchResult  = search.Result
	SyncResult    = syncer.Result
	SyncStatus    = syncer.Status
)

// similarQueryRunes caps how much of a record's content seeds FindSimilar.
const similarQueryRunes = 500

// DefaultNoteNamespace is used for notes saved without a namespace.
const DefaultNoteNamespace = "notes"

// Components are the wired collaborators behind a Server.
type Components struct {
	Store      memorystore.MemoryStore
	Summarizer summarizer.Summarizer

	// Embedder is nil when the provider is "none".
	Embedder vector.Embedder

	Searcher  *search.HybridSearcher
	Engine    *syncer.Engine
	Decisions *syncer.DecisionLog
	Sessions  *syncer.SessionDir
}

// Server represents the research memory service.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *telemetry.MetricsCollector

	store      memorystore.MemoryStore
	summarizer summarizer.Summarizer
	embedder   vector.Embedder
	searcher   *search.HybridSearcher
	engine     *syncer.Engine
	decisions  *syncer.DecisionLog
	sessions   *syncer.SessionDir

	toolServer *server.MCPToolServer
	httpServer *server.HTTPServer
}

// ServerOptions defines the options for creating a new Server.
type ServerOptions struct {
	Config     *Config // Pre-filled config. If nil, ConfigPath is used.
	ConfigPath string  // Path to config file. If both are empty, config.NewConfig() is used.

	// Logger overrides the logger built from the logging section.
	Logger *slog.Logger

	Metrics *telemetry.MetricsCollector

	// Embedder replaces the configured provider.
	Embedder vector.Embedder
}

// NewServer creates a new Server with the given options. If opts.Config is
// provided it is used directly; otherwise configuration is loaded from
// opts.ConfigPath, falling back to defaults.
func NewServer(opts ServerOptions) (*Server, error) {
	var cfg *Config
	var err error

	switch {
	case opts.Config != nil:
		cfg = opts.Config
	case opts.ConfigPath != "":
		cfg, err = config.LoadConfigWithPath(opts.ConfigPath)
		if err != nil {
			return nil, errortypes.ConfigError(err, "failed to load configuration from path: "+opts.ConfigPath)
		}
	default:
		cfg = config.NewConfig()
	}

	log := opts.Logger
	if log == nil {
		log = logger.FromSettings(cfg.Logging.Level, cfg.Logging.Format, nil)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetricsCollector()
	}

	c, err := CreateComponents(cfg, log, metrics, opts.Embedder)
	if err != nil {
		log.Error("Failed to create components during server initialization", "error", err)
		return nil, err
	}

	s := &Server{
		config:     cfg,
		logger:     log,
		metrics:    metrics,
		store:      c.Store,
		summarizer: c.Summarizer,
		embedder:   c.Embedder,
		searcher:   c.Searcher,
		engine:     c.Engine,
		decisions:  c.Decisions,
		sessions:   c.Sessions,
	}

	log.Info("Research memory server initialized",
		"root", cfg.Project.Root,
		"index", cfg.SQLitePath(),
		"vector_enabled", s.VectorEnabled())
	return s, nil
}

// CreateComponents opens the store and wires the embedder, searchers and
// sync engine described by cfg. A non-nil emb replaces the configured
// embedder provider.
func CreateComponents(cfg *Config, log *slog.Logger, metrics *telemetry.MetricsCollector, emb vector.Embedder) (*Components, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errortypes.ConfigError(err, "invalid configuration")
	}

	storeLog := logger.Component(log, "store")
	store := memorystore.NewSQLiteMemoryStore(cfg.Store.PoolSize, storeLog)
	if err := store.Initialize(cfg.SQLitePath()); err != nil {
		return nil, err
	}

	sum := summarizer.NewBasicSummarizer(cfg.Summarizer.MaxSummaryLength)
	if err := sum.Initialize(); err != nil {
		store.Close()
		return nil, errortypes.ConfigError(err, "failed to initialize summarizer")
	}

	if emb == nil {
		var err error
		emb, err = vector.NewEmbedder(vector.ProviderConfig{
			Provider:   cfg.Embedder.Provider,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimensions,
			ApiKey:     cfg.Embedder.ApiKey,
			BaseURL:    cfg.Embedder.BaseURL,
			CacheSize:  cfg.Embedder.CacheSize,
			Timeout:    cfg.EmbedTimeout(),
		}, metrics, logger.Component(log, "embedder"))
		if err != nil {
			store.Close()
			return nil, err
		}
	} else if err := emb.Initialize(); err != nil {
		store.Close()
		return nil, errortypes.ConfigError(err, "failed to initialize embedder")
	}

	searchLog := logger.Component(log, "search")
	var vec search.VectorSearcher
	if emb != nil {
		vec = search.NewLinearVectorSearcher(store, emb, cfg.EmbedTimeout(), cfg.ScanTimeout(), searchLog, metrics)
	}
	searcher := search.NewHybridSearcher(search.NewLexicalSearcher(store), vec,
		search.WithRRFK(float64(cfg.Search.RRFK)),
		search.WithDefaultTopK(cfg.Search.DefaultTopK),
		search.WithCandidateMultiplier(cfg.Search.CandidateMultiplier),
		search.WithLogger(searchLog),
		search.WithMetrics(metrics),
	)

	engine := syncer.NewEngine(store, syncer.NewProjectState(cfg.StateFilePath()),
		syncer.WithEmbedder(emb),
		syncer.WithEmbedTimeout(cfg.EmbedTimeout()),
		syncer.WithLogger(logger.Component(log, "sync")),
		syncer.WithMetrics(metrics),
	)

	return &Components{
		Store:      store,
		Summarizer: sum,
		Embedder:   emb,
		Searcher:   searcher,
		Engine:     engine,
		Decisions:  syncer.NewDecisionLog(cfg.DecisionLogPath()),
		Sessions:   syncer.NewSessionDir(cfg.SessionsDirPath()),
	}, nil
}

// Config returns the configuration the server was built from.
func (s *Server) Config() *Config {
	return s.config
}

// Metrics returns the server's metrics collector.
func (s *Server) Metrics() *telemetry.MetricsCollector {
	return s.metrics
}

// GetStore returns the memory store used by the server.
func (s *Server) GetStore() memorystore.MemoryStore {
	return s.store
}

// GetEmbedder returns the embedder, or nil when vector search is disabled.
func (s *Server) GetEmbedder() vector.Embedder {
	return s.embedder
}

// SyncDecisions applies new decision log entries to the index.
func (s *Server) SyncDecisions(ctx context.Context) (*syncer.Result, error) {
	return s.engine.Sync(ctx, s.decisions)
}

// SyncSessions applies session files to the index.
func (s *Server) SyncSessions(ctx context.Context) (*syncer.Result, error) {
	return s.engine.Sync(ctx, s.sessions)
}

// SyncProject syncs decisions, then sessions.
func (s *Server) SyncProject(ctx context.Context) (*syncer.ProjectResult, error) {
	return s.engine.SyncProject(ctx, s.decisions, s.sessions)
}

// SyncStatus reports both sources.
func (s *Server) SyncStatus(ctx context.Context) ([]*syncer.Status, error) {
	return s.engine.ProjectStatus(ctx, s.decisions, s.sessions)
}

// Search runs a hybrid search.
func (s *Server) Search(ctx context.Context, req search.Request) ([]search.Result, error) {
	return s.searcher.Search(ctx, req)
}

// VectorEnabled reports whether searches use the vector ranking.
func (s *Server) VectorEnabled() bool {
	return s.searcher.VectorEnabled()
}

// SearchDecisions searches decision records with decision-intent weights,
// within one checkpoint when checkpoint is set.
func (s *Server) SearchDecisions(ctx context.Context, query, checkpoint string, topK int) ([]search.Result, error) {
	ns := "decisions"
	if cp := strings.TrimSpace(checkpoint); cp != "" {
		ns += "." + cp
	}
	return s.searcher.Search(ctx, search.Request{
		Query:  query,
		TopK:   topK,
		Intent: search.IntentDecision,
		Filter: memorystore.Filter{NamespacePrefix: ns, Type: memorystore.TypeDecision},
	})
}

// FindSimilar returns records like id: same type, same top-level namespace,
// the record itself excluded.
func (s *Server) FindSimilar(ctx context.Context, id int64, topK int) ([]search.Result, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = s.config.Search.DefaultTopK
	}

	results, err := s.searcher.Search(ctx, search.Request{
		Query: similarQuery(rec),
		TopK:  topK + 1,
		Filter: memorystore.Filter{
			NamespacePrefix: strings.SplitN(rec.Namespace, ".", 2)[0],
			Type:            rec.Type,
		},
	})
	if err != nil {
		return nil, err
	}

	out := make([]search.Result, 0, topK)
	for _, r := range results {
		if r.Record.ID == id {
			continue
		}
		if len(out) == topK {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func similarQuery(rec *memorystore.Record) string {
	content := rec.Content
	if utf8.RuneCountInString(content) > similarQueryRunes {
		content = string([]rune(content)[:similarQueryRunes])
	}
	return strings.TrimSpace(rec.Title + "\n" + content)
}

// SaveNote stores a free-form record. Type defaults to note, namespace to
// DefaultNoteNamespace; a missing summary is generated and a missing title
// taken from it.
func (s *Server) SaveNote(ctx context.Context, note memorystore.Record) (int64, error) {
	if strings.TrimSpace(note.Content) == "" {
		return 0, errortypes.ValidationError(errors.New("content is required"), "invalid note")
	}
	if note.ExternalID != "" {
		return 0, errortypes.ValidationError(errors.New("notes cannot carry an external id"), "invalid note")
	}

	if note.Type == "" {
		note.Type = memorystore.TypeNote
	}
	if strings.TrimSpace(note.Namespace) == "" {
		note.Namespace = DefaultNoteNamespace
	}
	if note.Summary == "" {
		summary, err := s.summarizer.Summarize(note.Content)
		if err != nil {
			return 0, errortypes.InternalError(err, "failed to summarize note")
		}
		note.Summary = summary
	}
	if strings.TrimSpace(note.Title) == "" {
		note.Title = note.Summary
	}
	note.ID = 0
	note.Status = ""
	note.CreatedAt = time.Time{}
	note.Embedding = s.embedNote(ctx, note)

	id, err := s.store.Put(ctx, &note)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Saved note", "id", id, "namespace", note.Namespace, "embedded", note.Embedding != nil)
	return id, nil
}

func (s *Server) embedNote(ctx context.Context, note memorystore.Record) []float32 {
	if s.embedder == nil {
		return nil
	}
	if d := s.config.EmbedTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	emb, err := s.embedder.CreateEmbedding(ctx, note.Title+"\n"+note.Content)
	if err != nil {
		s.logger.Warn("Embedding failed, saving note without one", "error", err)
		return nil
	}
	return emb
}

// Get returns the record with id, archived or not.
func (s *Server) Get(ctx context.Context, id int64) (*memorystore.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errortypes.NotFoundError(fmt.Errorf("no memory with id %d", id), "memory not found").
			WithField("id", id)
	}
	return rec, nil
}

// Archive hides a record from search.
func (s *Server) Archive(ctx context.Context, id int64) error {
	return s.store.Archive(ctx, id)
}

// Stats summarizes the index.
func (s *Server) Stats(ctx context.Context) (*memorystore.Stats, error) {
	return s.store.Stats(ctx)
}

// EmbedderHealth probes the embedder. It reports disabled when vector search is off.
func (s *Server) EmbedderHealth(ctx context.Context) *vector.HealthReport {
	return vector.CreateHealthReport(ctx, s.embedder, s.metrics)
}

// Start serves the MCP tools on stdio until stdin closes.
func (s *Server) Start() error {
	s.toolServer = server.NewMCPToolServer(s, logger.Component(s.logger, "mcp"), s.config.RequestTimeout())
	if err := s.toolServer.Initialize(); err != nil {
		return err
	}
	s.logger.Info("Starting research memory MCP service")
	return s.toolServer.Start()
}

// StartHTTP serves the HTTP API on addr, or the configured address when addr
// is empty, until Stop is called.
func (s *Server) StartHTTP(addr string) error {
	if addr == "" {
		addr = s.config.Server.HTTPAddr
	}
	s.httpServer = server.NewHTTPServer(s, addr, s.config.RequestTimeout(), logger.Component(s.logger, "http"))
	if err := s.httpServer.Initialize(); err != nil {
		return err
	}
	return s.httpServer.Start()
}

// Stop stops any running front end and closes the store.
func (s *Server) Stop() error {
	s.logger.Info("Stopping research memory service")

	var errs []error
	if s.toolServer != nil {
		errs = append(errs, s.toolServer.Stop())
	}
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Stop())
	}
	errs = append(errs, s.Close())

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Error stopping service", "error", err)
		return err
	}
	return nil
}

// Close closes the store and any embedder client holding connections.
func (s *Server) Close() error {
	err := s.store.Close()

	emb := s.embedder
	if cached, ok := emb.(*vector.CachedEmbedder); ok {
		emb = cached.Unwrap()
	}
	if closer, ok := emb.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}

var _ server.MemoryService = (*Server)(nil)
