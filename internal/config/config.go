package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/localrivet/configurator"
)

// Config represents the research memory configuration
type Config struct {
	// Store contains storage-related configuration.
	Store struct {
		// SQLitePath is the path to the SQLite index file. Relative paths
		// resolve against Project.Root.
		SQLitePath string `json:"sqlite_path" env:"SQLITE_PATH" validate:"required"`

		// PoolSize is the number of pooled SQLite connections.
		PoolSize int `json:"pool_size" env:"SQLITE_POOL_SIZE"`
	} `json:"store"`

	// Project locates the research project whose logs are synced.
	Project struct {
		Root        string `json:"root" env:"PROJECT_ROOT"`
		ResearchDir string `json:"research_dir" env:"RESEARCH_DIR"`
		DecisionLog string `json:"decision_log" env:"DECISION_LOG"`
		StateFile   string `json:"state_file" env:"STATE_FILE"`
		SessionsDir string `json:"sessions_dir" env:"SESSIONS_DIR"`
	} `json:"project"`

	// Summarizer contains summarization-related configuration.
	Summarizer struct {
		// MaxSummaryLength caps generated note summaries, in characters.
		MaxSummaryLength int `json:"max_summary_length" env:"SUMMARIZER_MAX_LENGTH"`
	} `json:"summarizer"`

	// Embedder contains embedding-related configuration.
	Embedder struct {
		// Provider is one of "hashing", "openai", "google" or "none".
		Provider string `json:"provider" env:"EMBEDDER_PROVIDER"`

		// Model is the provider's embedding model name.
		Model string `json:"model" env:"EMBEDDER_MODEL"`

		// Dimensions is the number of dimensions for the embeddings.
		Dimensions int `json:"dimensions" env:"EMBEDDER_DIMENSIONS" validate:"min:1"`

		// ApiKey is the API key for the embedding provider.
		ApiKey string `json:"api_key" env:"EMBEDDER_API_KEY"`

		// BaseURL overrides the provider endpoint (OpenAI-compatible servers).
		BaseURL string `json:"base_url" env:"EMBEDDER_BASE_URL"`

		// CacheSize bounds the embedding LRU cache; 0 disables it.
		CacheSize int `json:"cache_size" env:"EMBEDDER_CACHE_SIZE"`

		// TimeoutMS is the deadline for one embedding call.
		TimeoutMS int `json:"timeout_ms" env:"EMBEDDER_TIMEOUT_MS"`
	} `json:"embedder"`

	// Search contains retrieval tuning.
	Search struct {
		RRFK                int `json:"rrf_k" env:"SEARCH_RRF_K"`
		DefaultTopK         int `json:"default_top_k" env:"SEARCH_TOP_K"`
		CandidateMultiplier int `json:"candidate_multiplier" env:"SEARCH_CANDIDATE_MULTIPLIER"`
		ScanTimeoutMS       int `json:"scan_timeout_ms" env:"SEARCH_SCAN_TIMEOUT_MS"`
	} `json:"search"`

	// Server contains caller-facing transport configuration.
	Server struct {
		// HTTPAddr is the listen address of the HTTP API.
		HTTPAddr string `json:"http_addr" env:"HTTP_ADDR"`

		// RequestTimeoutMS bounds one MCP tool call or HTTP request.
		RequestTimeoutMS int `json:"request_timeout_ms" env:"REQUEST_TIMEOUT_MS"`
	} `json:"server"`

	// Logging contains logging-related configuration.
	Logging struct {
		// Level is the minimum log level to display ("debug", "info", "warn", "error").
		Level string `json:"level" env:"LOG_LEVEL" validate:"required"`

		// Format is the log format to use ("text", "json").
		Format string `json:"format" env:"LOG_FORMAT"`
	} `json:"logging"`

	// Internal state (not saved to config file)
	configPath     string       `json:"-"`
	mutex          sync.RWMutex `json:"-"`
	lastModifiedAt time.Time    `json:"-"`
}

// Default configuration values
const (
	DefaultConfigFilename      = ".researchmemoryconfig"
	EnvPrefix                  = "RESEARCHMEMORY"
	DefaultSQLitePath          = ".research/memory.db"
	DefaultPoolSize            = 4
	DefaultResearchDir         = ".research"
	DefaultDecisionLog         = "decision-log.yaml"
	DefaultStateFile           = "project-state.yaml"
	DefaultSessionsDir         = "sessions"
	DefaultMaxSummaryLength    = 200
	DefaultEmbedderProvider    = "hashing"
	DefaultEmbeddingDimensions = 384
	DefaultEmbedderCacheSize   = 1024
	DefaultEmbedderTimeoutMS   = 10000
	DefaultRRFK                = 60
	DefaultTopK                = 10
	DefaultCandidateMultiplier = 2
	DefaultScanTimeoutMS       = 5000
	DefaultHTTPAddr            = "127.0.0.1:8765"
	DefaultRequestTimeoutMS    = 30000
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

// Embedder provider names
const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
	ProviderGoogle  = "google"
	ProviderNone    = "none"
)

// NewConfig creates a new Config instance with default values
func NewConfig() *Config {
	config := &Config{}
	config.Store.SQLitePath = DefaultSQLitePath
	config.Store.PoolSize = DefaultPoolSize
	config.Project.Root = "."
	config.Project.ResearchDir = DefaultResearchDir
	config.Project.DecisionLog = DefaultDecisionLog
	config.Project.StateFile = DefaultStateFile
	config.Project.SessionsDir = DefaultSessionsDir
	config.Summarizer.MaxSummaryLength = DefaultMaxSummaryLength
	config.Embedder.Provider = DefaultEmbedderProvider
	config.Embedder.Dimensions = DefaultEmbeddingDimensions
	config.Embedder.CacheSize = DefaultEmbedderCacheSize
	config.Embedder.TimeoutMS = DefaultEmbedderTimeoutMS
	config.Search.RRFK = DefaultRRFK
	config.Search.DefaultTopK = DefaultTopK
	config.Search.CandidateMultiplier = DefaultCandidateMultiplier
	config.Search.ScanTimeoutMS = DefaultScanTimeoutMS
	config.Server.HTTPAddr = DefaultHTTPAddr
	config.Server.RequestTimeoutMS = DefaultRequestTimeoutMS
	config.Logging.Level = DefaultLogLevel
	config.Logging.Format = DefaultLogFormat
	return config
}

// LoadConfig loads the configuration from the default path
func LoadConfig() (*Config, error) {
	return LoadConfigWithPath(DefaultConfigFilename)
}

// LoadConfigWithPath loads the configuration from a specific path
func LoadConfigWithPath(configPath string) (*Config, error) {
	// Configuration is loaded before the service logger exists; stdout is
	// reserved for the MCP transport.
	stdLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg := NewConfig()

	if configPath == DefaultConfigFilename {
		foundPath, err := configurator.FindConfigFile(configPath)
		if err == nil {
			configPath = foundPath
			stdLogger.Debug("Found config file at " + foundPath)
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		stdLogger.Info("Config file not found, using default configuration", "path", configPath)
		cfg.configPath = configPath
		cfg.lastModifiedAt = time.Now()
		return cfg, cfg.Validate()
	}

	stdLogger.Info("Loading configuration", "path", configPath)

	config := configurator.New(stdLogger).
		WithProvider(configurator.NewDefaultProvider()).
		WithProvider(configurator.NewFileProvider(configPath)).
		WithProvider(configurator.NewEnvProvider(EnvPrefix)).
		WithValidator(configurator.NewDefaultValidator())

	ctx := context.Background()
	if err := config.Load(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// A project root given relative to the config file follows the file.
	if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Join(filepath.Dir(configPath), cfg.Project.Root)
	}

	cfg.configPath = configPath
	cfg.lastModifiedAt = time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the semantic constraints the struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Embedder.Provider {
	case ProviderHashing, ProviderOpenAI, ProviderGoogle, ProviderNone, "":
	default:
		errs = append(errs, fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider))
	}
	if c.Embedder.CacheSize < 0 {
		errs = append(errs, errors.New("embedder.cache_size must not be negative"))
	}
	if c.Search.RRFK < 0 {
		errs = append(errs, errors.New("search.rrf_k must not be negative"))
	}
	if c.Search.DefaultTopK < 0 || c.Search.CandidateMultiplier < 0 {
		errs = append(errs, errors.New("search.default_top_k and search.candidate_multiplier must not be negative"))
	}
	if c.Store.SQLitePath == "" {
		errs = append(errs, errors.New("store.sqlite_path is required"))
	}

	return errors.Join(errs...)
}

// SaveToFile saves the configuration to the specified file
func (c *Config) SaveToFile(path string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := configurator.SaveToFile(c, path, configurator.FormatJSON); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	c.configPath = path
	c.lastModifiedAt = time.Now()

	return nil
}

// Save saves the configuration to the last used file path
func (c *Config) Save() error {
	if c.configPath == "" {
		c.configPath = DefaultConfigFilename
	}
	return c.SaveToFile(c.configPath)
}

// GetConfigPath returns the path of the currently loaded configuration file
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// resolve joins a project-relative path onto base unless it is absolute.
func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ResearchDir returns the absolute-or-root-relative research directory.
func (c *Config) ResearchDir() string {
	return resolve(c.Project.Root, c.Project.ResearchDir)
}

// DecisionLogPath returns the location of the decision log.
func (c *Config) DecisionLogPath() string {
	return resolve(c.ResearchDir(), c.Project.DecisionLog)
}

// StateFilePath returns the location of project-state.yaml, which holds the sync cursor.
func (c *Config) StateFilePath() string {
	return resolve(c.ResearchDir(), c.Project.StateFile)
}

// SessionsDirPath returns the directory of session files.
func (c *Config) SessionsDirPath() string {
	return resolve(c.ResearchDir(), c.Project.SessionsDir)
}

// SQLitePath returns the index location.
func (c *Config) SQLitePath() string {
	return resolve(c.Project.Root, c.Store.SQLitePath)
}

// EmbedTimeout returns the per-call embedder deadline.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Embedder.TimeoutMS) * time.Millisecond
}

// ScanTimeout returns the vector scan deadline.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Search.ScanTimeoutMS) * time.Millisecond
}

// RequestTimeout returns the per-request deadline for the MCP and HTTP servers.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutMS) * time.Millisecond
}
