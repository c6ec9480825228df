// Package config provides typed configuration for ingestd.
//
// Every recognized option is an explicit struct field with a default;
// nothing is read through an untyped map. Precedence, lowest to highest:
//  1. Hardcoded defaults
//  2. Config file (ingestd.yaml)
//  3. Environment variables (INGESTD_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Splitter families recognized by the chunker.
const (
	SplitterCharacter = "character"
	SplitterToken     = "token"
)

// Config is the complete ingestd configuration.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Storage     StorageConfig     `yaml:"storage"`
	Queue       QueueConfig       `yaml:"queue"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Worker      WorkerConfig      `yaml:"worker"`
	Server      ServerConfig      `yaml:"server"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	ToStderr bool   `yaml:"to_stderr"`
}

// ExtractionConfig configures the extraction chain and service.
type ExtractionConfig struct {
	// APIBaseURL is the base URL of the extraction service exposing
	// /pdf-extractor and /url-extractor. Empty disables the API strategies.
	APIBaseURL string `yaml:"api_base_url"`

	// CrawlRetries is the fixed retry count for transient crawl failures.
	CrawlRetries int `yaml:"crawl_retries"`

	// CrawlBackoff is the fixed delay between crawl retries.
	CrawlBackoff time.Duration `yaml:"crawl_backoff"`

	// RequestTimeout bounds a single extraction API call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	// Splitter selects the family: "character" (default) or "token".
	Splitter     string `yaml:"splitter"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`

	// ParentChild enables two-level chunking; ParentChunkSize is the
	// coarse granularity used for the first pass.
	ParentChild     bool `yaml:"parent_child"`
	ParentChunkSize int  `yaml:"parent_chunk_size"`
}

// EmbeddingConfig configures the embedding dispatcher.
type EmbeddingConfig struct {
	// Engine: "", "default", "sentence-transformers", "ollama", "openai".
	Engine    string `yaml:"engine"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`

	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OllamaBaseURL string `yaml:"ollama_base_url"`
	OllamaAPIKey  string `yaml:"ollama_api_key"`

	// Hybrid additionally computes sparse lexical vectors per chunk.
	Hybrid bool `yaml:"hybrid"`

	// CacheSize is the LRU query-embedding cache size; 0 disables it.
	CacheSize int `yaml:"cache_size"`
}

// VectorStoreConfig configures the vector store engine.
type VectorStoreConfig struct {
	DataDir         string `yaml:"data_dir"`
	InsertBatchSize int    `yaml:"insert_batch_size"`
}

// StorageConfig configures the storage collaborator.
type StorageConfig struct {
	// Provider: "local" (default) or "s3".
	Provider  string   `yaml:"provider"`
	UploadDir string   `yaml:"upload_dir"`
	CacheDir  string   `yaml:"cache_dir"`
	S3        S3Config `yaml:"s3"`
}

// S3Config holds S3 provider settings.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// QueueConfig configures the durable ingestion queue.
type QueueConfig struct {
	Path              string        `yaml:"path"`
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// JobsConfig configures the persisted job record store.
type JobsConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig configures the consumer pool and its retry policy.
type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryBase   time.Duration `yaml:"retry_base"`
	RetryCap    time.Duration `yaml:"retry_cap"`
}

// ServerConfig configures the extraction HTTP service.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultDataDir returns the default data directory (~/.ingestd).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ingestd")
	}
	return filepath.Join(home, ".ingestd")
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			File:     "",
			ToStderr: true,
		},
		Extraction: ExtractionConfig{
			CrawlRetries:   3,
			CrawlBackoff:   2 * time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Chunking: ChunkingConfig{
			Splitter:        SplitterCharacter,
			ChunkSize:       1000,
			ChunkOverlap:    100,
			ParentChild:     false,
			ParentChunkSize: 4000,
		},
		Embedding: EmbeddingConfig{
			Engine:        "",
			Model:         "",
			BatchSize:     32,
			OllamaBaseURL: "http://localhost:11434",
			OpenAIBaseURL: "https://api.openai.com/v1",
			Hybrid:        false,
			CacheSize:     256,
		},
		VectorStore: VectorStoreConfig{
			DataDir:         filepath.Join(dataDir, "collections"),
			InsertBatchSize: 100,
		},
		Storage: StorageConfig{
			Provider:  "local",
			UploadDir: filepath.Join(dataDir, "uploads"),
			CacheDir:  filepath.Join(dataDir, "cache"),
		},
		Queue: QueueConfig{
			Path:              filepath.Join(dataDir, "queue.db"),
			Name:              "documents",
			VisibilityTimeout: 5 * time.Minute,
		},
		Jobs: JobsConfig{
			Path: filepath.Join(dataDir, "jobs.db"),
		},
		Worker: WorkerConfig{
			Concurrency: 4,
			MaxAttempts: 3,
			RetryBase:   2 * time.Second,
			RetryCap:    10 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8070",
		},
	}
}

// Load loads configuration from path (optional) plus environment overrides,
// then validates the result.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies INGESTD_* environment variables, the highest
// precedence configuration source.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INGESTD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("INGESTD_EXTRACTION_API_URL"); v != "" {
		c.Extraction.APIBaseURL = v
	}
	if v := os.Getenv("INGESTD_EMBEDDING_ENGINE"); v != "" {
		c.Embedding.Engine = v
	}
	if v := os.Getenv("INGESTD_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("INGESTD_EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.BatchSize = n
		}
	}
	if v := os.Getenv("INGESTD_OLLAMA_BASE_URL"); v != "" {
		c.Embedding.OllamaBaseURL = v
	}
	if v := os.Getenv("INGESTD_OPENAI_BASE_URL"); v != "" {
		c.Embedding.OpenAIBaseURL = v
	}
	if v := os.Getenv("INGESTD_OPENAI_API_KEY"); v != "" {
		c.Embedding.OpenAIAPIKey = v
	}
	if v := os.Getenv("INGESTD_HYBRID"); v != "" {
		c.Embedding.Hybrid = v == "true" || v == "1"
	}
	if v := os.Getenv("INGESTD_DATA_DIR"); v != "" {
		c.VectorStore.DataDir = filepath.Join(v, "collections")
		c.Queue.Path = filepath.Join(v, "queue.db")
		c.Jobs.Path = filepath.Join(v, "jobs.db")
		c.Storage.UploadDir = filepath.Join(v, "uploads")
		c.Storage.CacheDir = filepath.Join(v, "cache")
	}
	if v := os.Getenv("INGESTD_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("INGESTD_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	switch c.Chunking.Splitter {
	case SplitterCharacter, SplitterToken:
	default:
		return fmt.Errorf("chunking.splitter must be %q or %q, got %q",
			SplitterCharacter, SplitterToken, c.Chunking.Splitter)
	}

	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ParentChild && c.Chunking.ParentChunkSize <= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.parent_chunk_size (%d) must exceed chunk_size (%d)",
			c.Chunking.ParentChunkSize, c.Chunking.ChunkSize)
	}

	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}

	if c.VectorStore.InsertBatchSize <= 0 {
		return fmt.Errorf("vector_store.insert_batch_size must be positive, got %d", c.VectorStore.InsertBatchSize)
	}

	switch c.Storage.Provider {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 provider")
		}
	default:
		return fmt.Errorf("storage.provider must be \"local\" or \"s3\", got %q", c.Storage.Provider)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive, got %d", c.Worker.MaxAttempts)
	}

	return nil
}
